package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/points-ledger/internal/model"
	"github.com/richardliu001/points-ledger/internal/repo"
	"github.com/richardliu001/points-ledger/internal/service"
	"github.com/shopspring/decimal"
)

type setRateReq struct {
	Currency string `json:"currency" binding:"required"`
	Rate     string `json:"rate" binding:"required"`
	Reason   string `json:"reason" binding:"required"`
}

func setRateHandler(h *handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req setRateReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		rate, err := decimal.NewFromString(req.Rate)
		if err != nil {
			badRequest(c, "invalid rate")
			return
		}
		r, err := h.svc.Admin.SetRate(c.Request.Context(), subject(c), model.Currency(strings.ToUpper(req.Currency)), rate, req.Reason)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, r)
	}
}

func rateHistoryHandler(h *handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := intQuery(c, "limit", 0)
		if err != nil {
			badRequest(c, "invalid limit")
			return
		}
		rates, err := h.svc.Admin.RateHistory(c.Request.Context(), subject(c), model.Currency(strings.ToUpper(c.Param("currency"))), limit)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"rates": rates})
	}
}

type adjustReq struct {
	Points int64  `json:"points" binding:"required"`
	Kind   string `json:"kind" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

func adjustHandler(h *handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req adjustReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		tx, err := h.svc.Admin.AdjustBalance(c.Request.Context(), service.AdjustRequest{
			AdminID: subject(c),
			UserID:  c.Param("user_id"),
			Points:  req.Points,
			Kind:    service.AdjustKind(strings.ToUpper(req.Kind)),
			Reason:  req.Reason,
		})
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, tx)
	}
}

func walletDetailsHandler(h *handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := h.svc.Admin.GetUserWalletDetails(c.Request.Context(), subject(c), c.Param("user_id"))
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

func adminPayoutsHandler(h *handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := intQuery(c, "limit", 0)
		offset, _ := intQuery(c, "offset", 0)
		items, total, err := h.svc.Admin.ListPayouts(c.Request.Context(), subject(c), repo.PayoutFilter{
			UserID: c.Query("user_id"),
			Status: model.PayoutStatus(strings.ToUpper(c.DefaultQuery("status", string(model.PayoutPending)))),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
	}
}

type reviewReq struct {
	Reason    string `json:"reason"`
	Reference string `json:"reference"`
}

func reviewPayoutHandler(h *handler, action service.PayoutAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reviewReq
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err.Error())
				return
			}
		}
		note := req.Reason
		if action == service.ApprovePayout {
			note = req.Reference
		}
		p, err := h.svc.Admin.ProcessPayout(c.Request.Context(), subject(c), c.Param("id"), action, note)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

type reverseReq struct {
	Reason string `json:"reason" binding:"required"`
}

func reverseHandler(h *handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reverseReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		tx, err := h.svc.Admin.ReverseTransaction(c.Request.Context(), subject(c), c.Param("id"), req.Reason)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, tx)
	}
}

func statsHandler(h *handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := h.svc.Admin.Stats(c.Request.Context(), subject(c))
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}
