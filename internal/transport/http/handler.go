package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/points-ledger/internal/gateway"
	"github.com/richardliu001/points-ledger/internal/model"
	"github.com/richardliu001/points-ledger/internal/repo"
	"github.com/richardliu001/points-ledger/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type handler struct {
	svc *service.Services
	log *zap.SugaredLogger
}

func ratesHandler(h *handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		rates, err := h.svc.Rates.CurrentRates(c.Request.Context())
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"rates": rates})
	}
}

func walletHandler(h *handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		w, err := h.svc.Wallets.Balance(c.Request.Context(), c.Param("user_id"))
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"wallet": w, "available_balance": w.AvailableBalance()})
	}
}

func historyHandler(h *handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := service.HistoryQuery{
			UserID: c.Param("user_id"),
			Type:   model.TransactionType(strings.ToUpper(c.Query("type"))),
			Status: model.TransactionStatus(strings.ToUpper(c.Query("status"))),
		}
		var err error
		if q.Page, err = intQuery(c, "page", 1); err != nil {
			badRequest(c, "invalid page")
			return
		}
		if q.PageSize, err = intQuery(c, "limit", 0); err != nil {
			badRequest(c, "invalid limit")
			return
		}
		if q.From, err = timeQuery(c, "from"); err != nil {
			badRequest(c, "invalid from")
			return
		}
		if q.To, err = timeQuery(c, "to"); err != nil {
			badRequest(c, "invalid to")
			return
		}
		page, err := h.svc.Ledger.History(c.Request.Context(), q)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

type purchaseReq struct {
	CashAmount     string                 `json:"cash_amount" binding:"required"`
	Currency       string                 `json:"currency" binding:"required"`
	PaymentMethod  string                 `json:"payment_method" binding:"required"`
	PaymentDetails map[string]interface{} `json:"payment_details"`
	IdempotencyKey string                 `json:"idempotency_key"`
}

func purchaseHandler(h *handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req purchaseReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		cash, err := decimal.NewFromString(req.CashAmount)
		if err != nil {
			badRequest(c, "invalid cash_amount")
			return
		}
		res, err := h.svc.Purchases.BuyPoints(c.Request.Context(), service.PurchaseRequest{
			UserID:         c.Param("user_id"),
			CashAmount:     cash,
			Currency:       model.Currency(strings.ToUpper(req.Currency)),
			Method:         gateway.Method(strings.ToUpper(req.PaymentMethod)),
			Details:        req.PaymentDetails,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}

type payoutReq struct {
	Points         int64                  `json:"points" binding:"required"`
	Currency       string                 `json:"currency" binding:"required"`
	PayoutMethod   string                 `json:"payout_method" binding:"required"`
	PayoutDetails  map[string]interface{} `json:"payout_details"`
	IdempotencyKey string                 `json:"idempotency_key"`
}

func payoutHandler(h *handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req payoutReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		res, err := h.svc.Payouts.RequestPayout(c.Request.Context(), service.PayoutInput{
			UserID:         c.Param("user_id"),
			Points:         req.Points,
			Currency:       model.Currency(strings.ToUpper(req.Currency)),
			Method:         gateway.Method(strings.ToUpper(req.PayoutMethod)),
			Details:        req.PayoutDetails,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, res)
	}
}

func userPayoutsHandler(h *handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := intQuery(c, "limit", 0)
		offset, _ := intQuery(c, "offset", 0)
		items, total, err := h.svc.Payouts.List(c.Request.Context(), repo.PayoutFilter{
			UserID: c.Param("user_id"),
			Status: model.PayoutStatus(strings.ToUpper(c.Query("status"))),
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

func getPayoutHandler(h *handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := h.svc.Payouts.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.fail(c, err)
			return
		}
		if p.UserID != subject(c) && c.GetString(ctxRole) != RoleAdmin {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func cancelPayoutHandler(h *handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := h.svc.Payouts.Cancel(c.Request.Context(), c.Param("id"), subject(c))
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

type entryReq struct {
	Points         int64                  `json:"points" binding:"required"`
	Type           string                 `json:"type"`
	Description    string                 `json:"description" binding:"required"`
	IdempotencyKey string                 `json:"idempotency_key"`
	Metadata       map[string]interface{} `json:"metadata"`
}

// entryHandler serves the internal credit and debit calls made by other
// platform services.
func entryHandler(h *handler, credit bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req entryReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		er := service.EntryRequest{
			UserID:         c.Param("user_id"),
			Type:           model.TransactionType(strings.ToUpper(req.Type)),
			Points:         req.Points,
			Description:    req.Description,
			IdempotencyKey: req.IdempotencyKey,
			Metadata:       req.Metadata,
		}
		apply := h.svc.Wallets.Debit
		if credit {
			apply = h.svc.Wallets.Credit
		}
		tx, w, err := apply(c.Request.Context(), er)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transaction": tx, "wallet": w})
	}
}

func balanceCheckHandler(h *handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		amount, err := strconv.ParseInt(c.Query("amount"), 10, 64)
		if err != nil || amount < 0 {
			badRequest(c, "invalid amount")
			return
		}
		ok, err := h.svc.Wallets.HasSufficientBalance(c.Request.Context(), c.Param("user_id"), amount)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sufficient": ok})
	}
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func timeQuery(c *gin.Context, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
