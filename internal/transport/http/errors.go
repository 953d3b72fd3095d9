package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/points-ledger/internal/apperr"
)

// statusOf maps service errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrPaymentGateway):
		return http.StatusPaymentRequired
	case errors.Is(err, apperr.ErrInsufficientBalance), errors.Is(err, apperr.ErrNoActiveRate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrImmutableTransaction), errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) fail(c *gin.Context, err error) {
	status := statusOf(err)
	body := gin.H{"error": err.Error()}
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field
	}
	var pgf *apperr.PaymentGatewayFailure
	if errors.As(err, &pgf) {
		body["transaction_id"] = pgf.TransactionID
	}
	if status == http.StatusInternalServerError {
		h.log.Errorw("request failed", "path", c.FullPath(), "error", err)
		body["error"] = "internal error"
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
