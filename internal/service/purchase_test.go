package service

import (
	"errors"
	"testing"
	"time"

	"github.com/richardliu001/points-ledger/internal/apperr"
	"github.com/richardliu001/points-ledger/internal/gateway"
	"github.com/richardliu001/points-ledger/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuyPointsCreditsWallet(t *testing.T) {
	h := newHarness(t)

	res, err := h.Purchases.BuyPoints(h.ctx, PurchaseRequest{
		UserID:     "alice",
		CashAmount: decimal.NewFromInt(10),
		Currency:   model.USD,
		Method:     gateway.MethodCard,
	})
	require.NoError(t, err)

	tx := res.Transaction
	assert.Equal(t, model.TxPurchase, tx.Type)
	assert.Equal(t, model.StatusCompleted, tx.Status)
	assert.Equal(t, int64(1000), tx.PointsAmount)
	assert.True(t, decimal.NewFromInt(10).Equal(tx.CashAmount), "cash_amount %s", tx.CashAmount)
	assert.True(t, decimal.NewFromInt(100).Equal(tx.ExchangeRate))
	assert.Contains(t, tx.PaymentReference, "CHG-CARD-")
	require.NotNil(t, tx.BalanceAfter)
	assert.Equal(t, int64(1000), *tx.BalanceAfter)
	assert.NotNil(t, tx.CompletedAt)

	assert.Equal(t, int64(1000), res.Wallet.PointsBalance)
	assert.Equal(t, int64(1000), h.balance(t, "alice"))
	assert.Len(t, h.history(t, "alice"), 1)
	assert.Contains(t, h.outboxTypes(t), "PointsPurchased")
	h.requireReconciled(t, "alice")
}

func TestBuyPointsDeclineLeavesFailedRecord(t *testing.T) {
	h := newHarness(t, gateway.WithDecider(gateway.AlwaysDecline("card expired")))

	_, err := h.Purchases.BuyPoints(h.ctx, PurchaseRequest{
		UserID:     "bob",
		CashAmount: decimal.NewFromInt(5),
		Currency:   model.USD,
		Method:     gateway.MethodCard,
	})
	require.ErrorIs(t, err, apperr.ErrPaymentGateway)
	var pgf *apperr.PaymentGatewayFailure
	require.True(t, errors.As(err, &pgf))
	assert.Equal(t, "card expired", pgf.Reason)

	items := h.history(t, "bob")
	require.Len(t, items, 1)
	assert.Equal(t, model.StatusFailed, items[0].Status)
	assert.Equal(t, "card expired", items[0].FailureReason)
	assert.Equal(t, pgf.TransactionID, items[0].ID)

	w, err := h.Wallets.Balance(h.ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, w.PointsBalance)
	assert.Contains(t, h.outboxTypes(t), "PurchaseFailed")
	h.requireReconciled(t, "bob")
}

func TestBuyPointsRejectsSubPointAmount(t *testing.T) {
	h := newHarness(t)

	_, err := h.Purchases.BuyPoints(h.ctx, PurchaseRequest{
		UserID:     "carol",
		CashAmount: decimal.RequireFromString("0.50"),
		Currency:   model.BDT,
		Method:     gateway.MethodBKash,
	})
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, h.history(t, "carol"))
}

func TestBuyPointsValidation(t *testing.T) {
	h := newHarness(t)
	base := PurchaseRequest{UserID: "dave", CashAmount: decimal.NewFromInt(1), Currency: model.USD, Method: gateway.MethodCard}

	cases := map[string]func(r *PurchaseRequest){
		"missing user":     func(r *PurchaseRequest) { r.UserID = " " },
		"zero cash":        func(r *PurchaseRequest) { r.CashAmount = decimal.Zero },
		"negative cash":    func(r *PurchaseRequest) { r.CashAmount = decimal.NewFromInt(-3) },
		"unknown currency": func(r *PurchaseRequest) { r.Currency = "JPY" },
		"unknown method":   func(r *PurchaseRequest) { r.Method = "CHEQUE" },
		"sub-cent cash":    func(r *PurchaseRequest) { r.CashAmount = decimal.RequireFromString("10.005") },
		"over maximum":     func(r *PurchaseRequest) { r.CashAmount = decimal.RequireFromString("100000.01") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := base
			mutate(&req)
			_, err := h.Purchases.BuyPoints(h.ctx, req)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
	assert.Empty(t, h.history(t, "dave"))
}

func TestBuyPointsCashBoundaries(t *testing.T) {
	h := newHarness(t)

	res, err := h.Purchases.BuyPoints(h.ctx, PurchaseRequest{
		UserID:     "gus",
		CashAmount: decimal.RequireFromString("100000.000"),
		Currency:   model.USD,
		Method:     gateway.MethodCard,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10000000), res.Transaction.PointsAmount)
	assert.True(t, res.Transaction.CashAmount.Equal(decimal.NewFromInt(100000)))

	// a cap large enough to let the product overflow int64
	gw := gateway.NewMock(gateway.WithLatency(0), gateway.WithDecider(gateway.AlwaysSucceed()))
	wide := New(h.repo, gw, Options{MaxPurchaseAmount: decimal.RequireFromString("1e20")}, zap.NewNop().Sugar())
	for _, cash := range []string{"92233720368547758.08", "184467440737095516.17", "1e20"} {
		_, err := wide.Purchases.BuyPoints(h.ctx, PurchaseRequest{
			UserID:     "hal",
			CashAmount: decimal.RequireFromString(cash),
			Currency:   model.USD,
			Method:     gateway.MethodCard,
		})
		assert.ErrorIs(t, err, apperr.ErrValidation, cash)
	}
	assert.Empty(t, h.history(t, "hal"))
	_, err = h.repo.GetWallet(h.ctx, h.repo.DB(h.ctx), "hal")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestBuyPointsIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	req := PurchaseRequest{
		UserID:         "erin",
		CashAmount:     decimal.NewFromInt(2),
		Currency:       model.EUR,
		Method:         gateway.MethodPayPal,
		IdempotencyKey: "order-77",
	}

	first, err := h.Purchases.BuyPoints(h.ctx, req)
	require.NoError(t, err)
	second, err := h.Purchases.BuyPoints(h.ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Equal(t, int64(220), h.balance(t, "erin"))
	assert.Len(t, h.history(t, "erin"), 1)
}

func TestBuyPointsWithoutRate(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.repo.DeactivateRate(h.ctx, h.repo.DB(h.ctx), model.GBP, time.Now()))

	_, err := h.Purchases.BuyPoints(h.ctx, PurchaseRequest{
		UserID:     "fay",
		CashAmount: decimal.NewFromInt(1),
		Currency:   model.GBP,
		Method:     gateway.MethodCard,
	})
	assert.ErrorIs(t, err, apperr.ErrNoActiveRate)
	assert.Empty(t, h.history(t, "fay"))
}
