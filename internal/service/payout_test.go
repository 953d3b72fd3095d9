package service

import (
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/richardliu001/points-ledger/internal/apperr"
	"github.com/richardliu001/points-ledger/internal/gateway"
	"github.com/richardliu001/points-ledger/internal/model"
	"github.com/richardliu001/points-ledger/internal/repo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingNotifier struct {
	mu sync.Mutex
	n  int
}

func (c *countingNotifier) Notify() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func payoutInput(userID string, points int64) PayoutInput {
	return PayoutInput{
		UserID:   userID,
		Points:   points,
		Currency: model.USD,
		Method:   gateway.MethodBankTransfer,
		Details:  map[string]interface{}{"account": "0123456789"},
	}
}

func TestRequestPayoutEscrowsPoints(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "u1", 500)
	n := &countingNotifier{}
	h.Payouts.SetNotifier(n)

	res, err := h.Payouts.RequestPayout(h.ctx, payoutInput("u1", 200))
	require.NoError(t, err)

	p := res.Payout
	assert.Equal(t, model.PayoutPending, p.Status)
	assert.True(t, decimal.RequireFromString("2.00").Equal(p.CashAmount), "cash %s", p.CashAmount)
	assert.Equal(t, int64(300), res.Wallet.PointsBalance)
	assert.Equal(t, int64(300), h.balance(t, "u1"))
	assert.Equal(t, 1, n.n)

	sale, err := h.Ledger.Get(h.ctx, p.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.TxSale, sale.Type)
	assert.Equal(t, model.StatusCompleted, sale.Status)
	assert.Equal(t, int64(-200), sale.PointsAmount)
	require.NotNil(t, sale.RelatedPayoutID)
	assert.Equal(t, p.ID, *sale.RelatedPayoutID)

	jobs, err := h.repo.ClaimSettlementJobs(h.ctx, "test", time.Now().UTC().Add(time.Second), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, p.ID, jobs[0].PayoutID)

	assert.Contains(t, h.outboxTypes(t), "PayoutRequested")
	h.requireReconciled(t, "u1")
}

func TestRequestPayoutBelowMinimumWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "u1", 500)

	_, err := h.Payouts.RequestPayout(h.ctx, payoutInput("u1", 50))
	require.ErrorIs(t, err, apperr.ErrValidation)

	assert.Equal(t, int64(500), h.balance(t, "u1"))
	assert.Len(t, h.history(t, "u1"), 1)
	_, total, err := h.Payouts.List(h.ctx, repo.PayoutFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestRequestPayoutInsufficientBalance(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "u1", 150)

	_, err := h.Payouts.RequestPayout(h.ctx, payoutInput("u1", 151))
	require.ErrorIs(t, err, apperr.ErrInsufficientBalance)
	assert.Equal(t, int64(150), h.balance(t, "u1"))

	_, err = h.Payouts.RequestPayout(h.ctx, payoutInput("nobody", 100))
	assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)
}

func TestConcurrentPayoutsNeverOverdraw(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "u1", 1000)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.Payouts.RequestPayout(h.ctx, payoutInput("u1", 600))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(400), h.balance(t, "u1"))
	h.requireReconciled(t, "u1")
}

func TestFailedSettlementRefunds(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "u1", 500)
	res, err := h.Payouts.RequestPayout(h.ctx, payoutInput("u1", 200))
	require.NoError(t, err)
	require.NoError(t, h.Payouts.MarkProcessing(h.ctx, res.Payout.ID))

	p, err := h.Payouts.Settle(h.ctx, res.Payout.ID, false, "", "account closed")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutFailed, p.Status)
	assert.Equal(t, "account closed", p.FailureReason)
	require.NotNil(t, p.RefundTransactionID)

	refund, err := h.Ledger.Get(h.ctx, *p.RefundTransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.TxRefund, refund.Type)
	assert.Equal(t, int64(200), refund.PointsAmount)
	assert.Equal(t, model.StatusCompleted, refund.Status)

	assert.Equal(t, int64(500), h.balance(t, "u1"))
	assert.Len(t, h.history(t, "u1"), 3)
	assert.Contains(t, h.outboxTypes(t), "PayoutFailed")
	h.requireReconciled(t, "u1")
}

func TestLongFailureReasonFitsColumns(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "u1", 500)
	res, err := h.Payouts.RequestPayout(h.ctx, payoutInput("u1", 200))
	require.NoError(t, err)

	reason := strings.Repeat("ব্যাংক অ্যাকাউন্ট বন্ধ ", 30)
	p, err := h.Payouts.Settle(h.ctx, res.Payout.ID, false, "", reason)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(p.FailureReason))
	assert.Equal(t, model.MaxTextLength, utf8.RuneCountInString(p.FailureReason))

	refund, err := h.Ledger.Get(h.ctx, *p.RefundTransactionID)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(refund.Description))
	assert.LessOrEqual(t, utf8.RuneCountInString(refund.Description), model.MaxTextLength)
	assert.True(t, strings.HasPrefix(refund.Description, "Refund of payout "+p.ID))
	h.requireReconciled(t, "u1")
}

func TestSettleIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "u1", 500)
	res, err := h.Payouts.RequestPayout(h.ctx, payoutInput("u1", 200))
	require.NoError(t, err)

	p, err := h.Payouts.Settle(h.ctx, res.Payout.ID, true, "PAY-1", "")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutCompleted, p.Status)
	assert.Equal(t, "PAY-1", p.PaymentReference)
	assert.Nil(t, p.RefundTransactionID)

	_, err = h.Payouts.Settle(h.ctx, res.Payout.ID, false, "", "late failure")
	assert.ErrorIs(t, err, apperr.ErrImmutableTransaction)
	_, err = h.Payouts.Settle(h.ctx, res.Payout.ID, true, "PAY-2", "")
	assert.ErrorIs(t, err, apperr.ErrImmutableTransaction)

	got, err := h.Payouts.Get(h.ctx, res.Payout.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PayoutCompleted, got.Status)
	assert.Equal(t, "PAY-1", got.PaymentReference)
	assert.Equal(t, int64(300), h.balance(t, "u1"))
	assert.Len(t, h.history(t, "u1"), 2)
	h.requireReconciled(t, "u1")
}

func TestCancelPayout(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "u1", 500)
	res, err := h.Payouts.RequestPayout(h.ctx, payoutInput("u1", 300))
	require.NoError(t, err)

	_, err = h.Payouts.Cancel(h.ctx, res.Payout.ID, "intruder")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, int64(200), h.balance(t, "u1"))

	p, err := h.Payouts.Cancel(h.ctx, res.Payout.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutCancelled, p.Status)
	require.NotNil(t, p.RefundTransactionID)
	assert.Equal(t, int64(500), h.balance(t, "u1"))

	_, err = h.Payouts.Cancel(h.ctx, res.Payout.ID, "u1")
	assert.ErrorIs(t, err, apperr.ErrImmutableTransaction)
	assert.Equal(t, int64(500), h.balance(t, "u1"))
	h.requireReconciled(t, "u1")
}

func TestCancelAfterProcessingStarted(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "u1", 500)
	res, err := h.Payouts.RequestPayout(h.ctx, payoutInput("u1", 300))
	require.NoError(t, err)
	require.NoError(t, h.Payouts.MarkProcessing(h.ctx, res.Payout.ID))

	_, err = h.Payouts.Cancel(h.ctx, res.Payout.ID, "u1")
	assert.ErrorIs(t, err, apperr.ErrImmutableTransaction)
	assert.ErrorIs(t, h.Payouts.MarkProcessing(h.ctx, res.Payout.ID), apperr.ErrImmutableTransaction)
	assert.ErrorIs(t, h.Payouts.MarkProcessing(h.ctx, "missing"), apperr.ErrNotFound)
}

func TestRequestPayoutIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "u1", 1000)
	in := payoutInput("u1", 400)
	in.IdempotencyKey = "withdraw-1"

	first, err := h.Payouts.RequestPayout(h.ctx, in)
	require.NoError(t, err)
	second, err := h.Payouts.RequestPayout(h.ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.Payout.ID, second.Payout.ID)
	assert.Equal(t, int64(600), h.balance(t, "u1"))
}
