package service

import (
	"math/rand"
	"testing"

	"github.com/richardliu001/points-ledger/internal/apperr"
	"github.com/richardliu001/points-ledger/internal/gateway"
	"github.com/richardliu001/points-ledger/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletService_CreditDebitFlow(t *testing.T) {
	h := newHarness(t)

	w, err := h.Wallets.GetOrCreate(h.ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, w.PointsBalance)
	assert.Equal(t, "USD", w.DefaultCurrency)

	tx, w, err := h.Wallets.Credit(h.ctx, EntryRequest{UserID: "u1", Points: 100, Description: "signup bonus"})
	require.NoError(t, err)
	assert.Equal(t, model.TxBonus, tx.Type)
	assert.Equal(t, model.StatusCompleted, tx.Status)
	assert.Equal(t, int64(100), w.PointsBalance)

	// overdraw rejected, nothing written
	_, _, err = h.Wallets.Debit(h.ctx, EntryRequest{UserID: "u1", Points: 130, Description: "course 42"})
	assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)
	assert.Len(t, h.history(t, "u1"), 1)

	tx, w, err = h.Wallets.Debit(h.ctx, EntryRequest{UserID: "u1", Points: 30, Description: "course 42", IdempotencyKey: "enroll-42"})
	require.NoError(t, err)
	assert.Equal(t, model.TxEnrollment, tx.Type)
	assert.Equal(t, int64(-30), tx.PointsAmount)
	require.NotNil(t, tx.BalanceAfter)
	assert.Equal(t, int64(70), *tx.BalanceAfter)
	assert.Equal(t, int64(70), w.PointsBalance)

	// same key replays the first debit
	again, w, err := h.Wallets.Debit(h.ctx, EntryRequest{UserID: "u1", Points: 30, Description: "course 42", IdempotencyKey: "enroll-42"})
	require.NoError(t, err)
	assert.Equal(t, tx.ID, again.ID)
	assert.Equal(t, int64(70), w.PointsBalance)

	stored, err := h.repo.GetWallet(h.ctx, h.repo.DB(h.ctx), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), stored.TotalPointsEarned)
	assert.Equal(t, int64(30), stored.TotalPointsSpent)
	h.requireReconciled(t, "u1")
}

func TestWalletService_RejectsForeignTypes(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.Wallets.Credit(h.ctx, EntryRequest{UserID: "u1", Type: model.TxPurchase, Points: 5, Description: "x"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, _, err = h.Wallets.Debit(h.ctx, EntryRequest{UserID: "u1", Type: model.TxSale, Points: 5, Description: "x"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, _, err = h.Wallets.Credit(h.ctx, EntryRequest{UserID: "u1", Points: 0, Description: "x"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, _, err = h.Wallets.Credit(h.ctx, EntryRequest{UserID: "u1", Points: 5})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestHasSufficientBalanceUsesAvailable(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "u1", 100)
	require.NoError(t, h.repo.DB(h.ctx).Model(&model.Wallet{}).Where("user_id = ?", "u1").
		Update("reserved_points", 40).Error)

	ok, err := h.Wallets.HasSufficientBalance(h.ctx, "u1", 60)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = h.Wallets.HasSufficientBalance(h.ctx, "u1", 61)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = h.Wallets.HasSufficientBalance(h.ctx, "ghost", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

// Random interleavings of every balance-changing operation must keep each
// wallet equal to the sum of its settled ledger entries.
func TestLedgerConservationUnderRandomOperations(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	h := newHarness(t,
		gateway.WithDecider(nil),
		gateway.WithRand(rand.New(rand.NewSource(11))),
		gateway.WithChargeSuccessRate(0.7),
	)
	users := []string{"ann", "ben", "cat"}
	var payouts []string

	for i := 0; i < 120; i++ {
		user := users[rnd.Intn(len(users))]
		switch rnd.Intn(7) {
		case 0:
			_, _ = h.Purchases.BuyPoints(h.ctx, PurchaseRequest{
				UserID:     user,
				CashAmount: decimal.NewFromInt(int64(1 + rnd.Intn(5))),
				Currency:   model.USD,
				Method:     gateway.MethodCard,
			})
		case 1:
			_, _, _ = h.Wallets.Credit(h.ctx, EntryRequest{UserID: user, Points: int64(1 + rnd.Intn(300)), Description: "bonus"})
		case 2:
			_, _, _ = h.Wallets.Debit(h.ctx, EntryRequest{UserID: user, Points: int64(1 + rnd.Intn(300)), Description: "enrollment"})
		case 3:
			res, err := h.Payouts.RequestPayout(h.ctx, payoutInput(user, int64(100+rnd.Intn(200))))
			if err == nil {
				payouts = append(payouts, res.Payout.ID)
			}
		case 4:
			if len(payouts) > 0 {
				_, _ = h.Payouts.Settle(h.ctx, payouts[rnd.Intn(len(payouts))], rnd.Intn(2) == 0, "PAY-R", "random failure")
			}
		case 5:
			if len(payouts) > 0 {
				_, _ = h.Payouts.Cancel(h.ctx, payouts[rnd.Intn(len(payouts))], user)
			}
		case 6:
			kind := AdjustCredit
			if rnd.Intn(2) == 0 {
				kind = AdjustDebit
			}
			_, _ = h.Admin.AdjustBalance(h.ctx, AdjustRequest{
				AdminID: "root", UserID: user, Points: int64(1 + rnd.Intn(200)), Kind: kind, Reason: "support ticket adjustment",
			})
		}
	}

	for _, u := range users {
		w, err := h.Wallets.GetOrCreate(h.ctx, u)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, w.PointsBalance, int64(0))
	}
	mismatches, err := h.Admin.Reconcile(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}
