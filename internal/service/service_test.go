package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/richardliu001/points-ledger/internal/gateway"
	"github.com/richardliu001/points-ledger/internal/model"
	"github.com/richardliu001/points-ledger/internal/repo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	*Services
	repo *repo.Repository
	ctx  context.Context
}

var testRates = map[model.Currency]decimal.Decimal{
	model.USD: decimal.NewFromInt(100),
	model.BDT: decimal.NewFromInt(1),
	model.EUR: decimal.NewFromInt(110),
	model.GBP: decimal.NewFromInt(125),
}

func newHarness(t *testing.T, opts ...gateway.Option) *harness {
	t.Helper()
	log := zap.NewNop().Sugar()
	db, err := repo.Open("sqlite", filepath.Join(t.TempDir(), "ledger.db"), log)
	require.NoError(t, err)
	require.NoError(t, repo.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	r := repo.NewRepository(db, nil, nil, log)
	gw := gateway.NewMock(append([]gateway.Option{
		gateway.WithLatency(0),
		gateway.WithDecider(gateway.AlwaysSucceed()),
	}, opts...)...)
	h := &harness{
		Services: New(r, gw, Options{MinimumPayoutPoints: 100}, log),
		repo:     r,
		ctx:      context.Background(),
	}
	require.NoError(t, h.Rates.Seed(h.ctx, testRates, "seed-admin"))
	return h
}

// fund gives userID a COMPLETED BONUS of points.
func (h *harness) fund(t *testing.T, userID string, points int64) {
	t.Helper()
	_, _, err := h.Wallets.Credit(h.ctx, EntryRequest{
		UserID:      userID,
		Points:      points,
		Description: "welcome bonus",
	})
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, userID string) int64 {
	t.Helper()
	w, err := h.repo.GetWallet(h.ctx, h.repo.DB(h.ctx), userID)
	require.NoError(t, err)
	return w.PointsBalance
}

func (h *harness) history(t *testing.T, userID string) []model.Transaction {
	t.Helper()
	page, err := h.Ledger.History(h.ctx, HistoryQuery{UserID: userID, PageSize: maxPageSize})
	require.NoError(t, err)
	return page.Items
}

// requireReconciled checks the wallet agrees with its settled ledger entries.
func (h *harness) requireReconciled(t *testing.T, userID string) {
	t.Helper()
	sums, err := h.Ledger.CalculateBalance(h.ctx, userID)
	require.NoError(t, err)
	require.Equal(t, h.balance(t, userID), sums.Total, "wallet %s drifted from ledger", userID)
}

func (h *harness) outboxTypes(t *testing.T) []string {
	t.Helper()
	events, err := h.repo.PollOutbox(h.ctx, 0)
	require.NoError(t, err)
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventType)
	}
	return out
}
