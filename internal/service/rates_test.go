package service

import (
	"strings"
	"sync"
	"testing"

	"github.com/richardliu001/points-ledger/internal/apperr"
	"github.com/richardliu001/points-ledger/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversions(t *testing.T) {
	cases := []struct {
		cash, rate string
		points     int64
	}{
		{"10", "100", 1000},
		{"10.999", "100", 1099},
		{"0.009", "100", 0},
		{"3", "1.5", 4},
	}
	for _, c := range cases {
		got, err := PointsFor(decimal.RequireFromString(c.cash), decimal.RequireFromString(c.rate))
		require.NoError(t, err)
		assert.Equal(t, c.points, got, "%s at %s", c.cash, c.rate)
	}

	// products past int64 used to wrap to 1, MinInt64 and other garbage
	for _, cash := range []string{"92233720368547758.08", "184467440737095516.17", "1e20"} {
		_, err := PointsFor(decimal.RequireFromString(cash), decimal.NewFromInt(100))
		assert.ErrorIs(t, err, errPointsOverflow, cash)
	}
	edge, err := PointsFor(decimal.RequireFromString("92233720368547758.07"), decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, int64(9223372036854775807), edge)

	cash := []struct {
		points int64
		rate   string
		want   string
	}{
		{200, "100", "2"},
		{333, "100", "3.33"},
		{2, "3", "0.67"},
		{1, "3", "0.33"},
		{5, "200", "0.03"},
	}
	for _, c := range cash {
		got := CashFor(c.points, decimal.RequireFromString(c.rate))
		assert.True(t, decimal.RequireFromString(c.want).Equal(got), "%d at %s gave %s", c.points, c.rate, got)
	}
}

func TestSetNewRateKeepsOneActive(t *testing.T) {
	h := newHarness(t)

	_, err := h.Rates.SetNewRate(h.ctx, model.USD, decimal.NewFromInt(120), "admin-1", "promo week")
	require.NoError(t, err)

	r, err := h.Rates.GetCurrentRate(h.ctx, model.USD)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(120).Equal(r.Rate))

	history, err := h.Rates.History(h.ctx, model.USD, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	active := 0
	for _, r := range history {
		if r.IsActive {
			active++
		} else {
			assert.NotNil(t, r.EffectiveUntil)
		}
	}
	assert.Equal(t, 1, active)
	assert.Contains(t, h.outboxTypes(t), "ExchangeRateChanged")
}

func TestSetNewRateConcurrent(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = h.Rates.SetNewRate(h.ctx, model.EUR, decimal.NewFromInt(int64(100+i)), "admin-1", "burst")
		}(i)
	}
	wg.Wait()

	history, err := h.Rates.History(h.ctx, model.EUR, 0)
	require.NoError(t, err)
	active := 0
	for _, r := range history {
		if r.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestSetNewRateValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.Rates.SetNewRate(h.ctx, model.USD, decimal.NewFromInt(1), "", "x")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = h.Rates.SetNewRate(h.ctx, model.USD, decimal.Zero, "a", "x")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = h.Rates.SetNewRate(h.ctx, "XYZ", decimal.NewFromInt(1), "a", "x")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = h.Rates.SetNewRate(h.ctx, model.USD, decimal.NewFromInt(1), "a", " ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = h.Rates.SetNewRate(h.ctx, model.USD, decimal.NewFromInt(1), "a", strings.Repeat("r", 201))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCurrentRatesDisplay(t *testing.T) {
	h := newHarness(t)

	views, err := h.Rates.CurrentRates(h.ctx)
	require.NoError(t, err)
	require.Len(t, views, len(model.SupportedCurrencies))
	byCurrency := map[model.Currency]string{}
	for _, v := range views {
		byCurrency[v.Currency] = v.Display
	}
	assert.Equal(t, "1 USD = 100 points", byCurrency[model.USD])
	assert.Equal(t, "1 BDT = 1 points", byCurrency[model.BDT])

	points, rate, err := h.Rates.CalculatePoints(h.ctx, model.GBP, decimal.NewFromInt(2))
	require.NoError(t, err)
	assert.Equal(t, int64(250), points)
	assert.Equal(t, model.GBP, rate.Currency)
}
