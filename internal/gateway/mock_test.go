package gateway

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockDecider(t *testing.T) {
	ctx := context.Background()

	ok := NewMock(WithLatency(0), WithDecider(AlwaysSucceed()))
	res, err := ok.Charge(ctx, ChargeRequest{Method: MethodCard, Amount: decimal.NewFromInt(10), Currency: "USD"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Reference, "CHG-CARD-"))

	res, err = ok.Payout(ctx, PayoutOrder{Method: MethodBKash, Amount: decimal.NewFromInt(2), Currency: "BDT"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Reference, "PAY-BKASH-"))

	bad := NewMock(WithLatency(0), WithDecider(AlwaysDecline("insufficient funds on card")))
	res, err = bad.Charge(ctx, ChargeRequest{Method: MethodPayPal})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "insufficient funds on card", res.Reason)
	assert.Empty(t, res.Reference)
}

func TestMockRejectsUnknownMethod(t *testing.T) {
	m := NewMock(WithLatency(0), WithDecider(AlwaysSucceed()))
	res, err := m.Charge(context.Background(), ChargeRequest{Method: "CASH"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "CASH")
}

func TestMockSuccessRates(t *testing.T) {
	ctx := context.Background()
	never := NewMock(WithLatency(0), WithChargeSuccessRate(0), WithPayoutSuccessRate(1), WithRand(rand.New(rand.NewSource(1))))
	for i := 0; i < 20; i++ {
		res, err := never.Charge(ctx, ChargeRequest{Method: MethodNagad})
		require.NoError(t, err)
		assert.False(t, res.Success)

		res, err = never.Payout(ctx, PayoutOrder{Method: MethodNagad})
		require.NoError(t, err)
		assert.True(t, res.Success)
	}
}

func TestMockHonoursContext(t *testing.T) {
	m := NewMock(WithLatency(time.Second), WithDecider(AlwaysSucceed()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Charge(ctx, ChargeRequest{Method: MethodCard})
	assert.ErrorIs(t, err, context.Canceled)
}
