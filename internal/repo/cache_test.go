package repo

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/richardliu001/points-ledger/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWalletCache(t *testing.T) {
	ctx := context.Background()
	rdb, mock := redismock.NewClientMock()
	r := NewRepository(nil, rdb, nil, zap.NewNop().Sugar())

	w := &model.Wallet{UserID: "u1", PointsBalance: 1000, TotalPointsEarned: 1000, DefaultCurrency: "USD"}
	b, err := json.Marshal(w)
	require.NoError(t, err)
	keys := []string{"wallet:u1", "wallet:u1:gen"}

	mock.ExpectGet("wallet:u1").RedisNil()
	mock.ExpectGet("wallet:u1:gen").RedisNil()
	mock.ExpectEval(cacheWalletScript, keys, string(b), "0", "300000").SetVal(int64(1))
	mock.ExpectGet("wallet:u1").SetVal(string(b))
	mock.ExpectEval(invalidateWalletScript, keys, "86400000").SetVal(int64(1))

	_, err = r.GetCachedWallet(ctx, "u1")
	assert.ErrorIs(t, err, redis.Nil)

	gen, err := r.WalletCacheGeneration(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, gen)
	require.NoError(t, r.CacheWallet(ctx, w, gen))

	got, err := r.GetCachedWallet(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.PointsBalance)

	require.NoError(t, r.InvalidateWallet(ctx, "u1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheWalletCarriesGeneration(t *testing.T) {
	ctx := context.Background()
	rdb, mock := redismock.NewClientMock()
	r := NewRepository(nil, rdb, nil, zap.NewNop().Sugar())

	w := &model.Wallet{UserID: "u2", PointsBalance: 40, DefaultCurrency: "USD"}
	b, err := json.Marshal(w)
	require.NoError(t, err)

	// an invalidation landed between the generation read and the write;
	// the script sees gen 4 != 3 and skips the SET
	mock.ExpectGet("wallet:u2:gen").SetVal("3")
	mock.ExpectEval(cacheWalletScript, []string{"wallet:u2", "wallet:u2:gen"}, string(b), "3", "300000").SetVal(int64(0))

	gen, err := r.WalletCacheGeneration(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(3), gen)
	require.NoError(t, r.CacheWallet(ctx, w, gen))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateCache(t *testing.T) {
	ctx := context.Background()
	rdb, mock := redismock.NewClientMock()
	r := NewRepository(nil, rdb, nil, zap.NewNop().Sugar())

	rate := &model.ExchangeRate{ID: "r1", Currency: model.BDT, Rate: decimal.RequireFromString("0.85"), IsActive: true}
	b, err := json.Marshal(rate)
	require.NoError(t, err)

	mock.ExpectSet("rate:BDT", b, time.Minute).SetVal("OK")
	mock.ExpectGet("rate:BDT").SetVal(string(b))
	mock.ExpectDel("rate:BDT").SetVal(1)

	require.NoError(t, r.CacheRate(ctx, rate))
	got, err := r.GetCachedRate(ctx, model.BDT)
	require.NoError(t, err)
	assert.True(t, got.Rate.Equal(decimal.RequireFromString("0.85")))
	require.NoError(t, r.InvalidateRate(ctx, model.BDT))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheDisabledWithoutRedis(t *testing.T) {
	ctx := context.Background()
	r := NewRepository(nil, nil, nil, zap.NewNop().Sugar())

	assert.NoError(t, r.CacheWallet(ctx, &model.Wallet{UserID: "u1"}, 0))
	_, err := r.GetCachedWallet(ctx, "u1")
	assert.ErrorIs(t, err, redis.Nil)
	gen, err := r.WalletCacheGeneration(ctx, "u1")
	assert.NoError(t, err)
	assert.Zero(t, gen)
	_, err = r.GetCachedRate(ctx, model.USD)
	assert.ErrorIs(t, err, redis.Nil)
}
