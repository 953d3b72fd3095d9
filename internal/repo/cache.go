package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/points-ledger/internal/model"
)

const (
	walletTTL = 5 * time.Minute
	rateTTL   = time.Minute
	// genTTL outlives any read that started before the bump.
	genTTL = 24 * time.Hour
)

func walletKey(userID string) string { return fmt.Sprintf("wallet:%s", userID) }

func walletGenKey(userID string) string { return fmt.Sprintf("wallet:%s:gen", userID) }

func rateKey(c model.Currency) string { return fmt.Sprintf("rate:%s", c) }

// The wallet entry is written only while the generation still matches the one
// read before the database load, so a reader that raced a committed mutation
// cannot put the old row back.
const (
	cacheWalletScript = `if (redis.call('GET', KEYS[2]) or '0') ~= ARGV[2] then return 0 end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1`
	invalidateWalletScript = `redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
return redis.call('DEL', KEYS[1])`
)

// WalletCacheGeneration returns the invalidation counter for userID. Read it
// before loading the wallet and pass it to CacheWallet.
func (r *Repository) WalletCacheGeneration(ctx context.Context, userID string) (int64, error) {
	if r.rdb == nil {
		return 0, nil
	}
	gen, err := r.rdb.Get(ctx, walletGenKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// CacheWallet writes Redis unless the wallet was invalidated after gen was read.
func (r *Repository) CacheWallet(ctx context.Context, w *model.Wallet, gen int64) error {
	if r.rdb == nil {
		return nil
	}
	b, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return r.rdb.Eval(ctx, cacheWalletScript,
		[]string{walletKey(w.UserID), walletGenKey(w.UserID)},
		string(b), strconv.FormatInt(gen, 10), strconv.FormatInt(walletTTL.Milliseconds(), 10),
	).Err()
}

// GetCachedWallet reads Redis. A miss returns redis.Nil.
func (r *Repository) GetCachedWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	if r.rdb == nil {
		return nil, redis.Nil
	}
	b, err := r.rdb.Get(ctx, walletKey(userID)).Bytes()
	if err != nil {
		return nil, err
	}
	var w model.Wallet
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// InvalidateWallet bumps the generation and drops the entry in one step.
func (r *Repository) InvalidateWallet(ctx context.Context, userID string) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Eval(ctx, invalidateWalletScript,
		[]string{walletKey(userID), walletGenKey(userID)},
		strconv.FormatInt(genTTL.Milliseconds(), 10),
	).Err()
}

func (r *Repository) CacheRate(ctx context.Context, rate *model.ExchangeRate) error {
	if r.rdb == nil {
		return nil
	}
	b, err := json.Marshal(rate)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, rateKey(rate.Currency), b, rateTTL).Err()
}

func (r *Repository) GetCachedRate(ctx context.Context, currency model.Currency) (*model.ExchangeRate, error) {
	if r.rdb == nil {
		return nil, redis.Nil
	}
	b, err := r.rdb.Get(ctx, rateKey(currency)).Bytes()
	if err != nil {
		return nil, err
	}
	var rate model.ExchangeRate
	if err := json.Unmarshal(b, &rate); err != nil {
		return nil, err
	}
	return &rate, nil
}

func (r *Repository) InvalidateRate(ctx context.Context, currency model.Currency) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Del(ctx, rateKey(currency)).Err()
}
