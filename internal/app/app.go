// Package app assembles the ledger from configuration. The API server, the
// background poller and ledgerctl all start from here.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/points-ledger/internal/config"
	"github.com/richardliu001/points-ledger/internal/gateway"
	"github.com/richardliu001/points-ledger/internal/model"
	"github.com/richardliu001/points-ledger/internal/outbox"
	"github.com/richardliu001/points-ledger/internal/repo"
	"github.com/richardliu001/points-ledger/internal/service"
	"github.com/richardliu001/points-ledger/internal/settlement"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SystemActor is recorded as the creator of rates seeded from config.
const SystemActor = "system"

type App struct {
	Config   *config.Config
	Log      *zap.SugaredLogger
	DB       *gorm.DB
	Repo     *repo.Repository
	Gateway  gateway.Gateway
	Services *service.Services

	closers []func() error
}

// New opens the database, Redis and Kafka and wires the services.
// Redis and Kafka are optional: an empty address or broker list leaves them out.
func New(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	maxCash := decimal.Zero
	if cfg.Ledger.MaxPurchaseAmount != "" {
		var err error
		if maxCash, err = cfg.Ledger.MaxPurchase(); err != nil {
			return nil, err
		}
	}

	gdb, err := repo.Open(cfg.Postgres.Driver, cfg.Postgres.DSN, log)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Postgres.Driver, err)
	}
	a.DB = gdb
	if sqlDB, err := gdb.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
	} else {
		log.Warn("redis address not set, wallet cache disabled")
	}

	var kw *kafka.Writer
	if len(cfg.Kafka.Brokers) > 0 {
		kw = &kafka.Writer{
			Addr:     kafka.TCP(cfg.Kafka.Brokers...),
			Topic:    cfg.Kafka.Topic,
			Balancer: &kafka.LeastBytes{},
		}
		a.closers = append(a.closers, kw.Close)
	}

	a.Repo = repo.NewRepository(gdb, rdb, kw, log)
	a.Gateway = newGateway(cfg.Gateway)
	a.Services = service.New(a.Repo, a.Gateway, service.Options{
		MinimumPayoutPoints: cfg.Ledger.MinimumPayoutPoints,
		MaxPurchaseAmount:   maxCash,
		DefaultCurrency:     model.Currency(strings.ToUpper(cfg.Ledger.DefaultCurrency)),
	}, log)
	return a, nil
}

func newGateway(cfg config.GatewayConfig) *gateway.Mock {
	var opts []gateway.Option
	if cfg.ChargeSuccessRate > 0 {
		opts = append(opts, gateway.WithChargeSuccessRate(cfg.ChargeSuccessRate))
	}
	if cfg.PayoutSuccessRate > 0 {
		opts = append(opts, gateway.WithPayoutSuccessRate(cfg.PayoutSuccessRate))
	}
	if cfg.Latency > 0 {
		opts = append(opts, gateway.WithLatency(cfg.Latency))
	}
	return gateway.NewMock(opts...)
}

func (a *App) Migrate() error {
	return repo.Migrate(a.DB)
}

// SeedRates installs the configured rates for currencies without an active one.
func (a *App) SeedRates(ctx context.Context) error {
	raw, err := a.Config.Ledger.Rates()
	if err != nil {
		return err
	}
	seeds := make(map[model.Currency]decimal.Decimal, len(raw))
	for c, r := range raw {
		seeds[model.Currency(c)] = r
	}
	return a.Services.Rates.Seed(ctx, seeds, SystemActor)
}

// SettlementWorker builds a worker and registers it for payout wake-ups.
func (a *App) SettlementWorker() *settlement.Worker {
	s := a.Config.Settlement
	w := settlement.New(a.Repo, a.Services.Payouts, a.Gateway, settlement.Config{
		PollInterval: s.PollInterval,
		Lease:        s.Lease,
		BatchSize:    s.BatchSize,
		MaxAttempts:  s.MaxAttempts,
		Backoff:      s.Backoff,
	}, a.Log)
	a.Services.Payouts.SetNotifier(w)
	return w
}

func (a *App) Relay() *outbox.Relay {
	return outbox.NewRelay(a.Repo, a.Config.Outbox.PollInterval, a.Config.Outbox.BatchSize, a.Log)
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warnw("close failed", "error", err)
		}
	}
	a.closers = nil
}
