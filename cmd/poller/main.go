package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/richardliu001/points-ledger/internal/app"
	"github.com/richardliu001/points-ledger/internal/config"
	"github.com/richardliu001/points-ledger/internal/logger"
	"github.com/richardliu001/points-ledger/internal/metrics"
)

// The poller relays outbox events to Kafka and settles queued payouts.
func main() {
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := app.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer shutdownTracing(context.Background())
	metrics.Register()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer a.Close()
	if len(cfg.Kafka.Brokers) == 0 {
		log.Warn("no kafka brokers configured, outbox events will stay pending")
	}

	runners := map[string]func(context.Context) error{
		"outbox relay":      a.Relay().Run,
		"settlement worker": a.SettlementWorker().Run,
	}

	var wg sync.WaitGroup
	for name, run := range runners {
		wg.Add(1)
		go func(name string, run func(context.Context) error) {
			defer wg.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("%s stopped: %v", name, err)
				stop()
			}
		}(name, run)
	}

	log.Info("points-ledger poller started")
	wg.Wait()
	log.Info("points-ledger poller stopped")
}
