package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/richardliu001/points-ledger/internal/app"
	"github.com/richardliu001/points-ledger/internal/config"
	"github.com/richardliu001/points-ledger/internal/logger"
	"github.com/richardliu001/points-ledger/internal/metrics"
	httptransport "github.com/richardliu001/points-ledger/internal/transport/http"
)

func main() {
	// 1. load config
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	if cfg.Auth.JWTSecret == "" {
		log.Fatal("auth.jwt_secret (or JWT_SECRET) is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. tracing & metrics
	shutdownTracing, err := app.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer shutdownTracing(context.Background())
	metrics.Register()

	// 4. storage, cache, broker, services
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer a.Close()
	if err := a.Migrate(); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}
	if err := a.SeedRates(ctx); err != nil {
		log.Fatalf("seed rates: %v", err)
	}

	// 5. settlement worker
	if cfg.Settlement.Embedded {
		worker := a.SettlementWorker()
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("settlement worker: %v", err)
			}
		}()
	}

	// 6. gin router
	router := httptransport.NewRouter(a.Services, httptransport.RouterConfig{
		RateLimit:      cfg.RateLimit,
		JWTSecret:      cfg.Auth.JWTSecret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, log)

	// 7. serve
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}
	go func() {
		log.Infof("points-ledger listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}
