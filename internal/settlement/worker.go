// Package settlement drives PENDING payouts through the payment gateway.
//
// Work is taken from durable settlement jobs leased to one worker at a time,
// so a crash mid-payout leaves the job claimable again once the lease expires.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/richardliu001/points-ledger/internal/apperr"
	"github.com/richardliu001/points-ledger/internal/gateway"
	"github.com/richardliu001/points-ledger/internal/model"
	"github.com/richardliu001/points-ledger/internal/repo"
	"github.com/richardliu001/points-ledger/internal/service"
	"go.uber.org/zap"
)

type Config struct {
	PollInterval time.Duration
	Lease        time.Duration
	BatchSize    int
	MaxAttempts  int
	Backoff      time.Duration
	Owner        string
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.Lease <= 0 {
		c.Lease = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Backoff <= 0 {
		c.Backoff = 5 * time.Second
	}
	if c.Owner == "" {
		host, _ := os.Hostname()
		c.Owner = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
}

type Worker struct {
	repo    repo.RepositoryInterface
	payouts *service.PayoutService
	gateway gateway.Gateway
	cfg     Config
	log     *zap.SugaredLogger
	wake    chan struct{}
	now     func() time.Time
}

func New(r repo.RepositoryInterface, payouts *service.PayoutService, gw gateway.Gateway, cfg Config, log *zap.SugaredLogger) *Worker {
	cfg.defaults()
	return &Worker{
		repo:    r,
		payouts: payouts,
		gateway: gw,
		cfg:     cfg,
		log:     log,
		wake:    make(chan struct{}, 1),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Notify asks the worker to poll now. It never blocks.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.log.Infow("settlement worker started", "owner", w.cfg.Owner)
	for {
		if _, err := w.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
			w.log.Errorw("settlement batch failed", "error", err)
		}
		select {
		case <-ctx.Done():
			w.log.Infow("settlement worker stopped", "owner", w.cfg.Owner)
			return ctx.Err()
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// ProcessBatch settles the jobs currently due and returns how many were
// finished.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	jobs, err := w.repo.ClaimSettlementJobs(ctx, w.cfg.Owner, w.now(), w.cfg.Lease, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		finished, err := w.process(ctx, job)
		if err != nil {
			w.log.Errorw("settlement job failed", "job_id", job.ID, "payout_id", job.PayoutID, "attempt", job.Attempts, "error", err)
			continue
		}
		if finished {
			done++
		}
	}
	return done, nil
}

func (w *Worker) process(ctx context.Context, job model.SettlementJob) (bool, error) {
	p, err := w.payouts.Get(ctx, job.PayoutID)
	if errors.Is(err, apperr.ErrNotFound) {
		return true, w.repo.FinishSettlementJob(ctx, job.ID)
	}
	if err != nil {
		return false, w.retry(ctx, job, err)
	}
	if p.Status.Terminal() {
		return true, w.repo.FinishSettlementJob(ctx, job.ID)
	}
	if p.Status == model.PayoutPending {
		if err := w.payouts.MarkProcessing(ctx, p.ID); err != nil {
			if errors.Is(err, apperr.ErrImmutableTransaction) {
				// cancelled or settled since we read it
				return true, w.repo.FinishSettlementJob(ctx, job.ID)
			}
			return false, w.retry(ctx, job, err)
		}
	}

	var details map[string]interface{}
	if len(p.PayoutDetails) > 0 {
		if err := json.Unmarshal(p.PayoutDetails, &details); err != nil {
			w.log.Warnw("payout details unreadable", "payout_id", p.ID, "error", err)
		}
	}
	res, err := w.gateway.Payout(ctx, gateway.PayoutOrder{
		Method:   gateway.Method(p.PayoutMethod),
		Amount:   p.CashAmount,
		Currency: string(p.Currency),
		Details:  details,
		PayoutID: p.ID,
	})
	if err != nil {
		if job.Attempts < w.cfg.MaxAttempts {
			return false, w.retry(ctx, job, err)
		}
		res = gateway.Result{Success: false, Reason: fmt.Sprintf("payment provider unavailable after %d attempts", job.Attempts)}
	}

	_, err = w.payouts.Settle(ctx, p.ID, res.Success, res.Reference, res.Reason)
	if err != nil && !errors.Is(err, apperr.ErrImmutableTransaction) {
		return false, w.retry(ctx, job, err)
	}
	return true, w.repo.FinishSettlementJob(ctx, job.ID)
}

func (w *Worker) retry(ctx context.Context, job model.SettlementJob, cause error) error {
	at := w.now().Add(w.cfg.Backoff * time.Duration(job.Attempts))
	if err := w.repo.RetrySettlementJob(ctx, job.ID, at, cause.Error()); err != nil {
		return fmt.Errorf("%v; reschedule: %w", cause, err)
	}
	return cause
}
