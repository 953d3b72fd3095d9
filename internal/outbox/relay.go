// Package outbox relays committed domain events from the event_outbox table
// to Kafka.
package outbox

import (
	"context"
	"time"

	"github.com/richardliu001/points-ledger/internal/metrics"
	"github.com/richardliu001/points-ledger/internal/repo"
	"go.uber.org/zap"
)

type Relay struct {
	repo     repo.RepositoryInterface
	interval time.Duration
	batch    int
	log      *zap.SugaredLogger
}

func NewRelay(r repo.RepositoryInterface, interval time.Duration, batch int, log *zap.SugaredLogger) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Relay{repo: r, interval: interval, batch: batch, log: log}
}

// Run publishes pending events every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("outbox relay started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				r.log.Errorf("poll outbox: %v", err)
			}
		}
	}
}

// Flush publishes one batch in id order and returns how many were sent.
// It stops at the first failure so events of one aggregate stay ordered.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.repo.PollOutbox(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, evt := range events {
		if err := r.repo.PublishEvent(ctx, evt); err != nil {
			metrics.OutboxPublished.WithLabelValues("error").Inc()
			r.log.Errorf("publish id=%d: %v", evt.ID, err)
			return sent, err
		}
		metrics.OutboxPublished.WithLabelValues("ok").Inc()
		if err := r.repo.MarkOutboxProcessed(ctx, evt.ID); err != nil {
			r.log.Errorf("mark processed id=%d: %v", evt.ID, err)
			return sent, err
		}
		r.log.Debugf("event %d sent", evt.ID)
		sent++
	}
	return sent, nil
}
