package repo

import (
	"context"
	"errors"
	"time"

	"github.com/richardliu001/points-ledger/internal/apperr"
	"github.com/richardliu001/points-ledger/internal/model"
	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

var errNoWriter = errors.New("kafka writer not configured")

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return apperr.Wrap("repo", "outbox", "create", tx.WithContext(ctx).Create(evt).Error)
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = ?", false).Order("id").Limit(pageLimit(limit)).Find(&evts).Error
	return evts, apperr.Wrap("repo", "outbox", "poll", err)
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	err := r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
	return apperr.Wrap("repo", "outbox", "mark", err)
}

// PublishEvent sends to Kafka, keyed by aggregate so a user's events stay ordered.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	if r.writer == nil {
		return errNoWriter
	}
	msg := kafka.Message{
		Key:   []byte(evt.AggregateID),
		Value: []byte(evt.Payload),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.EventType)},
			{Key: "aggregate", Value: []byte(evt.Aggregate)},
		},
		Time: evt.CreatedAt,
	}
	return r.writer.WriteMessages(ctx, msg)
}
