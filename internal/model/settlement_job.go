package model

import "time"

type JobStatus string

const (
	JobPending JobStatus = "PENDING"
	JobDone    JobStatus = "DONE"
)

// SettlementJob is the durable record that a payout still needs settling.
// A worker holds it while LockedUntil is in the future.
type SettlementJob struct {
	ID          uint64    `gorm:"primaryKey"`
	PayoutID    string    `gorm:"size:36;not null;uniqueIndex"`
	Status      JobStatus `gorm:"size:16;not null;index"`
	Attempts    int       `gorm:"not null;default:0"`
	AvailableAt time.Time `gorm:"not null;index"`
	LockedUntil *time.Time
	LockedBy    string    `gorm:"size:64"`
	LastError   string    `gorm:"size:255"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (SettlementJob) TableName() string { return "settlement_jobs" }

// All lists every persisted model in migration order.
func All() []interface{} {
	return []interface{}{
		&Wallet{}, &Transaction{}, &ExchangeRate{}, &PayoutRequest{}, &OutboxEvent{}, &SettlementJob{},
	}
}
