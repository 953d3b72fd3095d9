package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "PENDING"
	PayoutProcessing PayoutStatus = "PROCESSING"
	PayoutCompleted  PayoutStatus = "COMPLETED"
	PayoutFailed     PayoutStatus = "FAILED"
	PayoutCancelled  PayoutStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s PayoutStatus) Terminal() bool {
	return s == PayoutCompleted || s == PayoutFailed || s == PayoutCancelled
}

// PayoutRequest tracks the cash settlement of points already debited by a
// COMPLETED SALE transaction.
type PayoutRequest struct {
	ID                  string          `gorm:"size:36;primaryKey" json:"id"`
	UserID              string          `gorm:"size:64;not null;index" json:"user_id"`
	PointsAmount        int64           `gorm:"not null" json:"points_amount"`
	CashAmount          decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"cash_amount"`
	Currency            Currency        `gorm:"size:3;not null" json:"currency"`
	ExchangeRate        decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"exchange_rate"`
	ExchangeRateID      string          `gorm:"size:36;not null" json:"exchange_rate_id"`
	PayoutMethod        string          `gorm:"size:32;not null" json:"payout_method"`
	PayoutDetails       datatypes.JSON  `json:"payout_details,omitempty"`
	Status              PayoutStatus    `gorm:"size:16;not null;index" json:"status"`
	TransactionID       string          `gorm:"size:36;not null;uniqueIndex" json:"transaction_id"`
	RefundTransactionID *string         `gorm:"size:36" json:"refund_transaction_id,omitempty"`
	PaymentReference    string          `gorm:"size:128" json:"payment_reference,omitempty"`
	FailureReason       string          `gorm:"size:255" json:"failure_reason,omitempty"`
	ReviewedBy          *string         `gorm:"size:64" json:"reviewed_by,omitempty"`
	ReviewedAt          *time.Time      `json:"reviewed_at,omitempty"`
	AdminNotes          string          `gorm:"size:255" json:"admin_notes,omitempty"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PayoutRequest) TableName() string { return "payout_requests" }

func (p *PayoutRequest) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
