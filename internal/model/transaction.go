package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TransactionType string

const (
	TxPurchase    TransactionType = "PURCHASE"
	TxSale        TransactionType = "SALE"
	TxEnrollment  TransactionType = "ENROLLMENT"
	TxRefund      TransactionType = "REFUND"
	TxAdminCredit TransactionType = "ADMIN_CREDIT"
	TxAdminDebit  TransactionType = "ADMIN_DEBIT"
	TxBonus       TransactionType = "BONUS"
	TxReversal    TransactionType = "REVERSAL"
)

// Valid reports whether t is one of the known ledger entry types.
func (t TransactionType) Valid() bool {
	switch t {
	case TxPurchase, TxSale, TxEnrollment, TxRefund, TxAdminCredit, TxAdminDebit, TxBonus, TxReversal:
		return true
	}
	return false
}

// Direction returns +1 for types that only ever credit, -1 for types that
// only ever debit and 0 when either sign is allowed.
func (t TransactionType) Direction() int {
	switch t {
	case TxPurchase, TxRefund, TxAdminCredit, TxBonus:
		return 1
	case TxSale, TxAdminDebit:
		return -1
	}
	return 0
}

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
	StatusReversed  TransactionStatus = "REVERSED"
)

// SettledStatuses are the statuses whose points_amount counts towards the
// ledger balance. A REVERSED original is netted by its REVERSAL entry.
var SettledStatuses = []TransactionStatus{StatusCompleted, StatusReversed}

// Transaction is an append-only ledger entry.
type Transaction struct {
	ID               string            `gorm:"size:36;primaryKey" json:"id"`
	UserID           string            `gorm:"size:64;not null;index:idx_tx_user_created,priority:1;uniqueIndex:uniq_tx_idem,priority:1" json:"user_id"`
	Type             TransactionType   `gorm:"size:32;not null;index;uniqueIndex:uniq_tx_idem,priority:2" json:"type"`
	PointsAmount     int64             `gorm:"not null" json:"points_amount"`
	CashAmount       decimal.Decimal   `gorm:"type:numeric(20,2);not null;default:0" json:"cash_amount"`
	Currency         Currency          `gorm:"size:3" json:"currency,omitempty"`
	ExchangeRate     decimal.Decimal   `gorm:"type:numeric(20,8);not null;default:0" json:"exchange_rate"`
	ExchangeRateID   *string           `gorm:"size:36" json:"exchange_rate_id,omitempty"`
	Status           TransactionStatus `gorm:"size:16;not null;index" json:"status"`
	Description      string            `gorm:"size:255;not null" json:"description"`
	RelatedPayoutID  *string           `gorm:"size:36;index" json:"related_payout_id,omitempty"`
	ReversalOfID     *string           `gorm:"size:36;index" json:"reversal_of_id,omitempty"`
	BalanceAfter     *int64            `json:"balance_after,omitempty"`
	PaymentMethod    string            `gorm:"size:32" json:"payment_method,omitempty"`
	PaymentReference string            `gorm:"size:128" json:"payment_reference,omitempty"`
	FailureReason    string            `gorm:"size:255" json:"failure_reason,omitempty"`
	AdminID          *string           `gorm:"size:64" json:"admin_id,omitempty"`
	IdempotencyKey   *string           `gorm:"size:64;uniqueIndex:uniq_tx_idem,priority:3" json:"idempotency_key,omitempty"`
	Metadata         datatypes.JSON    `json:"metadata,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	CreatedAt        time.Time         `gorm:"autoCreateTime;index:idx_tx_user_created,priority:2" json:"created_at"`
}

func (Transaction) TableName() string { return "transactions" }

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// IsCredit reports whether the entry adds points to the wallet.
func (t *Transaction) IsCredit() bool { return t.PointsAmount > 0 }
