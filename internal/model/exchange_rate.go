package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Currency string

const (
	USD Currency = "USD"
	BDT Currency = "BDT"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
)

var SupportedCurrencies = []Currency{USD, BDT, EUR, GBP}

func (c Currency) Valid() bool {
	for _, s := range SupportedCurrencies {
		if c == s {
			return true
		}
	}
	return false
}

// ExchangeRate is the number of points one unit of Currency buys.
// Rows are never deleted; at most one row per currency is active.
type ExchangeRate struct {
	ID             string          `gorm:"size:36;primaryKey" json:"id"`
	Currency       Currency        `gorm:"size:3;not null;index;uniqueIndex:uniq_active_rate,where:is_active = true" json:"currency"`
	Rate           decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"rate"`
	IsActive       bool            `gorm:"not null;default:false" json:"is_active"`
	EffectiveFrom  time.Time       `gorm:"not null" json:"effective_from"`
	EffectiveUntil *time.Time      `json:"effective_until,omitempty"`
	CreatedBy      string          `gorm:"size:64" json:"created_by"`
	ChangeReason   string          `gorm:"size:255" json:"change_reason"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (ExchangeRate) TableName() string { return "exchange_rates" }

func (r *ExchangeRate) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
