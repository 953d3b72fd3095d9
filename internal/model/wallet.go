package model

import "time"

// Wallet caches a user's point balance. The ledger is the source of truth.
type Wallet struct {
	UserID            string    `gorm:"size:64;primaryKey;column:user_id" json:"user_id"`
	PointsBalance     int64     `gorm:"not null;default:0" json:"points_balance"`
	ReservedPoints    int64     `gorm:"not null;default:0" json:"reserved_points"`
	TotalPointsEarned int64     `gorm:"not null;default:0" json:"total_points_earned"`
	TotalPointsSpent  int64     `gorm:"not null;default:0" json:"total_points_spent"`
	DefaultCurrency   string    `gorm:"size:3;not null;default:'USD'" json:"default_currency"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string { return "wallets" }

// AvailableBalance is the spendable part of the balance.
func (w *Wallet) AvailableBalance() int64 { return w.PointsBalance - w.ReservedPoints }
