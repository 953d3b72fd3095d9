package repo

import (
	"context"
	"errors"
	"time"

	"github.com/richardliu001/points-ledger/internal/apperr"
	"github.com/richardliu001/points-ledger/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WalletTotals aggregates every wallet in the system.
type WalletTotals struct {
	Wallets        int64 `json:"wallets"`
	PointsBalance  int64 `json:"points_balance"`
	ReservedPoints int64 `json:"reserved_points"`
	Earned         int64 `json:"total_points_earned"`
	Spent          int64 `json:"total_points_spent"`
}

// EnsureWallet inserts a zero wallet unless one already exists.
func (r *Repository) EnsureWallet(ctx context.Context, tx *gorm.DB, userID string, currency model.Currency) error {
	if currency == "" {
		currency = model.USD
	}
	w := &model.Wallet{UserID: userID, DefaultCurrency: string(currency)}
	err := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(w).Error
	return apperr.Wrap("repo", "wallet", "ensure", err)
}

// GetWallet reads a wallet row.
func (r *Repository) GetWallet(ctx context.Context, tx *gorm.DB, userID string) (*model.Wallet, error) {
	var w model.Wallet
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Wrap("repo", "wallet", "get", err)
	}
	return &w, nil
}

// CreditWallet increments the balance in one statement.
func (r *Repository) CreditWallet(ctx context.Context, tx *gorm.DB, userID string, points int64) error {
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"points_balance":      gorm.Expr("points_balance + ?", points),
			"total_points_earned": gorm.Expr("total_points_earned + ?", points),
			"updated_at":          time.Now(),
		})
	if res.Error != nil {
		return apperr.Wrap("repo", "wallet", "credit", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// DebitWallet decrements the balance only if the available balance covers
// points at the moment of the write.
func (r *Repository) DebitWallet(ctx context.Context, tx *gorm.DB, userID string, points int64) error {
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ? AND points_balance - reserved_points >= ?", userID, points).
		Updates(map[string]interface{}{
			"points_balance":     gorm.Expr("points_balance - ?", points),
			"total_points_spent": gorm.Expr("total_points_spent + ?", points),
			"updated_at":         time.Now(),
		})
	if res.Error != nil {
		return apperr.Wrap("repo", "wallet", "debit", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.ErrInsufficientBalance
	}
	return nil
}

// ListWallets pages through wallets ordered by user id.
func (r *Repository) ListWallets(ctx context.Context, limit, offset int) ([]model.Wallet, error) {
	var ws []model.Wallet
	err := r.db.WithContext(ctx).Order("user_id").Limit(pageLimit(limit)).Offset(offset).Find(&ws).Error
	return ws, apperr.Wrap("repo", "wallet", "list", err)
}

// WalletTotals sums balances across all wallets.
func (r *Repository) WalletTotals(ctx context.Context) (WalletTotals, error) {
	var t WalletTotals
	err := r.db.WithContext(ctx).Model(&model.Wallet{}).
		Select("COUNT(*) AS wallets, " +
			"COALESCE(SUM(points_balance), 0) AS points_balance, " +
			"COALESCE(SUM(reserved_points), 0) AS reserved_points, " +
			"COALESCE(SUM(total_points_earned), 0) AS earned, " +
			"COALESCE(SUM(total_points_spent), 0) AS spent").
		Scan(&t).Error
	return t, apperr.Wrap("repo", "wallet", "totals", err)
}
