package repo

import (
	"context"
	"errors"
	"time"

	"github.com/richardliu001/points-ledger/internal/apperr"
	"github.com/richardliu001/points-ledger/internal/model"
	"gorm.io/gorm"
)

// TransactionFilter selects a page of ledger history.
type TransactionFilter struct {
	UserID string
	Type   model.TransactionType
	Status model.TransactionStatus
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// LedgerSums is the balance recomputed from settled ledger entries.
type LedgerSums struct {
	Total   int64 `json:"total"`
	Credits int64 `json:"credits"`
	Debits  int64 `json:"debits"`
}

type TypeTotal struct {
	Type   model.TransactionType `json:"type"`
	Count  int64                 `json:"count"`
	Points int64                 `json:"points"`
}

// CreateTransaction inserts record.
func (r *Repository) CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	err := tx.WithContext(ctx).Create(t).Error
	if isUniqueViolation(err) {
		return apperr.ErrConflict
	}
	return apperr.Wrap("repo", "transaction", "create", err)
}

func (r *Repository) GetTransaction(ctx context.Context, tx *gorm.DB, id string) (*model.Transaction, error) {
	var t model.Transaction
	err := tx.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Wrap("repo", "transaction", "get", err)
	}
	return &t, nil
}

// TransitionTransaction applies updates only while the row is still in
// status from. It reports whether the row moved.
func (r *Repository) TransitionTransaction(ctx context.Context, tx *gorm.DB, id string, from model.TransactionStatus, updates map[string]interface{}) (bool, error) {
	res := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, apperr.Wrap("repo", "transaction", "transition", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// TxExists checks duplicate by idem key.
func (r *Repository) TxExists(ctx context.Context, tx *gorm.DB, userID, idemKey string, txType model.TransactionType) (bool, *model.Transaction, error) {
	if idemKey == "" {
		return false, nil, nil
	}
	var t model.Transaction
	err := tx.WithContext(ctx).Where("user_id = ? AND idempotency_key = ? AND type = ?", userID, idemKey, txType).First(&t).Error
	if err == nil {
		return true, &t, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil, nil
	}
	return false, nil, apperr.Wrap("repo", "transaction", "idempotency", err)
}

// ListTransactions returns one page, newest first, and the total match count.
func (r *Repository) ListTransactions(ctx context.Context, f TransactionFilter) ([]model.Transaction, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Transaction{})
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, apperr.Wrap("repo", "transaction", "count", err)
	}
	var txs []model.Transaction
	err := q.Order("created_at desc, id").Limit(pageLimit(f.Limit)).Offset(f.Offset).Find(&txs).Error
	if err != nil {
		return nil, 0, apperr.Wrap("repo", "transaction", "list", err)
	}
	return txs, total, nil
}

// SumPoints recomputes a user's balance from settled entries.
func (r *Repository) SumPoints(ctx context.Context, userID string) (LedgerSums, error) {
	var s LedgerSums
	err := r.db.WithContext(ctx).Model(&model.Transaction{}).
		Select("COALESCE(SUM(points_amount), 0) AS total, " +
			"COALESCE(SUM(CASE WHEN points_amount > 0 THEN points_amount ELSE 0 END), 0) AS credits, " +
			"COALESCE(SUM(CASE WHEN points_amount < 0 THEN points_amount ELSE 0 END), 0) AS debits").
		Where("user_id = ? AND status IN ?", userID, model.SettledStatuses).
		Scan(&s).Error
	return s, apperr.Wrap("repo", "transaction", "sum", err)
}

// TotalsByType groups settled entries by type.
func (r *Repository) TotalsByType(ctx context.Context) ([]TypeTotal, error) {
	var out []TypeTotal
	err := r.db.WithContext(ctx).Model(&model.Transaction{}).
		Select("type, COUNT(*) AS count, COALESCE(SUM(points_amount), 0) AS points").
		Where("status IN ?", model.SettledStatuses).
		Group("type").
		Order("type").
		Scan(&out).Error
	return out, apperr.Wrap("repo", "transaction", "totals", err)
}
