package repo

import (
	"context"
	"errors"

	"github.com/richardliu001/points-ledger/internal/apperr"
	"github.com/richardliu001/points-ledger/internal/model"
	"gorm.io/gorm"
)

type PayoutFilter struct {
	UserID string
	Status model.PayoutStatus
	Limit  int
	Offset int
}

type StatusCount struct {
	Status model.PayoutStatus `json:"status"`
	Count  int64              `json:"count"`
	Points int64              `json:"points"`
}

func (r *Repository) CreatePayout(ctx context.Context, tx *gorm.DB, p *model.PayoutRequest) error {
	return apperr.Wrap("repo", "payout", "create", tx.WithContext(ctx).Create(p).Error)
}

func (r *Repository) GetPayout(ctx context.Context, tx *gorm.DB, id string) (*model.PayoutRequest, error) {
	return r.findPayout(ctx, tx, "id = ?", id)
}

func (r *Repository) GetPayoutByTransaction(ctx context.Context, tx *gorm.DB, transactionID string) (*model.PayoutRequest, error) {
	return r.findPayout(ctx, tx, "transaction_id = ?", transactionID)
}

func (r *Repository) findPayout(ctx context.Context, tx *gorm.DB, query string, arg string) (*model.PayoutRequest, error) {
	var p model.PayoutRequest
	err := tx.WithContext(ctx).Where(query, arg).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Wrap("repo", "payout", "get", err)
	}
	return &p, nil
}

// TransitionPayout applies updates only while the request is in one of the
// from statuses. It reports whether the row moved.
func (r *Repository) TransitionPayout(ctx context.Context, tx *gorm.DB, id string, from []model.PayoutStatus, updates map[string]interface{}) (bool, error) {
	res := tx.WithContext(ctx).
		Model(&model.PayoutRequest{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, apperr.Wrap("repo", "payout", "transition", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) ListPayouts(ctx context.Context, f PayoutFilter) ([]model.PayoutRequest, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.PayoutRequest{})
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, apperr.Wrap("repo", "payout", "count", err)
	}
	var ps []model.PayoutRequest
	if err := q.Order("created_at desc, id").Limit(pageLimit(f.Limit)).Offset(f.Offset).Find(&ps).Error; err != nil {
		return nil, 0, apperr.Wrap("repo", "payout", "list", err)
	}
	return ps, total, nil
}

// PayoutCounts groups payout requests by status.
func (r *Repository) PayoutCounts(ctx context.Context) ([]StatusCount, error) {
	var out []StatusCount
	err := r.db.WithContext(ctx).Model(&model.PayoutRequest{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(points_amount), 0) AS points").
		Group("status").
		Order("status").
		Scan(&out).Error
	return out, apperr.Wrap("repo", "payout", "counts", err)
}
