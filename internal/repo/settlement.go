package repo

import (
	"context"
	"time"

	"github.com/richardliu001/points-ledger/internal/apperr"
	"github.com/richardliu001/points-ledger/internal/model"
	"gorm.io/gorm"
)

func (r *Repository) CreateSettlementJob(ctx context.Context, tx *gorm.DB, job *model.SettlementJob) error {
	return apperr.Wrap("repo", "settlement", "create", tx.WithContext(ctx).Create(job).Error)
}

// ClaimSettlementJobs leases up to limit due jobs to owner. A job whose lease
// has expired is claimable again, so work held by a crashed worker resumes.
func (r *Repository) ClaimSettlementJobs(ctx context.Context, owner string, now time.Time, lease time.Duration, limit int) ([]model.SettlementJob, error) {
	var candidates []model.SettlementJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND available_at <= ? AND (locked_until IS NULL OR locked_until < ?)", model.JobPending, now, now).
		Order("available_at, id").
		Limit(pageLimit(limit)).
		Find(&candidates).Error
	if err != nil {
		return nil, apperr.Wrap("repo", "settlement", "scan", err)
	}

	until := now.Add(lease)
	claimed := make([]model.SettlementJob, 0, len(candidates))
	for _, job := range candidates {
		res := r.db.WithContext(ctx).
			Model(&model.SettlementJob{}).
			Where("id = ? AND status = ? AND (locked_until IS NULL OR locked_until < ?)", job.ID, model.JobPending, now).
			Updates(map[string]interface{}{
				"locked_until": until,
				"locked_by":    owner,
				"attempts":     gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return claimed, apperr.Wrap("repo", "settlement", "claim", res.Error)
		}
		if res.RowsAffected == 0 {
			// another worker got there first
			continue
		}
		job.LockedUntil = &until
		job.LockedBy = owner
		job.Attempts++
		claimed = append(claimed, job)
	}
	return claimed, nil
}

// FinishSettlementJob marks the job done and releases its lease.
func (r *Repository) FinishSettlementJob(ctx context.Context, id uint64) error {
	err := r.db.WithContext(ctx).Model(&model.SettlementJob{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       model.JobDone,
			"locked_until": nil,
			"locked_by":    "",
		}).Error
	return apperr.Wrap("repo", "settlement", "finish", err)
}

// RetrySettlementJob releases the lease and makes the job due again at.
func (r *Repository) RetrySettlementJob(ctx context.Context, id uint64, at time.Time, lastErr string) error {
	lastErr = model.Truncate(lastErr, model.MaxTextLength)
	err := r.db.WithContext(ctx).Model(&model.SettlementJob{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"available_at": at,
			"locked_until": nil,
			"locked_by":    "",
			"last_error":   lastErr,
		}).Error
	return apperr.Wrap("repo", "settlement", "retry", err)
}
