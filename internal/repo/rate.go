package repo

import (
	"context"
	"errors"
	"time"

	"github.com/richardliu001/points-ledger/internal/apperr"
	"github.com/richardliu001/points-ledger/internal/model"
	"gorm.io/gorm"
)

// ActiveRate returns the active row for currency or apperr.ErrNoActiveRate.
func (r *Repository) ActiveRate(ctx context.Context, tx *gorm.DB, currency model.Currency) (*model.ExchangeRate, error) {
	var rate model.ExchangeRate
	err := tx.WithContext(ctx).Where("currency = ? AND is_active = ?", currency, true).First(&rate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNoActiveRate
	}
	if err != nil {
		return nil, apperr.Wrap("repo", "rate", "active", err)
	}
	return &rate, nil
}

func (r *Repository) ActiveRates(ctx context.Context) ([]model.ExchangeRate, error) {
	var rates []model.ExchangeRate
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("currency").Find(&rates).Error
	return rates, apperr.Wrap("repo", "rate", "list_active", err)
}

// DeactivateRate closes the active row for currency, if any.
func (r *Repository) DeactivateRate(ctx context.Context, tx *gorm.DB, currency model.Currency, at time.Time) error {
	err := tx.WithContext(ctx).
		Model(&model.ExchangeRate{}).
		Where("currency = ? AND is_active = ?", currency, true).
		Updates(map[string]interface{}{"is_active": false, "effective_until": at}).Error
	return apperr.Wrap("repo", "rate", "deactivate", err)
}

func (r *Repository) CreateRate(ctx context.Context, tx *gorm.DB, rate *model.ExchangeRate) error {
	err := tx.WithContext(ctx).Create(rate).Error
	if isUniqueViolation(err) {
		return apperr.ErrConflict
	}
	return apperr.Wrap("repo", "rate", "create", err)
}

// RateHistory lists rates for currency, newest first.
func (r *Repository) RateHistory(ctx context.Context, currency model.Currency, limit int) ([]model.ExchangeRate, error) {
	var rates []model.ExchangeRate
	err := r.db.WithContext(ctx).
		Where("currency = ?", currency).
		Order("effective_from desc, created_at desc").
		Limit(pageLimit(limit)).
		Find(&rates).Error
	return rates, apperr.Wrap("repo", "rate", "history", err)
}
