package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/points-ledger/internal/apperr"
	"github.com/richardliu001/points-ledger/internal/model"
	"github.com/richardliu001/points-ledger/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RateService is the registry of cash-to-points exchange rates.
type RateService struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

// RateView is an active rate as shown to clients.
type RateView struct {
	ID            string          `json:"id"`
	Currency      model.Currency  `json:"currency"`
	Rate          decimal.Decimal `json:"rate"`
	Display       string          `json:"display"`
	EffectiveFrom time.Time       `json:"effective_from"`
}

func validCurrency(c model.Currency) error {
	if !c.Valid() {
		return apperr.Invalid("currency", "unsupported currency %q", c)
	}
	return nil
}

// SetNewRate replaces the active rate for currency. Deactivation and insert
// commit together, so readers never see zero or two active rows.
func (s *RateService) SetNewRate(ctx context.Context, currency model.Currency, rate decimal.Decimal, adminID, reason string) (out *model.ExchangeRate, err error) {
	ctx, end := begin(ctx, "set_rate")
	defer end(&err)

	if strings.TrimSpace(adminID) == "" {
		return nil, apperr.ErrUnauthorized
	}
	if err := validCurrency(currency); err != nil {
		return nil, err
	}
	if !rate.IsPositive() {
		return nil, apperr.Invalid("rate", "must be greater than zero")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Invalid("reason", "is required")
	}
	if err := checkLength("reason", strings.TrimSpace(reason), maxReasonLength); err != nil {
		return nil, err
	}

	now := time.Now()
	out = &model.ExchangeRate{
		Currency:      currency,
		Rate:          rate,
		IsActive:      true,
		EffectiveFrom: now,
		CreatedBy:     adminID,
		ChangeReason:  strings.TrimSpace(reason),
	}
	var previous *model.ExchangeRate
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		prev, err := s.repo.ActiveRate(ctx, tx, currency)
		switch {
		case err == nil:
			previous = prev
		case !errors.Is(err, apperr.ErrNoActiveRate):
			return err
		}
		if err := s.repo.DeactivateRate(ctx, tx, currency, now); err != nil {
			return err
		}
		if err := s.repo.CreateRate(ctx, tx, out); err != nil {
			return err
		}
		payload := map[string]interface{}{
			"rate_id":  out.ID,
			"currency": currency,
			"rate":     rate.String(),
			"admin_id": adminID,
		}
		if previous != nil {
			payload["previous_rate"] = previous.Rate.String()
		}
		return writeEvent(ctx, s.repo, tx, "ExchangeRate", string(currency), "ExchangeRateChanged", payload)
	})
	if err != nil {
		return nil, err
	}
	if err := s.repo.InvalidateRate(ctx, currency); err != nil {
		s.log.Warnw("rate cache invalidate failed", "currency", currency, "error", err)
	}
	s.log.Infow("exchange rate changed", "currency", currency, "rate", rate.String(), "admin_id", adminID)
	return out, nil
}

// GetCurrentRate returns the active rate or apperr.ErrNoActiveRate.
func (s *RateService) GetCurrentRate(ctx context.Context, currency model.Currency) (*model.ExchangeRate, error) {
	if err := validCurrency(currency); err != nil {
		return nil, err
	}
	rate, err := s.repo.GetCachedRate(ctx, currency)
	if err == nil {
		return rate, nil
	}
	if !errors.Is(err, redis.Nil) {
		s.log.Warnw("rate cache read failed", "currency", currency, "error", err)
	}
	rate, err = s.repo.ActiveRate(ctx, s.repo.DB(ctx), currency)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CacheRate(ctx, rate); err != nil {
		s.log.Warnw("rate cache write failed", "currency", currency, "error", err)
	}
	return rate, nil
}

// CalculatePoints converts cash to points, rounding down.
func (s *RateService) CalculatePoints(ctx context.Context, currency model.Currency, cash decimal.Decimal) (int64, *model.ExchangeRate, error) {
	rate, err := s.GetCurrentRate(ctx, currency)
	if err != nil {
		return 0, nil, err
	}
	points, err := PointsFor(cash, rate.Rate)
	if err != nil {
		return 0, nil, err
	}
	return points, rate, nil
}

// CalculateCash converts points to cash, rounded to two decimals.
func (s *RateService) CalculateCash(ctx context.Context, currency model.Currency, points int64) (decimal.Decimal, *model.ExchangeRate, error) {
	rate, err := s.GetCurrentRate(ctx, currency)
	if err != nil {
		return decimal.Zero, nil, err
	}
	return CashFor(points, rate.Rate), rate, nil
}

var (
	errPointsOverflow = errors.New("points overflow int64")
	maxPoints         = decimal.NewFromInt(math.MaxInt64)
)

// PointsFor is floor(cash * rate). A result that does not fit in int64
// returns errPointsOverflow.
func PointsFor(cash, rate decimal.Decimal) (int64, error) {
	p := cash.Mul(rate).Floor()
	if !p.IsInteger() || p.GreaterThan(maxPoints) || p.LessThan(decimal.Zero) {
		return 0, errPointsOverflow
	}
	return p.IntPart(), nil
}

// CashFor is points / rate rounded half away from zero to cents.
func CashFor(points int64, rate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(points).DivRound(rate, 2)
}

// CurrentRates lists active rates, e.g. "1 USD = 100 points".
func (s *RateService) CurrentRates(ctx context.Context) ([]RateView, error) {
	rates, err := s.repo.ActiveRates(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RateView, 0, len(rates))
	for _, r := range rates {
		out = append(out, RateView{
			ID:            r.ID,
			Currency:      r.Currency,
			Rate:          r.Rate,
			Display:       fmt.Sprintf("1 %s = %s points", r.Currency, r.Rate.String()),
			EffectiveFrom: r.EffectiveFrom,
		})
	}
	return out, nil
}

// History lists every rate ever set for currency, newest first.
func (s *RateService) History(ctx context.Context, currency model.Currency, limit int) ([]model.ExchangeRate, error) {
	if err := validCurrency(currency); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	return s.repo.RateHistory(ctx, currency, limit)
}

// Seed sets rates for currencies that have no active rate yet.
func (s *RateService) Seed(ctx context.Context, seeds map[model.Currency]decimal.Decimal, adminID string) error {
	for currency, rate := range seeds {
		_, err := s.repo.ActiveRate(ctx, s.repo.DB(ctx), currency)
		if err == nil {
			continue
		}
		if !errors.Is(err, apperr.ErrNoActiveRate) {
			return err
		}
		if _, err := s.SetNewRate(ctx, currency, rate, adminID, "initial rate"); err != nil {
			return fmt.Errorf("seed %s: %w", currency, err)
		}
	}
	return nil
}
