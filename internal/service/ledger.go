package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/richardliu001/points-ledger/internal/apperr"
	"github.com/richardliu001/points-ledger/internal/metrics"
	"github.com/richardliu001/points-ledger/internal/model"
	"github.com/richardliu001/points-ledger/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// LedgerService owns the append-only transaction log.
type LedgerService struct {
	repo    repo.RepositoryInterface
	wallets *WalletService
	log     *zap.SugaredLogger
}

// Entry describes a ledger row to insert. Points is signed.
type Entry struct {
	UserID           string
	Type             model.TransactionType
	Points           int64
	Description      string
	CashAmount       decimal.Decimal
	Rate             *model.ExchangeRate
	PaymentMethod    string
	PaymentReference string
	RelatedPayoutID  *string
	ReversalOfID     *string
	AdminID          string
	IdempotencyKey   string
	BalanceAfter     *int64
	Metadata         map[string]interface{}
	Immediate        bool // insert as COMPLETED instead of PENDING
}

func (e Entry) validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return apperr.Invalid("user_id", "is required")
	}
	if !e.Type.Valid() {
		return apperr.Invalid("type", "unknown transaction type %q", e.Type)
	}
	if e.Points == 0 {
		return apperr.Invalid("points_amount", "must not be zero")
	}
	switch e.Type.Direction() {
	case 1:
		if e.Points < 0 {
			return apperr.Invalid("points_amount", "%s must be a credit", e.Type)
		}
	case -1:
		if e.Points > 0 {
			return apperr.Invalid("points_amount", "%s must be a debit", e.Type)
		}
	}
	if strings.TrimSpace(e.Description) == "" {
		return apperr.Invalid("description", "is required")
	}
	if err := checkLength("description", strings.TrimSpace(e.Description), model.MaxTextLength); err != nil {
		return err
	}
	if e.CashAmount.IsNegative() {
		return apperr.Invalid("cash_amount", "must not be negative")
	}
	return nil
}

// Create validates and inserts an entry on tx.
func (s *LedgerService) Create(ctx context.Context, tx *gorm.DB, e Entry) (*model.Transaction, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	meta, err := jsonOrNil(e.Metadata)
	if err != nil {
		return nil, apperr.Invalid("metadata", "%v", err)
	}
	t := &model.Transaction{
		UserID:           e.UserID,
		Type:             e.Type,
		PointsAmount:     e.Points,
		CashAmount:       e.CashAmount,
		Status:           model.StatusPending,
		Description:      strings.TrimSpace(e.Description),
		RelatedPayoutID:  e.RelatedPayoutID,
		ReversalOfID:     e.ReversalOfID,
		BalanceAfter:     e.BalanceAfter,
		PaymentMethod:    e.PaymentMethod,
		PaymentReference: e.PaymentReference,
		AdminID:          strPtr(e.AdminID),
		IdempotencyKey:   strPtr(e.IdempotencyKey),
		Metadata:         meta,
	}
	if e.Rate != nil {
		t.Currency = e.Rate.Currency
		t.ExchangeRate = e.Rate.Rate
		t.ExchangeRateID = &e.Rate.ID
	}
	if e.Immediate {
		now := time.Now()
		t.Status = model.StatusCompleted
		t.CompletedAt = &now
	}
	if err := s.repo.CreateTransaction(ctx, tx, t); err != nil {
		return nil, err
	}
	if e.Immediate {
		metrics.Points.WithLabelValues(string(t.Type)).Add(float64(abs(t.PointsAmount)))
	}
	return t, nil
}

// Complete moves a PENDING entry to COMPLETED.
func (s *LedgerService) Complete(ctx context.Context, tx *gorm.DB, id string) (*model.Transaction, error) {
	return s.complete(ctx, tx, id, nil)
}

func (s *LedgerService) complete(ctx context.Context, tx *gorm.DB, id string, extra map[string]interface{}) (*model.Transaction, error) {
	updates := map[string]interface{}{
		"status":       model.StatusCompleted,
		"completed_at": time.Now(),
	}
	for k, v := range extra {
		updates[k] = v
	}
	t, err := s.transition(ctx, tx, id, updates)
	if err != nil {
		return nil, err
	}
	metrics.Points.WithLabelValues(string(t.Type)).Add(float64(abs(t.PointsAmount)))
	return t, nil
}

// Fail moves a PENDING entry to FAILED, keeping it as a permanent record.
func (s *LedgerService) Fail(ctx context.Context, tx *gorm.DB, id, reason string) (*model.Transaction, error) {
	reason = model.Truncate(reason, model.MaxTextLength)
	return s.transition(ctx, tx, id, map[string]interface{}{
		"status":         model.StatusFailed,
		"failure_reason": reason,
		"completed_at":   time.Now(),
	})
}

func (s *LedgerService) transition(ctx context.Context, tx *gorm.DB, id string, updates map[string]interface{}) (*model.Transaction, error) {
	moved, err := s.repo.TransitionTransaction(ctx, tx, id, model.StatusPending, updates)
	if err != nil {
		return nil, err
	}
	t, err := s.repo.GetTransaction(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, fmt.Errorf("transaction %s is %s: %w", id, t.Status, apperr.ErrImmutableTransaction)
	}
	return t, nil
}

// Reverse undoes a COMPLETED entry by marking it REVERSED and appending a
// REVERSAL with the negated amount, applying the matching wallet change.
func (s *LedgerService) Reverse(ctx context.Context, id, reason, adminID string) (rev *model.Transaction, err error) {
	ctx, end := begin(ctx, "reverse_transaction")
	defer end(&err)

	if strings.TrimSpace(adminID) == "" {
		return nil, apperr.ErrUnauthorized
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Invalid("reason", "is required")
	}
	if err := checkLength("reason", reason, maxReasonLength); err != nil {
		return nil, err
	}

	var wallet *model.Wallet
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		orig, err := s.repo.GetTransaction(ctx, tx, id)
		if err != nil {
			return err
		}
		if orig.Type == model.TxReversal {
			return apperr.Invalid("id", "a reversal cannot itself be reversed")
		}
		// Payout rows are compensated by the payout itself (refund on
		// failure or cancel), never by a manual reversal.
		if orig.RelatedPayoutID != nil {
			return apperr.Invalid("id", "transaction belongs to payout %s; reject or cancel the payout instead", *orig.RelatedPayoutID)
		}
		moved, err := s.repo.TransitionTransaction(ctx, tx, id, model.StatusCompleted, map[string]interface{}{
			"status": model.StatusReversed,
		})
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("transaction %s is %s: %w", id, orig.Status, apperr.ErrImmutableTransaction)
		}

		points := -orig.PointsAmount
		if points > 0 {
			wallet, err = s.wallets.CreditPoints(ctx, tx, orig.UserID, points)
		} else {
			wallet, err = s.wallets.DebitPoints(ctx, tx, orig.UserID, -points)
		}
		if err != nil {
			return err
		}
		balance := wallet.PointsBalance
		rev, err = s.Create(ctx, tx, Entry{
			UserID:       orig.UserID,
			Type:         model.TxReversal,
			Points:       points,
			Description:  fmt.Sprintf("Reversal of %s: %s", orig.ID, reason),
			ReversalOfID: &orig.ID,
			AdminID:      adminID,
			BalanceAfter: &balance,
			Immediate:    true,
		})
		if err != nil {
			return err
		}
		return writeEvent(ctx, s.repo, tx, "Transaction", orig.ID, "TransactionReversed", map[string]interface{}{
			"transaction_id": orig.ID,
			"reversal_id":    rev.ID,
			"user_id":        orig.UserID,
			"points":         points,
			"admin_id":       adminID,
		})
	})
	if err != nil {
		return nil, err
	}
	s.wallets.forget(ctx, wallet.UserID)
	s.log.Infow("transaction reversed", "transaction_id", id, "reversal_id", rev.ID, "admin_id", adminID)
	return rev, nil
}

// CalculateBalance recomputes a balance from settled entries. Reconciliation
// only; live reads use the wallet row.
func (s *LedgerService) CalculateBalance(ctx context.Context, userID string) (repo.LedgerSums, error) {
	return s.repo.SumPoints(ctx, userID)
}

// Get returns one entry.
func (s *LedgerService) Get(ctx context.Context, id string) (*model.Transaction, error) {
	return s.repo.GetTransaction(ctx, s.repo.DB(ctx), id)
}

type HistoryQuery struct {
	UserID   string
	Type     model.TransactionType
	Status   model.TransactionStatus
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

type HistoryPage struct {
	Items    []model.Transaction `json:"items"`
	Total    int64               `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
}

// History returns one page of entries, newest first.
func (s *LedgerService) History(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	if q.Type != "" && !q.Type.Valid() {
		return nil, apperr.Invalid("type", "unknown transaction type %q", q.Type)
	}
	switch q.Status {
	case "", model.StatusPending, model.StatusCompleted, model.StatusFailed, model.StatusReversed:
	default:
		return nil, apperr.Invalid("status", "unknown status %q", q.Status)
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return nil, apperr.Invalid("to", "must not be before from")
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}
	items, total, err := s.repo.ListTransactions(ctx, repo.TransactionFilter{
		UserID: q.UserID,
		Type:   q.Type,
		Status: q.Status,
		From:   q.From,
		To:     q.To,
		Limit:  q.PageSize,
		Offset: (q.Page - 1) * q.PageSize,
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.Transaction{}
	}
	return &HistoryPage{Items: items, Total: total, Page: q.Page, PageSize: q.PageSize}, nil
}

func isImmutable(err error) bool { return errors.Is(err, apperr.ErrImmutableTransaction) }
