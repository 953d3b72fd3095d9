package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/points-ledger/internal/apperr"
	"github.com/richardliu001/points-ledger/internal/model"
	"github.com/richardliu001/points-ledger/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WalletService glues wallet state and the ledger.
type WalletService struct {
	repo     repo.RepositoryInterface
	ledger   *LedgerService
	currency model.Currency
	log      *zap.SugaredLogger
}

// GetOrCreate returns the user's wallet, creating a zero wallet if absent.
func (s *WalletService) GetOrCreate(ctx context.Context, userID string) (*model.Wallet, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Invalid("user_id", "is required")
	}
	db := s.repo.DB(ctx)
	if err := s.repo.EnsureWallet(ctx, db, userID, s.currency); err != nil {
		return nil, err
	}
	return s.repo.GetWallet(ctx, db, userID)
}

// CreditPoints adds amount to the wallet on tx and returns the new state.
func (s *WalletService) CreditPoints(ctx context.Context, tx *gorm.DB, userID string, amount int64) (*model.Wallet, error) {
	if amount <= 0 {
		return nil, apperr.Invalid("amount", "must be a positive integer")
	}
	if err := s.repo.EnsureWallet(ctx, tx, userID, s.currency); err != nil {
		return nil, err
	}
	if err := s.repo.CreditWallet(ctx, tx, userID, amount); err != nil {
		return nil, err
	}
	return s.repo.GetWallet(ctx, tx, userID)
}

// DebitPoints removes amount from the wallet on tx. It fails with
// apperr.ErrInsufficientBalance unless the stored balance covers amount at
// the moment of the write.
func (s *WalletService) DebitPoints(ctx context.Context, tx *gorm.DB, userID string, amount int64) (*model.Wallet, error) {
	if amount <= 0 {
		return nil, apperr.Invalid("amount", "must be a positive integer")
	}
	if err := s.repo.DebitWallet(ctx, tx, userID, amount); err != nil {
		return nil, err
	}
	return s.repo.GetWallet(ctx, tx, userID)
}

// HasSufficientBalance is an advisory pre-check; DebitPoints is authoritative.
func (s *WalletService) HasSufficientBalance(ctx context.Context, userID string, amount int64) (bool, error) {
	w, err := s.repo.GetWallet(ctx, s.repo.DB(ctx), userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return amount <= 0, nil
	}
	if err != nil {
		return false, err
	}
	return w.AvailableBalance() >= amount, nil
}

// Balance returns the wallet, served from cache when possible.
func (s *WalletService) Balance(ctx context.Context, userID string) (*model.Wallet, error) {
	w, err := s.repo.GetCachedWallet(ctx, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, redis.Nil) {
		s.log.Warnw("wallet cache read failed", "user_id", userID, "error", err)
	}
	gen, genErr := s.repo.WalletCacheGeneration(ctx, userID)
	w, err = s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if genErr != nil {
		s.log.Warnw("wallet cache generation read failed", "user_id", userID, "error", genErr)
		return w, nil
	}
	if err := s.repo.CacheWallet(ctx, w, gen); err != nil {
		s.log.Warnw("wallet cache write failed", "user_id", userID, "error", err)
	}
	return w, nil
}

// forget drops the cached wallet after a committed mutation.
func (s *WalletService) forget(ctx context.Context, userID string) {
	if err := s.repo.InvalidateWallet(ctx, userID); err != nil {
		s.log.Warnw("wallet cache invalidate failed", "user_id", userID, "error", err)
	}
}

// EntryRequest is a credit or debit requested by another subsystem, such as
// course enrollment. Points is a positive magnitude.
type EntryRequest struct {
	UserID         string
	Type           model.TransactionType
	Points         int64
	Description    string
	IdempotencyKey string
	Metadata       map[string]interface{}
}

var (
	creditTypes = map[model.TransactionType]bool{model.TxBonus: true, model.TxRefund: true, model.TxEnrollment: true}
	debitTypes  = map[model.TransactionType]bool{model.TxEnrollment: true}
)

// Credit records a COMPLETED ledger entry and credits the wallet atomically.
func (s *WalletService) Credit(ctx context.Context, req EntryRequest) (t *model.Transaction, w *model.Wallet, err error) {
	ctx, end := begin(ctx, "wallet_credit")
	defer end(&err)

	if req.Type == "" {
		req.Type = model.TxBonus
	}
	if !creditTypes[req.Type] {
		return nil, nil, apperr.Invalid("type", "%s cannot be credited through this call", req.Type)
	}
	return s.apply(ctx, req, req.Points)
}

// Debit records a COMPLETED ledger entry and debits the wallet atomically.
func (s *WalletService) Debit(ctx context.Context, req EntryRequest) (t *model.Transaction, w *model.Wallet, err error) {
	ctx, end := begin(ctx, "wallet_debit")
	defer end(&err)

	if req.Type == "" {
		req.Type = model.TxEnrollment
	}
	if !debitTypes[req.Type] {
		return nil, nil, apperr.Invalid("type", "%s cannot be debited through this call", req.Type)
	}
	return s.apply(ctx, req, -req.Points)
}

func (s *WalletService) apply(ctx context.Context, req EntryRequest, signed int64) (*model.Transaction, *model.Wallet, error) {
	if req.Points <= 0 {
		return nil, nil, apperr.Invalid("points", "must be a positive integer")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, nil, apperr.Invalid("user_id", "is required")
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, nil, apperr.Invalid("description", "is required")
	}

	db := s.repo.DB(ctx)
	if found, prev, err := s.repo.TxExists(ctx, db, req.UserID, req.IdempotencyKey, req.Type); err != nil {
		return nil, nil, err
	} else if found {
		w, err := s.GetOrCreate(ctx, req.UserID)
		return prev, w, err
	}

	var (
		t *model.Transaction
		w *model.Wallet
	)
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		if signed > 0 {
			w, err = s.CreditPoints(ctx, tx, req.UserID, signed)
		} else {
			w, err = s.DebitPoints(ctx, tx, req.UserID, -signed)
		}
		if err != nil {
			return err
		}
		balance := w.PointsBalance
		t, err = s.ledger.Create(ctx, tx, Entry{
			UserID:         req.UserID,
			Type:           req.Type,
			Points:         signed,
			Description:    req.Description,
			IdempotencyKey: req.IdempotencyKey,
			Metadata:       req.Metadata,
			BalanceAfter:   &balance,
			Immediate:      true,
		})
		if err != nil {
			return err
		}
		eventType := "PointsCredited"
		if signed < 0 {
			eventType = "PointsDebited"
		}
		return writeEvent(ctx, s.repo, tx, "Wallet", req.UserID, eventType, map[string]interface{}{
			"transaction_id": t.ID,
			"type":           t.Type,
			"points":         signed,
			"balance":        balance,
		})
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", strings.ToLower(string(req.Type)), req.UserID, err)
	}
	s.forget(ctx, req.UserID)
	return t, w, nil
}
