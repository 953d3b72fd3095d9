package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/richardliu001/points-ledger/internal/apperr"
	"github.com/richardliu001/points-ledger/internal/gateway"
	"github.com/richardliu001/points-ledger/internal/model"
	"github.com/richardliu001/points-ledger/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PurchaseService sells points for cash through the payment gateway.
type PurchaseService struct {
	repo    repo.RepositoryInterface
	ledger  *LedgerService
	wallets *WalletService
	rates   *RateService
	gateway gateway.Gateway
	maxCash decimal.Decimal
	log     *zap.SugaredLogger
}

type PurchaseRequest struct {
	UserID         string
	CashAmount     decimal.Decimal
	Currency       model.Currency
	Method         gateway.Method
	Details        map[string]interface{}
	IdempotencyKey string
}

type PurchaseResult struct {
	Transaction *model.Transaction `json:"transaction"`
	Wallet      *model.Wallet      `json:"wallet"`
}

func (r PurchaseRequest) validate(maxCash decimal.Decimal) error {
	if strings.TrimSpace(r.UserID) == "" {
		return apperr.Invalid("user_id", "is required")
	}
	if !r.CashAmount.IsPositive() {
		return apperr.Invalid("cash_amount", "must be greater than zero")
	}
	if !r.CashAmount.Equal(r.CashAmount.Truncate(2)) {
		return apperr.Invalid("cash_amount", "must have at most two decimal places")
	}
	if r.CashAmount.GreaterThan(maxCash) {
		return apperr.Invalid("cash_amount", "must not exceed %s", maxCash.String())
	}
	if err := validCurrency(r.Currency); err != nil {
		return err
	}
	if !r.Method.Valid() {
		return apperr.Invalid("payment_method", "unsupported payment method %q", r.Method)
	}
	return nil
}

// BuyPoints charges the user and credits the purchased points.
//
// The PENDING purchase commits before the gateway is called so an interrupted
// charge leaves a trace. Completion and the wallet credit then commit together.
// A decline leaves the purchase FAILED and returns *apperr.PaymentGatewayFailure.
func (s *PurchaseService) BuyPoints(ctx context.Context, req PurchaseRequest) (res *PurchaseResult, err error) {
	ctx, end := begin(ctx, "buy_points")
	defer end(&err)

	if err := req.validate(s.maxCash); err != nil {
		return nil, err
	}
	db := s.repo.DB(ctx)
	if found, prev, err := s.repo.TxExists(ctx, db, req.UserID, req.IdempotencyKey, model.TxPurchase); err != nil {
		return nil, err
	} else if found {
		return s.replay(ctx, prev)
	}

	points, rate, err := s.rates.CalculatePoints(ctx, req.Currency, req.CashAmount)
	if errors.Is(err, errPointsOverflow) {
		return nil, apperr.Invalid("cash_amount", "%s %s buys more points than a wallet can hold", req.CashAmount.String(), req.Currency)
	}
	if err != nil {
		return nil, err
	}
	if points < 1 {
		return nil, apperr.Invalid("cash_amount", "%s %s buys less than one point", req.CashAmount.String(), req.Currency)
	}

	pending, err := s.ledger.Create(ctx, db, Entry{
		UserID:         req.UserID,
		Type:           model.TxPurchase,
		Points:         points,
		Description:    fmt.Sprintf("Purchased %d points for %s %s", points, req.CashAmount.StringFixed(2), req.Currency),
		CashAmount:     req.CashAmount,
		Rate:           rate,
		PaymentMethod:  string(req.Method),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	charge, err := s.gateway.Charge(ctx, gateway.ChargeRequest{
		Method:        req.Method,
		Amount:        req.CashAmount,
		Currency:      string(req.Currency),
		Details:       req.Details,
		TransactionID: pending.ID,
	})
	if err != nil {
		s.log.Errorw("charge failed", "transaction_id", pending.ID, "error", err)
		charge = gateway.Result{Success: false, Reason: "payment provider unavailable"}
	}
	if !charge.Success {
		return nil, s.decline(ctx, pending, charge.Reason)
	}

	var wallet *model.Wallet
	var done *model.Transaction
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		wallet, err = s.wallets.CreditPoints(ctx, tx, req.UserID, points)
		if err != nil {
			return err
		}
		done, err = s.ledger.complete(ctx, tx, pending.ID, map[string]interface{}{
			"payment_reference": charge.Reference,
			"balance_after":     wallet.PointsBalance,
		})
		if err != nil {
			return err
		}
		return writeEvent(ctx, s.repo, tx, "Wallet", req.UserID, "PointsPurchased", map[string]interface{}{
			"transaction_id":    done.ID,
			"points":            points,
			"cash_amount":       req.CashAmount.String(),
			"currency":          req.Currency,
			"exchange_rate":     rate.Rate.String(),
			"payment_reference": charge.Reference,
			"balance":           wallet.PointsBalance,
		})
	})
	if err != nil {
		// The customer was charged but nothing was credited. Keep the
		// reference on the failed row so the charge can be refunded.
		s.log.Errorw("purchase completion failed after successful charge",
			"transaction_id", pending.ID, "payment_reference", charge.Reference, "error", err)
		if _, ferr := s.ledger.Fail(ctx, s.repo.DB(ctx), pending.ID,
			fmt.Sprintf("charge %s succeeded but completion failed: %v", charge.Reference, err)); ferr != nil {
			s.log.Errorw("mark purchase failed", "transaction_id", pending.ID, "error", ferr)
		}
		return nil, fmt.Errorf("complete purchase %s: %w", pending.ID, err)
	}
	s.wallets.forget(ctx, req.UserID)
	s.log.Infow("points purchased", "user_id", req.UserID, "transaction_id", done.ID, "points", points)
	return &PurchaseResult{Transaction: done, Wallet: wallet}, nil
}

func (s *PurchaseService) decline(ctx context.Context, pending *model.Transaction, reason string) error {
	if reason == "" {
		reason = "payment declined"
	}
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ledger.Fail(ctx, tx, pending.ID, reason); err != nil {
			return err
		}
		return writeEvent(ctx, s.repo, tx, "Wallet", pending.UserID, "PurchaseFailed", map[string]interface{}{
			"transaction_id": pending.ID,
			"reason":         reason,
		})
	})
	if err != nil {
		return fmt.Errorf("record declined purchase %s: %w", pending.ID, err)
	}
	s.log.Infow("purchase declined", "user_id", pending.UserID, "transaction_id", pending.ID, "reason", reason)
	return &apperr.PaymentGatewayFailure{Reason: reason, TransactionID: pending.ID}
}

// replay answers a repeated request with the outcome of the first one.
func (s *PurchaseService) replay(ctx context.Context, prev *model.Transaction) (*PurchaseResult, error) {
	if prev.Status == model.StatusFailed {
		return nil, &apperr.PaymentGatewayFailure{Reason: prev.FailureReason, TransactionID: prev.ID}
	}
	w, err := s.wallets.GetOrCreate(ctx, prev.UserID)
	if err != nil {
		return nil, err
	}
	return &PurchaseResult{Transaction: prev, Wallet: w}, nil
}
