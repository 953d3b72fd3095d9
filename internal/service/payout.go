package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/points-ledger/internal/apperr"
	"github.com/richardliu001/points-ledger/internal/gateway"
	"github.com/richardliu001/points-ledger/internal/metrics"
	"github.com/richardliu001/points-ledger/internal/model"
	"github.com/richardliu001/points-ledger/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PayoutService converts points back to cash. Points leave the wallet when
// the request is accepted; a failed or cancelled payout refunds them.
type PayoutService struct {
	repo     repo.RepositoryInterface
	ledger   *LedgerService
	wallets  *WalletService
	rates    *RateService
	minimum  int64
	notifier SettlementNotifier
	log      *zap.SugaredLogger
}

// SetNotifier registers the settlement worker woken after each request.
func (s *PayoutService) SetNotifier(n SettlementNotifier) { s.notifier = n }

// MinimumPoints is the smallest payout accepted.
func (s *PayoutService) MinimumPoints() int64 { return s.minimum }

type PayoutInput struct {
	UserID         string
	Points         int64
	Currency       model.Currency
	Method         gateway.Method
	Details        map[string]interface{}
	IdempotencyKey string
}

type PayoutResult struct {
	Payout *model.PayoutRequest `json:"payout"`
	Wallet *model.Wallet        `json:"wallet"`
}

func (in PayoutInput) validate(minimum int64) error {
	if strings.TrimSpace(in.UserID) == "" {
		return apperr.Invalid("user_id", "is required")
	}
	if in.Points < minimum {
		return apperr.Invalid("points", "minimum payout is %d points", minimum)
	}
	if err := validCurrency(in.Currency); err != nil {
		return err
	}
	if !in.Method.Valid() {
		return apperr.Invalid("payout_method", "unsupported payout method %q", in.Method)
	}
	return nil
}

// RequestPayout debits the points, records the SALE and queues the PENDING
// payout for settlement, all in one transaction.
func (s *PayoutService) RequestPayout(ctx context.Context, in PayoutInput) (res *PayoutResult, err error) {
	ctx, end := begin(ctx, "request_payout")
	defer end(&err)

	if err := in.validate(s.minimum); err != nil {
		return nil, err
	}
	db := s.repo.DB(ctx)
	if found, prev, err := s.repo.TxExists(ctx, db, in.UserID, in.IdempotencyKey, model.TxSale); err != nil {
		return nil, err
	} else if found {
		p, err := s.repo.GetPayoutByTransaction(ctx, db, prev.ID)
		if err != nil {
			return nil, err
		}
		w, err := s.wallets.GetOrCreate(ctx, in.UserID)
		if err != nil {
			return nil, err
		}
		return &PayoutResult{Payout: p, Wallet: w}, nil
	}

	ok, err := s.wallets.HasSufficientBalance(ctx, in.UserID, in.Points)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrInsufficientBalance
	}
	cash, rate, err := s.rates.CalculateCash(ctx, in.Currency, in.Points)
	if err != nil {
		return nil, err
	}
	details, err := jsonOrNil(in.Details)
	if err != nil {
		return nil, apperr.Invalid("payout_details", "%v", err)
	}

	payoutID := uuid.NewString()
	var (
		payout *model.PayoutRequest
		wallet *model.Wallet
	)
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		wallet, err = s.wallets.DebitPoints(ctx, tx, in.UserID, in.Points)
		if err != nil {
			return err
		}
		balance := wallet.PointsBalance
		sale, err := s.ledger.Create(ctx, tx, Entry{
			UserID:          in.UserID,
			Type:            model.TxSale,
			Points:          -in.Points,
			Description:     fmt.Sprintf("Payout of %d points for %s %s", in.Points, cash.StringFixed(2), in.Currency),
			CashAmount:      cash,
			Rate:            rate,
			PaymentMethod:   string(in.Method),
			RelatedPayoutID: &payoutID,
			IdempotencyKey:  in.IdempotencyKey,
			BalanceAfter:    &balance,
			Immediate:       true,
		})
		if err != nil {
			return err
		}
		payout = &model.PayoutRequest{
			ID:             payoutID,
			UserID:         in.UserID,
			PointsAmount:   in.Points,
			CashAmount:     cash,
			Currency:       in.Currency,
			ExchangeRate:   rate.Rate,
			ExchangeRateID: rate.ID,
			PayoutMethod:   string(in.Method),
			PayoutDetails:  details,
			Status:         model.PayoutPending,
			TransactionID:  sale.ID,
		}
		if err := s.repo.CreatePayout(ctx, tx, payout); err != nil {
			return err
		}
		if err := s.repo.CreateSettlementJob(ctx, tx, &model.SettlementJob{
			PayoutID:    payoutID,
			Status:      model.JobPending,
			AvailableAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return writeEvent(ctx, s.repo, tx, "Payout", payoutID, "PayoutRequested", map[string]interface{}{
			"user_id":        in.UserID,
			"transaction_id": sale.ID,
			"points":         in.Points,
			"cash_amount":    cash.String(),
			"currency":       in.Currency,
			"method":         in.Method,
		})
	})
	if err != nil {
		return nil, err
	}
	s.wallets.forget(ctx, in.UserID)
	if s.notifier != nil {
		s.notifier.Notify()
	}
	s.log.Infow("payout requested", "user_id", in.UserID, "payout_id", payoutID, "points", in.Points)
	return &PayoutResult{Payout: payout, Wallet: wallet}, nil
}

// Get returns one payout request.
func (s *PayoutService) Get(ctx context.Context, id string) (*model.PayoutRequest, error) {
	return s.repo.GetPayout(ctx, s.repo.DB(ctx), id)
}

func (s *PayoutService) List(ctx context.Context, f repo.PayoutFilter) ([]model.PayoutRequest, int64, error) {
	if f.Limit <= 0 || f.Limit > maxPageSize {
		f.Limit = defaultPageSize
	}
	items, total, err := s.repo.ListPayouts(ctx, f)
	if items == nil {
		items = []model.PayoutRequest{}
	}
	return items, total, err
}

// MarkProcessing moves a PENDING payout to PROCESSING before the gateway call.
func (s *PayoutService) MarkProcessing(ctx context.Context, id string) error {
	db := s.repo.DB(ctx)
	moved, err := s.repo.TransitionPayout(ctx, db, id, []model.PayoutStatus{model.PayoutPending}, map[string]interface{}{
		"status": model.PayoutProcessing,
	})
	if err != nil {
		return err
	}
	if moved {
		return nil
	}
	p, err := s.repo.GetPayout(ctx, db, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("payout %s is %s: %w", id, p.Status, apperr.ErrImmutableTransaction)
}

// Settle records the gateway outcome. A second call for the same payout
// returns apperr.ErrImmutableTransaction and changes nothing.
func (s *PayoutService) Settle(ctx context.Context, id string, success bool, reference, reason string) (p *model.PayoutRequest, err error) {
	ctx, end := begin(ctx, "settle_payout")
	defer end(&err)

	target := model.PayoutFailed
	if success {
		target = model.PayoutCompleted
	}
	return s.settle(ctx, id, settlement{
		from:      []model.PayoutStatus{model.PayoutPending, model.PayoutProcessing},
		to:        target,
		reference: reference,
		reason:    reason,
	})
}

// Cancel withdraws a PENDING payout on behalf of its owner and refunds the
// points. Once the settlement worker has picked it up it can no longer be
// cancelled.
func (s *PayoutService) Cancel(ctx context.Context, id, userID string) (p *model.PayoutRequest, err error) {
	ctx, end := begin(ctx, "cancel_payout")
	defer end(&err)

	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.UserID != userID {
		return nil, fmt.Errorf("payout %s: %w", id, apperr.ErrNotFound)
	}
	return s.settle(ctx, id, settlement{
		from:   []model.PayoutStatus{model.PayoutPending},
		to:     model.PayoutCancelled,
		reason: "cancelled by user",
	})
}

type settlement struct {
	from      []model.PayoutStatus
	to        model.PayoutStatus
	reference string
	reason    string
	reviewer  string
	notes     string
}

func (s *PayoutService) settle(ctx context.Context, id string, st settlement) (*model.PayoutRequest, error) {
	now := time.Now()
	updates := map[string]interface{}{
		"status":       st.to,
		"completed_at": now,
	}
	if st.to == model.PayoutCompleted {
		updates["payment_reference"] = model.Truncate(st.reference, maxReferenceLength)
	} else {
		reason := st.reason
		if reason == "" {
			reason = "payout failed"
		}
		updates["failure_reason"] = model.Truncate(reason, model.MaxTextLength)
	}
	if st.reviewer != "" {
		updates["reviewed_by"] = st.reviewer
		updates["reviewed_at"] = now
		updates["admin_notes"] = model.Truncate(st.notes, model.MaxTextLength)
	}

	var out *model.PayoutRequest
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		moved, err := s.repo.TransitionPayout(ctx, tx, id, st.from, updates)
		if err != nil {
			return err
		}
		cur, err := s.repo.GetPayout(ctx, tx, id)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("payout %s is %s: %w", id, cur.Status, apperr.ErrImmutableTransaction)
		}

		payload := map[string]interface{}{
			"user_id": cur.UserID,
			"points":  cur.PointsAmount,
			"status":  cur.Status,
		}
		if st.to != model.PayoutCompleted {
			refund, err := s.refund(ctx, tx, cur)
			if err != nil {
				return err
			}
			if _, err := s.repo.TransitionPayout(ctx, tx, id, []model.PayoutStatus{st.to}, map[string]interface{}{
				"refund_transaction_id": refund.ID,
			}); err != nil {
				return err
			}
			cur.RefundTransactionID = &refund.ID
			payload["refund_transaction_id"] = refund.ID
			payload["reason"] = cur.FailureReason
		} else {
			payload["payment_reference"] = cur.PaymentReference
		}
		out = cur
		return writeEvent(ctx, s.repo, tx, "Payout", id, payoutEvent(st.to), payload)
	})
	if err != nil {
		return nil, err
	}
	metrics.Settlements.WithLabelValues(strings.ToLower(string(st.to))).Inc()
	if st.to != model.PayoutCompleted {
		s.wallets.forget(ctx, out.UserID)
	}
	s.log.Infow("payout settled", "payout_id", id, "status", out.Status, "user_id", out.UserID)
	return out, nil
}

func (s *PayoutService) refund(ctx context.Context, tx *gorm.DB, p *model.PayoutRequest) (*model.Transaction, error) {
	w, err := s.wallets.CreditPoints(ctx, tx, p.UserID, p.PointsAmount)
	if err != nil {
		return nil, err
	}
	balance := w.PointsBalance
	payoutID := p.ID
	return s.ledger.Create(ctx, tx, Entry{
		UserID:          p.UserID,
		Type:            model.TxRefund,
		Points:          p.PointsAmount,
		Description:     model.Truncate(fmt.Sprintf("Refund of payout %s: %s", p.ID, p.FailureReason), model.MaxTextLength),
		RelatedPayoutID: &payoutID,
		BalanceAfter:    &balance,
		Immediate:       true,
	})
}

func payoutEvent(status model.PayoutStatus) string {
	switch status {
	case model.PayoutCompleted:
		return "PayoutCompleted"
	case model.PayoutCancelled:
		return "PayoutCancelled"
	default:
		return "PayoutFailed"
	}
}
