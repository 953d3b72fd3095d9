package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/richardliu001/points-ledger/internal/apperr"
	"github.com/richardliu001/points-ledger/internal/model"
	"github.com/richardliu001/points-ledger/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const minAdjustReason = 10

// AdminService holds the privileged operations. Every method requires a
// non-empty admin ID; authentication happens in the transport layer.
type AdminService struct {
	repo    repo.RepositoryInterface
	ledger  *LedgerService
	wallets *WalletService
	rates   *RateService
	payouts *PayoutService
	log     *zap.SugaredLogger
}

type AdjustKind string

const (
	AdjustCredit AdjustKind = "CREDIT"
	AdjustDebit  AdjustKind = "DEBIT"
)

type AdjustRequest struct {
	AdminID string
	UserID  string
	Points  int64
	Kind    AdjustKind
	Reason  string
}

type PayoutAction string

const (
	ApprovePayout PayoutAction = "APPROVE"
	RejectPayout  PayoutAction = "REJECT"
)

// WalletDetails compares the stored wallet with the balance derived from the
// ledger.
type WalletDetails struct {
	Wallet       *model.Wallet   `json:"wallet"`
	Ledger       repo.LedgerSums `json:"ledger"`
	BalanceMatch bool            `json:"balance_match"`
}

// Mismatch is a wallet whose stored balance disagrees with its ledger.
type Mismatch struct {
	UserID      string `json:"user_id"`
	Stored      int64  `json:"stored_balance"`
	FromLedger  int64  `json:"ledger_balance"`
	Discrepancy int64  `json:"discrepancy"`
}

type Stats struct {
	Wallets repo.WalletTotals  `json:"wallets"`
	ByType  []repo.TypeTotal   `json:"transactions_by_type"`
	Payouts []repo.StatusCount `json:"payouts_by_status"`
}

func requireAdmin(adminID string) error {
	if strings.TrimSpace(adminID) == "" {
		return apperr.ErrUnauthorized
	}
	return nil
}

// AdjustBalance writes an ADMIN_CREDIT or ADMIN_DEBIT with an audit reason.
func (s *AdminService) AdjustBalance(ctx context.Context, req AdjustRequest) (t *model.Transaction, err error) {
	ctx, end := begin(ctx, "admin_adjust")
	defer end(&err)

	if err := requireAdmin(req.AdminID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, apperr.Invalid("user_id", "is required")
	}
	if req.Points == 0 {
		return nil, apperr.Invalid("points", "must not be zero")
	}
	reason := strings.TrimSpace(req.Reason)
	if len(reason) < minAdjustReason {
		return nil, apperr.Invalid("reason", "must be at least %d characters", minAdjustReason)
	}
	if err := checkLength("reason", reason, maxReasonLength); err != nil {
		return nil, err
	}
	points := abs(req.Points)
	txType := model.TxAdminCredit
	switch req.Kind {
	case AdjustCredit:
	case AdjustDebit:
		txType = model.TxAdminDebit
		ok, err := s.wallets.HasSufficientBalance(ctx, req.UserID, points)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.ErrInsufficientBalance
		}
	default:
		return nil, apperr.Invalid("kind", "must be CREDIT or DEBIT")
	}

	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var (
			w   *model.Wallet
			err error
		)
		signed := points
		if txType == model.TxAdminDebit {
			signed = -points
			w, err = s.wallets.DebitPoints(ctx, tx, req.UserID, points)
		} else {
			w, err = s.wallets.CreditPoints(ctx, tx, req.UserID, points)
		}
		if err != nil {
			return err
		}
		balance := w.PointsBalance
		t, err = s.ledger.Create(ctx, tx, Entry{
			UserID:       req.UserID,
			Type:         txType,
			Points:       signed,
			Description:  reason,
			AdminID:      req.AdminID,
			BalanceAfter: &balance,
			Immediate:    true,
		})
		if err != nil {
			return err
		}
		return writeEvent(ctx, s.repo, tx, "Wallet", req.UserID, "BalanceAdjusted", map[string]interface{}{
			"transaction_id": t.ID,
			"points":         signed,
			"balance":        balance,
			"admin_id":       req.AdminID,
			"reason":         reason,
		})
	})
	if err != nil {
		return nil, err
	}
	s.wallets.forget(ctx, req.UserID)
	s.log.Infow("balance adjusted", "user_id", req.UserID, "points", t.PointsAmount, "admin_id", req.AdminID)
	return t, nil
}

// ProcessPayout settles a payout by hand. APPROVE completes it with note as
// the payment reference; REJECT fails it with note as the reason and refunds.
func (s *AdminService) ProcessPayout(ctx context.Context, adminID, payoutID string, action PayoutAction, note string) (p *model.PayoutRequest, err error) {
	ctx, end := begin(ctx, "admin_process_payout")
	defer end(&err)

	if err := requireAdmin(adminID); err != nil {
		return nil, err
	}
	note = strings.TrimSpace(note)
	if err := checkLength("note", note, maxReasonLength); err != nil {
		return nil, err
	}
	st := settlement{
		from:     []model.PayoutStatus{model.PayoutPending, model.PayoutProcessing},
		reviewer: adminID,
		notes:    note,
	}
	switch action {
	case ApprovePayout:
		if err := checkLength("note", note, maxReferenceLength); err != nil {
			return nil, err
		}
		st.to = model.PayoutCompleted
		st.reference = note
		if st.reference == "" {
			st.reference = "MANUAL-" + adminID
		}
	case RejectPayout:
		if note == "" {
			return nil, apperr.Invalid("reason", "is required to reject a payout")
		}
		st.to = model.PayoutFailed
		st.reason = note
	default:
		return nil, apperr.Invalid("action", "must be APPROVE or REJECT")
	}
	return s.payouts.settle(ctx, payoutID, st)
}

// SetRate changes the active exchange rate.
func (s *AdminService) SetRate(ctx context.Context, adminID string, currency model.Currency, rate decimal.Decimal, reason string) (*model.ExchangeRate, error) {
	if err := requireAdmin(adminID); err != nil {
		return nil, err
	}
	return s.rates.SetNewRate(ctx, currency, rate, adminID, reason)
}

func (s *AdminService) RateHistory(ctx context.Context, adminID string, currency model.Currency, limit int) ([]model.ExchangeRate, error) {
	if err := requireAdmin(adminID); err != nil {
		return nil, err
	}
	return s.rates.History(ctx, currency, limit)
}

func (s *AdminService) ListPayouts(ctx context.Context, adminID string, f repo.PayoutFilter) ([]model.PayoutRequest, int64, error) {
	if err := requireAdmin(adminID); err != nil {
		return nil, 0, err
	}
	if f.Status != "" {
		switch f.Status {
		case model.PayoutPending, model.PayoutProcessing, model.PayoutCompleted, model.PayoutFailed, model.PayoutCancelled:
		default:
			return nil, 0, apperr.Invalid("status", "unknown payout status %q", f.Status)
		}
	}
	return s.payouts.List(ctx, f)
}

func (s *AdminService) ReverseTransaction(ctx context.Context, adminID, transactionID, reason string) (*model.Transaction, error) {
	return s.ledger.Reverse(ctx, transactionID, reason, adminID)
}

// GetUserWalletDetails returns the wallet alongside its ledger-derived balance.
func (s *AdminService) GetUserWalletDetails(ctx context.Context, adminID, userID string) (*WalletDetails, error) {
	if err := requireAdmin(adminID); err != nil {
		return nil, err
	}
	w, err := s.repo.GetWallet(ctx, s.repo.DB(ctx), userID)
	if err != nil {
		return nil, err
	}
	sums, err := s.ledger.CalculateBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &WalletDetails{Wallet: w, Ledger: sums, BalanceMatch: sums.Total == w.PointsBalance}, nil
}

// Reconcile compares every wallet with its ledger and returns the ones that
// disagree.
func (s *AdminService) Reconcile(ctx context.Context) (out []Mismatch, err error) {
	ctx, end := begin(ctx, "reconcile")
	defer end(&err)

	const batch = 200
	out = []Mismatch{}
	for offset := 0; ; offset += batch {
		wallets, err := s.repo.ListWallets(ctx, batch, offset)
		if err != nil {
			return nil, err
		}
		for _, w := range wallets {
			sums, err := s.ledger.CalculateBalance(ctx, w.UserID)
			if err != nil {
				return nil, fmt.Errorf("reconcile %s: %w", w.UserID, err)
			}
			if sums.Total != w.PointsBalance {
				s.log.Warnw("wallet balance mismatch", "user_id", w.UserID, "stored", w.PointsBalance, "ledger", sums.Total)
				out = append(out, Mismatch{
					UserID:      w.UserID,
					Stored:      w.PointsBalance,
					FromLedger:  sums.Total,
					Discrepancy: w.PointsBalance - sums.Total,
				})
			}
		}
		if len(wallets) < batch {
			return out, nil
		}
	}
}

// Stats summarises wallets, ledger volume and payouts.
func (s *AdminService) Stats(ctx context.Context, adminID string) (*Stats, error) {
	if err := requireAdmin(adminID); err != nil {
		return nil, err
	}
	totals, err := s.repo.WalletTotals(ctx)
	if err != nil {
		return nil, err
	}
	byType, err := s.repo.TotalsByType(ctx)
	if err != nil {
		return nil, err
	}
	payouts, err := s.repo.PayoutCounts(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{Wallets: totals, ByType: byType, Payouts: payouts}, nil
}
