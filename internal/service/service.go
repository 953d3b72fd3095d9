package service

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/richardliu001/points-ledger/internal/apperr"
	"github.com/richardliu001/points-ledger/internal/gateway"
	"github.com/richardliu001/points-ledger/internal/metrics"
	"github.com/richardliu001/points-ledger/internal/model"
	"github.com/richardliu001/points-ledger/internal/repo"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("points-ledger/service")

// DefaultMinimumPayoutPoints is used when Options leaves the threshold unset.
const DefaultMinimumPayoutPoints int64 = 100

// DefaultMaxPurchaseAmount caps a single purchase when Options leaves it unset.
var DefaultMaxPurchaseAmount = decimal.NewFromInt(100000)

const (
	// maxReasonLength leaves room for the prefix a reason is embedded in.
	maxReasonLength = 200
	// maxReferenceLength is the width of payment_reference.
	maxReferenceLength = 128
)

type Options struct {
	MinimumPayoutPoints int64
	MaxPurchaseAmount   decimal.Decimal
	DefaultCurrency     model.Currency
}

// Services bundles the ledger components sharing one repository.
type Services struct {
	Ledger    *LedgerService
	Wallets   *WalletService
	Rates     *RateService
	Purchases *PurchaseService
	Payouts   *PayoutService
	Admin     *AdminService
}

// SettlementNotifier is woken after a payout request commits.
type SettlementNotifier interface {
	Notify()
}

// New wires every service.
func New(r repo.RepositoryInterface, gw gateway.Gateway, opts Options, log *zap.SugaredLogger) *Services {
	if opts.MinimumPayoutPoints <= 0 {
		opts.MinimumPayoutPoints = DefaultMinimumPayoutPoints
	}
	if !opts.MaxPurchaseAmount.IsPositive() {
		opts.MaxPurchaseAmount = DefaultMaxPurchaseAmount
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = model.USD
	}

	ledger := &LedgerService{repo: r, log: log}
	wallets := &WalletService{repo: r, ledger: ledger, currency: opts.DefaultCurrency, log: log}
	ledger.wallets = wallets
	rates := &RateService{repo: r, log: log}
	payouts := &PayoutService{
		repo: r, ledger: ledger, wallets: wallets, rates: rates,
		minimum: opts.MinimumPayoutPoints, log: log,
	}
	purchases := &PurchaseService{
		repo: r, ledger: ledger, wallets: wallets, rates: rates, gateway: gw,
		maxCash: opts.MaxPurchaseAmount, log: log,
	}
	admin := &AdminService{
		repo: r, ledger: ledger, wallets: wallets, rates: rates, payouts: payouts, log: log,
	}
	return &Services{
		Ledger:    ledger,
		Wallets:   wallets,
		Rates:     rates,
		Purchases: purchases,
		Payouts:   payouts,
		Admin:     admin,
	}
}

// begin starts a span and returns the func that ends it and records metrics.
// Use as: ctx, end := begin(ctx, "op"); defer end(&err)
func begin(ctx context.Context, operation string) (context.Context, func(*error)) {
	ctx, span := tracer.Start(ctx, operation)
	start := time.Now()
	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.Observe(operation, start, err)
		span.End()
	}
}

func writeEvent(ctx context.Context, r repo.RepositoryInterface, tx *gorm.DB, aggregate, id, eventType string, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return r.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
		Aggregate:   aggregate,
		AggregateID: id,
		EventType:   eventType,
		Payload:     datatypes.JSON(b),
	})
}

func jsonOrNil(v map[string]interface{}) (datatypes.JSON, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// checkLength rejects free text longer than max characters.
func checkLength(field, s string, max int) error {
	if utf8.RuneCountInString(s) > max {
		return apperr.Invalid(field, "must be at most %d characters", max)
	}
	return nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
