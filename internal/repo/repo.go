package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/richardliu001/points-ledger/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const pgUniqueViolationCode = "23505"

// RepositoryInterface restricts Repository methods (lets services be tested against fakes).
// Methods taking a tx run on that handle; callers pass DB(ctx) outside a transaction.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB

	EnsureWallet(ctx context.Context, tx *gorm.DB, userID string, currency model.Currency) error
	GetWallet(ctx context.Context, tx *gorm.DB, userID string) (*model.Wallet, error)
	CreditWallet(ctx context.Context, tx *gorm.DB, userID string, points int64) error
	DebitWallet(ctx context.Context, tx *gorm.DB, userID string, points int64) error
	ListWallets(ctx context.Context, limit, offset int) ([]model.Wallet, error)
	WalletTotals(ctx context.Context) (WalletTotals, error)

	CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error
	GetTransaction(ctx context.Context, tx *gorm.DB, id string) (*model.Transaction, error)
	TransitionTransaction(ctx context.Context, tx *gorm.DB, id string, from model.TransactionStatus, updates map[string]interface{}) (bool, error)
	TxExists(ctx context.Context, tx *gorm.DB, userID, idemKey string, txType model.TransactionType) (bool, *model.Transaction, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]model.Transaction, int64, error)
	SumPoints(ctx context.Context, userID string) (LedgerSums, error)
	TotalsByType(ctx context.Context) ([]TypeTotal, error)

	ActiveRate(ctx context.Context, tx *gorm.DB, currency model.Currency) (*model.ExchangeRate, error)
	ActiveRates(ctx context.Context) ([]model.ExchangeRate, error)
	DeactivateRate(ctx context.Context, tx *gorm.DB, currency model.Currency, at time.Time) error
	CreateRate(ctx context.Context, tx *gorm.DB, rate *model.ExchangeRate) error
	RateHistory(ctx context.Context, currency model.Currency, limit int) ([]model.ExchangeRate, error)

	CreatePayout(ctx context.Context, tx *gorm.DB, p *model.PayoutRequest) error
	GetPayout(ctx context.Context, tx *gorm.DB, id string) (*model.PayoutRequest, error)
	GetPayoutByTransaction(ctx context.Context, tx *gorm.DB, transactionID string) (*model.PayoutRequest, error)
	TransitionPayout(ctx context.Context, tx *gorm.DB, id string, from []model.PayoutStatus, updates map[string]interface{}) (bool, error)
	ListPayouts(ctx context.Context, f PayoutFilter) ([]model.PayoutRequest, int64, error)
	PayoutCounts(ctx context.Context) ([]StatusCount, error)

	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	CreateSettlementJob(ctx context.Context, tx *gorm.DB, job *model.SettlementJob) error
	ClaimSettlementJobs(ctx context.Context, owner string, now time.Time, lease time.Duration, limit int) ([]model.SettlementJob, error)
	FinishSettlementJob(ctx context.Context, id uint64) error
	RetrySettlementJob(ctx context.Context, id uint64, at time.Time, lastErr string) error

	WalletCacheGeneration(ctx context.Context, userID string) (int64, error)
	CacheWallet(ctx context.Context, w *model.Wallet, gen int64) error
	GetCachedWallet(ctx context.Context, userID string) (*model.Wallet, error)
	InvalidateWallet(ctx context.Context, userID string) error
	CacheRate(ctx context.Context, rate *model.ExchangeRate) error
	GetCachedRate(ctx context.Context, currency model.Currency) (*model.ExchangeRate, error)
	InvalidateRate(ctx context.Context, currency model.Currency) error
}

// Repository implements RepositoryInterface on GORM, Redis and Kafka.
// rdb and writer may be nil; caching is then skipped and publishing fails.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(model.All()...)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	// sqlite without error translation
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// pageLimit maps a non-positive limit to "no limit".
func pageLimit(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}
