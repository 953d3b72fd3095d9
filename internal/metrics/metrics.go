package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richardliu001/points-ledger/internal/apperr"
)

var (
	// Ledger operations by outcome.
	Operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Total number of ledger operations",
		},
		[]string{"operation", "status"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Duration of ledger operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Points written to the ledger, by transaction type.
	Points = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_points_total",
			Help: "Absolute points moved by completed ledger entries",
		},
		[]string{"type"},
	)

	Settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_settlements_total",
			Help: "Payout settlement outcomes",
		},
		[]string{"outcome"},
	)

	OutboxPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Outbox events handed to Kafka",
		},
		[]string{"status"},
	)
)

var once sync.Once

// Register adds every collector to the default registry. Safe to call twice.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(Operations, OperationDuration, Points, Settlements, OutboxPublished)
	})
}

func Handler() http.Handler { return promhttp.Handler() }

// Observe records one finished operation.
func Observe(operation string, start time.Time, err error) {
	Operations.WithLabelValues(operation, Status(err)).Inc()
	OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Status maps an operation error to a low-cardinality label.
func Status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrValidation):
		return "invalid"
	case errors.Is(err, apperr.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, apperr.ErrPaymentGateway):
		return "declined"
	case errors.Is(err, apperr.ErrImmutableTransaction):
		return "immutable"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrNoActiveRate):
		return "no_rate"
	case errors.Is(err, apperr.ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}
