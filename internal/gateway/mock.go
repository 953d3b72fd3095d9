package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Operation string

const (
	OpCharge Operation = "charge"
	OpPayout Operation = "payout"
)

// Decider picks the outcome of one simulated call.
type Decider func(op Operation, method Method) (success bool, reason string)

// Mock simulates a provider with configurable success rates and latency.
type Mock struct {
	chargeRate float64
	payoutRate float64
	latency    time.Duration
	decide     Decider

	mu  sync.Mutex
	rnd *rand.Rand
}

type Option func(*Mock)

func WithChargeSuccessRate(p float64) Option { return func(m *Mock) { m.chargeRate = p } }

func WithPayoutSuccessRate(p float64) Option { return func(m *Mock) { m.payoutRate = p } }

func WithLatency(d time.Duration) Option { return func(m *Mock) { m.latency = d } }

func WithRand(r *rand.Rand) Option { return func(m *Mock) { m.rnd = r } }

// WithDecider replaces the random outcome with d.
func WithDecider(d Decider) Option { return func(m *Mock) { m.decide = d } }

// AlwaysSucceed approves every call.
func AlwaysSucceed() Decider {
	return func(Operation, Method) (bool, string) { return true, "" }
}

// AlwaysDecline declines every call with reason.
func AlwaysDecline(reason string) Decider {
	return func(Operation, Method) (bool, string) { return false, reason }
}

// NewMock defaults to 90% charge and 95% payout success.
func NewMock(opts ...Option) *Mock {
	m := &Mock{
		chargeRate: 0.9,
		payoutRate: 0.95,
		latency:    500 * time.Millisecond,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Mock) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	if !req.Method.Valid() {
		return Result{Success: false, Reason: fmt.Sprintf("unsupported payment method %q", req.Method)}, nil
	}
	return m.call(ctx, OpCharge, req.Method, m.chargeRate, "Payment declined by provider")
}

func (m *Mock) Payout(ctx context.Context, order PayoutOrder) (Result, error) {
	if !order.Method.Valid() {
		return Result{Success: false, Reason: fmt.Sprintf("unsupported payout method %q", order.Method)}, nil
	}
	return m.call(ctx, OpPayout, order.Method, m.payoutRate, "Payout rejected by provider")
}

func (m *Mock) call(ctx context.Context, op Operation, method Method, rate float64, declined string) (Result, error) {
	if m.latency > 0 {
		t := time.NewTimer(m.latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-t.C:
		}
	}

	var (
		ok     bool
		reason string
	)
	if m.decide != nil {
		ok, reason = m.decide(op, method)
	} else {
		m.mu.Lock()
		ok = m.rnd.Float64() < rate
		m.mu.Unlock()
		if !ok {
			reason = declined
		}
	}
	if !ok {
		return Result{Success: false, Reason: reason}, nil
	}
	return Result{Success: true, Reference: reference(op, method)}, nil
}

func reference(op Operation, method Method) string {
	prefix := "CHG"
	if op == OpPayout {
		prefix = "PAY"
	}
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:16]
	return fmt.Sprintf("%s-%s-%s", prefix, method, id)
}
