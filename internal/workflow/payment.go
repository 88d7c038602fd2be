package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vendorhub/vendor-portal/internal/shared"
	"github.com/vendorhub/vendor-portal/internal/vendors"
)

// Charge is a single payment request for a plan. Reference is the draft id,
// so retries of one registration carry the same reference.
type Charge struct {
	Reference string
	Plan      vendors.PlanID
	Amount    decimal.Decimal
	Currency  string
	Email     string
}

// PaymentProcessor settles charges.
type PaymentProcessor interface {
	Charge(ctx context.Context, charge Charge) error
}

// DefaultPaymentDelay is how long SimulatedProcessor takes to approve.
const DefaultPaymentDelay = 2 * time.Second

// SimulatedProcessor approves every charge after Delay.
type SimulatedProcessor struct {
	Delay time.Duration
}

// Charge waits for Delay or until ctx is done.
func (p SimulatedProcessor) Charge(ctx context.Context, _ Charge) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PaymentFunc adapts a function to PaymentProcessor.
type PaymentFunc func(ctx context.Context, charge Charge) error

func (f PaymentFunc) Charge(ctx context.Context, charge Charge) error {
	return f(ctx, charge)
}

// paymentModule scopes payment claims in a shared IdempotencyStore.
const paymentModule = "vendor_payment"

// PaymentClaims admits one in-flight payment per draft. CheckAndInsert must
// fail with shared.ErrIdempotencyConflict while key is held.
type PaymentClaims interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// localClaims keeps claims in process memory.
type localClaims struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLocalClaims() *localClaims {
	return &localClaims{held: make(map[string]struct{})}
}

func (l *localClaims) CheckAndInsert(_ context.Context, key, module string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := module + ":" + key
	if _, ok := l.held[k]; ok {
		return shared.ErrIdempotencyConflict
	}
	l.held[k] = struct{}{}
	return nil
}

func (l *localClaims) Delete(_ context.Context, key, module string) error {
	l.mu.Lock()
	delete(l.held, module+":"+key)
	l.mu.Unlock()
	return nil
}
