package payment

import (
	"context"
	"fmt"
	"sync"

	"farm-subscription-backend/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway is a simple in-memory gateway to use in tests and dev mode.
type NoopPaymentGateway struct {
	mu     sync.Mutex
	seq    int64
	orders map[string]int64 // order id -> amount

	// Payments registered by tests to drive the secondary confirmation check.
	payments map[string]*adapter.RemotePayment

	FetchErr error // when set, FetchPayment fails (simulated network outage)
}

func NewNoopPaymentGateway() *NoopPaymentGateway {
	return &NoopPaymentGateway{
		orders:   make(map[string]int64),
		payments: make(map[string]*adapter.RemotePayment),
	}
}

func (g *NoopPaymentGateway) Name() string  { return "noop" }
func (g *NoopPaymentGateway) KeyID() string { return "noop_key" }

func (g *NoopPaymentGateway) CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("order_noop%d", g.seq)
	g.orders[id] = amount
	return id, nil
}

func (g *NoopPaymentGateway) FetchPayment(ctx context.Context, paymentID string) (*adapter.RemotePayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FetchErr != nil {
		return nil, g.FetchErr
	}
	p, ok := g.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("noop: payment %s not found", paymentID)
	}
	cp := *p
	return &cp, nil
}

// AddPayment registers a remote payment object for FetchPayment to return.
func (g *NoopPaymentGateway) AddPayment(p *adapter.RemotePayment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[p.ID] = p
}
