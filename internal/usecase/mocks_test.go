package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"farm-subscription-backend/internal/domain"
	"farm-subscription-backend/internal/domain/model"
	"farm-subscription-backend/internal/domain/ports/adapter"
	"farm-subscription-backend/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// memPaymentRepo is an in-memory PaymentRepository for unit tests. The
// conditional transitions hold under the repo mutex, so concurrent tests
// exercise the same winner-takes-all semantics as the SQL guard.
type memPaymentRepo struct {
	mu      sync.Mutex
	store   map[string]*model.PaymentRecord
	saveErr error
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{store: make(map[string]*model.PaymentRecord)}
}

func (m *memPaymentRepo) Save(ctx context.Context, qx any, p *model.PaymentRecord) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *memPaymentRepo) FindByID(ctx context.Context, qx any, id string) (*model.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPaymentRepo) FindByExternalOrderID(ctx context.Context, qx any, orderID string) (*model.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.store {
		if p.ExternalOrderID != nil && *p.ExternalOrderID == orderID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memPaymentRepo) FindByReference(ctx context.Context, qx any, reference string) (*model.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.store {
		if p.ReferenceID != nil && *p.ReferenceID == reference &&
			(p.Status == model.PaymentStatusPending || p.Status == model.PaymentStatusVerified) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memPaymentRepo) FindPendingByUser(ctx context.Context, qx any, userID string, method model.PaymentMethod) (*model.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.store {
		if p.UserID == userID && p.Method == method && p.Status == model.PaymentStatusPending {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memPaymentRepo) ListByUser(ctx context.Context, qx any, userID string) ([]*model.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PaymentRecord
	for _, p := range m.store {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memPaymentRepo) ListByStatus(ctx context.Context, qx any, status model.PaymentStatus, offset, limit int) ([]*model.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PaymentRecord
	for _, p := range m.store {
		if p.Status == status {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPaymentRepo) MarkVerified(ctx context.Context, qx any, id, externalPaymentID, signature string, verifiedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok || p.Status != model.PaymentStatusPending {
		return false, nil
	}
	p.Status = model.PaymentStatusVerified
	p.ExternalPaymentID = externalPaymentID
	p.ExternalSignature = signature
	v := verifiedAt
	p.VerifiedAt = &v
	return true, nil
}

func (m *memPaymentRepo) MarkTerminal(ctx context.Context, qx any, id string, status model.PaymentStatus, adminNote string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok || p.Status != model.PaymentStatusPending {
		return false, nil
	}
	p.Status = status
	if adminNote != "" {
		p.AdminNote = adminNote
	}
	return true, nil
}

func (m *memPaymentRepo) SetSubscriptionID(ctx context.Context, qx any, paymentID, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[paymentID]
	if !ok {
		return domain.ErrNotFound
	}
	sid := subscriptionID
	p.SubscriptionID = &sid
	return nil
}

func (m *memPaymentRepo) AttachExternalOrder(ctx context.Context, qx any, paymentID, externalOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[paymentID]
	if !ok {
		return domain.ErrNotFound
	}
	oid := externalOrderID
	p.ExternalOrderID = &oid
	return nil
}

func (m *memPaymentRepo) ExpirePendingGatewayOrders(ctx context.Context, qx any, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.store {
		if p.UserID == userID && p.Method == model.PaymentMethodGateway && p.Status == model.PaymentStatusPending {
			p.Status = model.PaymentStatusExpired
			n++
		}
	}
	return n, nil
}

func (m *memPaymentRepo) ListVerifiedWithoutSubscription(ctx context.Context, qx any, limit int) ([]*model.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PaymentRecord
	for _, p := range m.store {
		if p.Status == model.PaymentStatusVerified && p.SubscriptionID == nil {
			cp := *p
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPaymentRepo) ListPendingOlderThan(ctx context.Context, qx any, olderThan time.Time, limit int) ([]*model.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PaymentRecord
	for _, p := range m.store {
		if p.Status == model.PaymentStatusPending && p.CreatedAt.Before(olderThan) {
			cp := *p
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPaymentRepo) CountByUserSince(ctx context.Context, qx any, userID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.store {
		if p.UserID == userID && !p.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// memSubRepo is an in-memory SubscriptionRepository.
type memSubRepo struct {
	mu    sync.Mutex
	store map[string]*model.Subscription
}

func newMemSubRepo() *memSubRepo {
	return &memSubRepo{store: make(map[string]*model.Subscription)}
}

func (m *memSubRepo) Save(ctx context.Context, qx any, sub *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.store[sub.ID] = &cp
	return nil
}

func (m *memSubRepo) FindByID(ctx context.Context, qx any, id string) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSubRepo) FindCurrentByUser(ctx context.Context, qx any, userID string, now time.Time) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cur *model.Subscription
	for _, s := range m.store {
		if s.UserID != userID || !s.Active || s.ExpiresAt.Before(now) {
			continue
		}
		if cur == nil || s.ExpiresAt.After(cur.ExpiresAt) {
			cur = s
		}
	}
	if cur == nil {
		return nil, domain.ErrNoActiveSubscription
	}
	cp := *cur
	return &cp, nil
}

func (m *memSubRepo) ListByUser(ctx context.Context, qx any, userID string) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.store {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSubRepo) Deactivate(ctx context.Context, qx any, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok || !s.Active {
		return false, nil
	}
	s.Active = false
	return true, nil
}

func (m *memSubRepo) CountActiveByPlan(ctx context.Context, qx any) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int)
	for _, s := range m.store {
		if s.Active {
			out[s.PlanName]++
		}
	}
	return out, nil
}

// all returns a snapshot of every stored subscription.
func (m *memSubRepo) all() []*model.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.store {
		cp := *s
		out = append(out, &cp)
	}
	return out
}

// memPlanRepo is an in-memory PlanRepository.
type memPlanRepo struct {
	mu    sync.Mutex
	store map[string]*model.Plan
}

func newMemPlanRepo(plans ...*model.Plan) *memPlanRepo {
	m := &memPlanRepo{store: make(map[string]*model.Plan)}
	for _, p := range plans {
		m.store[p.Name] = p
	}
	return m
}

func (m *memPlanRepo) Save(ctx context.Context, qx any, plan *model.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *plan
	m.store[plan.Name] = &cp
	return nil
}

func (m *memPlanRepo) FindByName(ctx context.Context, qx any, name string) (*model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPlanRepo) ListAll(ctx context.Context, qx any) ([]*model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Plan
	for _, p := range m.store {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// memUserRepo is an in-memory UserRepository.
type memUserRepo struct {
	mu    sync.Mutex
	store map[string]*model.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{store: make(map[string]*model.User)}
}

func (m *memUserRepo) Save(ctx context.Context, qx any, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *user
	m.store[user.ID] = &cp
	return nil
}

func (m *memUserRepo) FindByID(ctx context.Context, qx any, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUserRepo) FindByEmail(ctx context.Context, qx any, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.store {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memUserRepo) CountBySignupIPSince(ctx context.Context, qx any, ip string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.store {
		if u.SignupIP == ip && !u.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// memTxManager runs the function directly; the in-memory repos ignore qx.
type memTxManager struct{}

func (memTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

// memGateway is a controllable PaymentGateway.
type memGateway struct {
	mu        sync.Mutex
	seq       int
	payments  map[string]*adapter.RemotePayment
	createErr error
	fetchErr  error
}

func newMemGateway() *memGateway {
	return &memGateway{payments: make(map[string]*adapter.RemotePayment)}
}

func (g *memGateway) Name() string  { return "mem" }
func (g *memGateway) KeyID() string { return "key_test" }

func (g *memGateway) CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return "", g.createErr
	}
	g.seq++
	return fmt.Sprintf("order_test%d", g.seq), nil
}

func (g *memGateway) FetchPayment(ctx context.Context, paymentID string) (*adapter.RemotePayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	p, ok := g.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("mem gateway: payment %s not found", paymentID)
	}
	cp := *p
	return &cp, nil
}

func (g *memGateway) addPayment(p *adapter.RemotePayment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[p.ID] = p
}

// memSink collects notification events.
type memSink struct {
	mu     sync.Mutex
	events []adapter.Event
}

func (s *memSink) Notify(ctx context.Context, ev adapter.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memSink) Events() []adapter.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]adapter.Event, len(s.events))
	copy(out, s.events)
	return out
}
