//go:build !integration

package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/adapter"
	"vpn-subscription-shop/internal/domain/ports/repository"
)

// ---- In-memory SubscriptionRepository ----

type MockSubscriptionRepo struct {
	mu   sync.Mutex
	rows map[string]*model.Subscription

	// Optional overrides
	SaveFunc                   func(ctx context.Context, tx repository.Tx, s *model.Subscription) error
	UpdateStatusIfAwaitingFunc func(ctx context.Context, tx repository.Tx, id string, st model.SubscriptionStatus, refID *string, paidAt *time.Time) (bool, error)

	// Call counters for idempotence assertions
	PaidWrites   int
	ActiveWrites int
}

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{rows: map[string]*model.Subscription{}}
}

func (m *MockSubscriptionRepo) clone(s *model.Subscription) *model.Subscription {
	c := *s
	return &c
}

func (m *MockSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.ID] = m.clone(s)
	return nil
}

func (m *MockSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.rows[id]; ok {
		return m.clone(s), nil
	}
	return nil, domain.ErrNotFound
}

func (m *MockSubscriptionRepo) FindByAuthority(ctx context.Context, tx repository.Tx, authority string) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if s.Authority == authority {
			return m.clone(s), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockSubscriptionRepo) FindByOrderRef(ctx context.Context, tx repository.Tx, orderRef string) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if s.OrderRef == orderRef {
			return m.clone(s), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockSubscriptionRepo) MarkAwaiting(ctx context.Context, tx repository.Tx, id, provider, authority string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	if s.Status != model.StatusInitiated {
		return domain.ErrConflict
	}
	s.Status = model.StatusAwaitingPayment
	s.Provider = provider
	s.Authority = authority
	return nil
}

func (m *MockSubscriptionRepo) UpdateStatusIfAwaiting(ctx context.Context, tx repository.Tx, id string, st model.SubscriptionStatus, refID *string, paidAt *time.Time) (bool, error) {
	if m.UpdateStatusIfAwaitingFunc != nil {
		return m.UpdateStatusIfAwaitingFunc(ctx, tx, id, st, refID, paidAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if s.Status != model.StatusAwaitingPayment {
		return false, nil
	}
	s.Status = st
	if refID != nil {
		s.RefID = *refID
	}
	if paidAt != nil {
		s.PaidAt = paidAt
	}
	if st == model.StatusPaid {
		m.PaidWrites++
	}
	return true, nil
}

func (m *MockSubscriptionRepo) MergeAccountIfPaid(ctx context.Context, tx repository.Tx, id string, acc *model.ProvisionedAccount) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if s.Status != model.StatusPaid && s.Status != model.StatusProvisionFailed {
		return false, nil
	}
	s.Status = model.StatusActive
	s.PanelKind = acc.Panel
	s.PanelUsername = acc.Username
	s.SubscriptionURL = acc.SubscriptionURL
	exp := time.Unix(acc.ExpireAt, 0)
	s.ExpireAt = &exp
	m.ActiveWrites++
	return true, nil
}

func (m *MockSubscriptionRepo) MarkProvisionFailed(ctx context.Context, tx repository.Tx, id string, detail string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if s.Status != model.StatusPaid {
		return false, nil
	}
	s.Status = model.StatusProvisionFailed
	return true, nil
}

func (m *MockSubscriptionRepo) UpdateDecisionIf(ctx context.Context, tx repository.Tx, id string, decision model.Decision, newStatus model.SubscriptionStatus, from []model.SubscriptionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	for _, f := range from {
		if s.Status == f {
			s.Status = newStatus
			s.Decision = decision
			now := time.Now()
			s.DecidedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (m *MockSubscriptionRepo) ListAwaitingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.rows {
		if s.Status == model.StatusAwaitingPayment && s.CreatedAt.Before(olderThan) {
			out = append(out, m.clone(s))
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MockSubscriptionRepo) ListByStatus(ctx context.Context, tx repository.Tx, status model.SubscriptionStatus, offset, limit int) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.rows {
		if s.Status == status {
			out = append(out, m.clone(s))
		}
	}
	return out, nil
}

// ---- In-memory PlanRepository ----

type MockPlanRepo struct {
	mu    sync.Mutex
	plans map[string]*model.Plan
}

func NewMockPlanRepo(plans ...*model.Plan) *MockPlanRepo {
	m := &MockPlanRepo{plans: map[string]*model.Plan{}}
	for _, p := range plans {
		m.plans[p.ID] = p
	}
	return m
}

func (m *MockPlanRepo) Save(ctx context.Context, tx repository.Tx, p *model.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[p.ID] = p
	return nil
}

func (m *MockPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.plans[id]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (m *MockPlanRepo) List(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Plan
	for _, p := range m.plans {
		out = append(out, p)
	}
	return out, nil
}

func (m *MockPlanRepo) FindTestPlan(ctx context.Context, tx repository.Tx) (*model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.plans {
		if p.TestPlan {
			return p, nil
		}
	}
	return nil, domain.ErrNotFound
}

// ---- Scriptable PaymentGateway ----

type MockGateway struct {
	NameValue   string
	RequestFunc func(ctx context.Context, req adapter.PaymentRequest) (string, string, error)
	VerifyFunc  func(ctx context.Context, authority string, amountIRR int64) (adapter.VerifyOutcome, error)

	VerifyCalls int
}

func (g *MockGateway) Name() string {
	if g.NameValue == "" {
		return "mockpay"
	}
	return g.NameValue
}

func (g *MockGateway) Request(ctx context.Context, req adapter.PaymentRequest) (string, string, error) {
	return g.RequestFunc(ctx, req)
}

func (g *MockGateway) Verify(ctx context.Context, authority string, amountIRR int64) (adapter.VerifyOutcome, error) {
	g.VerifyCalls++
	return g.VerifyFunc(ctx, authority, amountIRR)
}

// ---- Scriptable PanelClient ----

type MockPanel struct {
	CreateFunc func(ctx context.Context, p adapter.CreateUserParams) (*model.ProvisionedAccount, error)
	GetFunc    func(ctx context.Context, username string) (*model.ProvisionedAccount, error)

	CreateCalls int
}

func (p *MockPanel) Kind() model.PanelKind { return model.PanelMarzban }

func (p *MockPanel) CreateUser(ctx context.Context, params adapter.CreateUserParams) (*model.ProvisionedAccount, error) {
	p.CreateCalls++
	return p.CreateFunc(ctx, params)
}

func (p *MockPanel) GetUser(ctx context.Context, username string) (*model.ProvisionedAccount, error) {
	if p.GetFunc != nil {
		return p.GetFunc(ctx, username)
	}
	return nil, domain.ErrNotFound
}

// ---- Recording EventSink ----

type MockSink struct {
	mu     sync.Mutex
	Events []model.WebhookEvent
	Result adapter.DeliveryResult
}

func (s *MockSink) Deliver(ctx context.Context, ev model.WebhookEvent) adapter.DeliveryResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, ev)
	if s.Result.Attempts == nil && !s.Result.Delivered {
		return adapter.DeliveryResult{Delivered: true, Attempts: []adapter.AttemptLog{{N: 1}}}
	}
	return s.Result
}

func (s *MockSink) Probe(ctx context.Context) adapter.DeliveryResult {
	return adapter.DeliveryResult{Delivered: true}
}

func (s *MockSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Events)
}

// ---- Pass-through TransactionManager ----

type MockTxManager struct{}

func (MockTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

// ---- In-memory Locker (implements redis.Locker port) ----

type MockLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}}
}

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return "", domain.ErrLockBusy
	}
	l.held[key] = "tok"
	return "tok", nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}
