//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"prompt-market-payments/internal/domain"
	"prompt-market-payments/internal/domain/model"
	"prompt-market-payments/internal/domain/ports/adapter"
	"prompt-market-payments/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func strPtr(s string) *string { return &s }

// =============================
// Repositories (in-memory)
// =============================

// memTransactionRepo is a small in-memory implementation used by unit tests.
// Override the Func fields to simulate failures.
type memTransactionRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Transaction

	SaveFunc          func(ctx context.Context, tx repository.Tx, t *model.Transaction) error
	MarkCompletedFunc func(ctx context.Context, tx repository.Tx, id, paymentID string) (*model.Transaction, error)
	MarkFailedFunc    func(ctx context.Context, tx repository.Tx, id, reason string) error
	FindOrphanedFunc  func(ctx context.Context, tx repository.Tx, userID, planID string) ([]*model.Transaction, error)

	MarkCompletedCalls int
	MarkFailedCalls    int
}

var _ repository.TransactionRepository = (*memTransactionRepo)(nil)

func newMemTransactionRepo() *memTransactionRepo {
	return &memTransactionRepo{store: make(map[string]*model.Transaction)}
}

func (m *memTransactionRepo) Save(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.store[t.ID] = &cp
	return nil
}

func (m *memTransactionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// Find mirrors the store's rule: every provided identifier must match the same
// row, newest row wins.
func (m *memTransactionRepo) Find(ctx context.Context, tx repository.Tx, q repository.TransactionQuery) (*model.Transaction, error) {
	if q.OrderID == "" && q.PaymentID == "" {
		return nil, domain.ErrInvalidArgument
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *model.Transaction
	for _, t := range m.store {
		if q.OrderID != "" && (t.OrderID == nil || *t.OrderID != q.OrderID) {
			continue
		}
		if q.PaymentID != "" && (t.PaymentID == nil || *t.PaymentID != q.PaymentID) {
			continue
		}
		if best == nil || t.CreatedAt.After(best.CreatedAt) {
			best = t
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *memTransactionRepo) MarkCompleted(ctx context.Context, tx repository.Tx, id, paymentID string) (*model.Transaction, error) {
	m.mu.Lock()
	m.MarkCompletedCalls++
	m.mu.Unlock()
	if m.MarkCompletedFunc != nil {
		return m.MarkCompletedFunc(ctx, tx, id, paymentID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if t.Status == model.TransactionStatusFailed {
		return nil, domain.ErrTerminalState
	}
	t.Status = model.TransactionStatusCompleted
	t.PaymentID = &paymentID
	t.ErrorMessage = nil
	if t.CompletedAt == nil {
		now := time.Now()
		t.CompletedAt = &now
	}
	cp := *t
	return &cp, nil
}

func (m *memTransactionRepo) MarkApproved(ctx context.Context, tx repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	if t.Status == model.TransactionStatusPending {
		t.Status = model.TransactionStatusApproved
	}
	return nil
}

func (m *memTransactionRepo) MarkFailed(ctx context.Context, tx repository.Tx, id, reason string) error {
	m.mu.Lock()
	m.MarkFailedCalls++
	m.mu.Unlock()
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, tx, id, reason)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	if t.Status == model.TransactionStatusCompleted {
		return nil
	}
	t.Status = model.TransactionStatusFailed
	t.ErrorMessage = &reason
	return nil
}

// FindOrphaned yields what FindOrphanedFunc is scripted to return; the mock
// cannot join against the subscription store on its own.
func (m *memTransactionRepo) FindOrphaned(ctx context.Context, tx repository.Tx, userID, planID string) ([]*model.Transaction, error) {
	if m.FindOrphanedFunc != nil {
		return m.FindOrphanedFunc(ctx, tx, userID, planID)
	}
	return nil, nil
}

func (m *memTransactionRepo) ListPendingCapturable(ctx context.Context, tx repository.Tx, limit int) ([]*model.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Transaction
	for _, t := range m.store {
		if t.Status == model.TransactionStatusPending && t.OrderID != nil && t.PaymentID == nil {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memTransactionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.TransactionStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[model.TransactionStatus]int)
	for _, t := range m.store {
		out[t.Status]++
	}
	return out, nil
}

func (m *memTransactionRepo) SumCompletedByPeriod(ctx context.Context, tx repository.Tx, period string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum int64
	for _, t := range m.store {
		if t.Status == model.TransactionStatusCompleted {
			sum += t.Amount
		}
	}
	return sum, nil
}

// memSubscriptionRepo provides in-memory subscriptions for tests.
type memSubscriptionRepo struct {
	mu    sync.RWMutex
	store map[string]*model.UserSubscription

	SaveFunc                    func(ctx context.Context, tx repository.Tx, s *model.UserSubscription) error
	FindActiveByUserAndPlanFunc func(ctx context.Context, tx repository.Tx, userID, planID string) (*model.UserSubscription, error)
}

var _ repository.SubscriptionRepository = (*memSubscriptionRepo)(nil)

func newMemSubscriptionRepo() *memSubscriptionRepo {
	return &memSubscriptionRepo{store: make(map[string]*model.UserSubscription)}
}

func (m *memSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.UserSubscription) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// enforce the active (user, plan) uniqueness the real store gets from its
	// partial unique index
	if s.Status == model.SubscriptionStatusActive {
		for _, ex := range m.store {
			if ex.ID != s.ID && ex.UserID == s.UserID && ex.PlanID == s.PlanID && ex.Status == model.SubscriptionStatusActive {
				return domain.ErrAlreadyExists
			}
		}
	}
	cp := *s
	m.store[s.ID] = &cp
	return nil
}

func (m *memSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.UserSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSubscriptionRepo) FindActiveByPaymentRef(ctx context.Context, tx repository.Tx, paymentID, transactionID string) (*model.UserSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.store {
		if s.Status != model.SubscriptionStatusActive {
			continue
		}
		if paymentID != "" && s.PaymentID != nil && *s.PaymentID == paymentID {
			cp := *s
			return &cp, nil
		}
		if transactionID != "" && s.TransactionID != nil && *s.TransactionID == transactionID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memSubscriptionRepo) FindActiveByUserAndPlan(ctx context.Context, tx repository.Tx, userID, planID string) (*model.UserSubscription, error) {
	if m.FindActiveByUserAndPlanFunc != nil {
		return m.FindActiveByUserAndPlanFunc(ctx, tx, userID, planID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.store {
		if s.Status == model.SubscriptionStatusActive && s.UserID == userID && s.PlanID == planID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memSubscriptionRepo) UpdatePaymentRef(ctx context.Context, tx repository.Tx, id, paymentID, transactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	if paymentID != "" {
		s.PaymentID = &paymentID
	}
	if transactionID != "" {
		s.TransactionID = &transactionID
	}
	s.UpdatedAt = time.Now()
	return nil
}

func (m *memSubscriptionRepo) Cancel(ctx context.Context, tx repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	if s.Status != model.SubscriptionStatusActive {
		return domain.ErrNotFound
	}
	s.Status = model.SubscriptionStatusCancelled
	s.UpdatedAt = time.Now()
	return nil
}

func (m *memSubscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[model.SubscriptionStatus]int)
	for _, s := range m.store {
		out[s.Status]++
	}
	return out, nil
}

func (m *memSubscriptionRepo) all() []*model.UserSubscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.UserSubscription
	for _, s := range m.store {
		cp := *s
		out = append(out, &cp)
	}
	return out
}

// memPlanRepo minimal read-only mock.
type memPlanRepo struct {
	mu    sync.RWMutex
	plans map[string]*model.Plan
}

var _ repository.PlanRepository = (*memPlanRepo)(nil)

func newMemPlanRepo() *memPlanRepo {
	return &memPlanRepo{plans: make(map[string]*model.Plan)}
}

func (m *memPlanRepo) add(p *model.Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.plans[p.ID] = &cp
}

func (m *memPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPlanRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Plan
	for _, p := range m.plans {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// memWebhookEventRepo deduplicates by event id like the real table's primary
// key.
type memWebhookEventRepo struct {
	mu   sync.Mutex
	seen map[string]bool
}

var _ repository.WebhookEventRepository = (*memWebhookEventRepo)(nil)

func newMemWebhookEventRepo() *memWebhookEventRepo {
	return &memWebhookEventRepo{seen: make(map[string]bool)}
}

func (m *memWebhookEventRepo) Record(ctx context.Context, tx repository.Tx, e *model.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[e.ID] {
		return domain.ErrEventAlreadySeen
	}
	m.seen[e.ID] = true
	return nil
}

func (m *memWebhookEventRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, id)
	return nil
}

// =============================
// Adapters
// =============================

// MockPaymentGateway records invocations and lets each call be scripted via
// the Func fields. Unscripted calls return benign defaults.
type MockPaymentGateway struct {
	mu sync.Mutex

	GetAccessTokenFunc      func(ctx context.Context) (string, error)
	CreateOrderFunc         func(ctx context.Context, amountCents int64, currency, reference string) (string, string, error)
	FetchOrderFunc          func(ctx context.Context, orderID string) (*adapter.OrderResult, error)
	CaptureOrderFunc        func(ctx context.Context, orderID string) (*adapter.OrderResult, error)
	FetchPaymentCaptureFunc func(ctx context.Context, paymentID string) (*adapter.CaptureResult, error)

	Calls struct {
		CreateOrder         int
		FetchOrder          int
		CaptureOrder        int
		FetchPaymentCapture int
	}
}

var _ adapter.PaymentGateway = (*MockPaymentGateway)(nil)

func (m *MockPaymentGateway) Name() string { return "mock-paypal" }

func (m *MockPaymentGateway) GetAccessToken(ctx context.Context) (string, error) {
	if m.GetAccessTokenFunc != nil {
		return m.GetAccessTokenFunc(ctx)
	}
	return "test-token", nil
}

func (m *MockPaymentGateway) CreateOrder(ctx context.Context, amountCents int64, currency, reference string) (string, string, error) {
	m.mu.Lock()
	m.Calls.CreateOrder++
	m.mu.Unlock()
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, amountCents, currency, reference)
	}
	return "ORDER-" + uuid.NewString()[:8], "https://www.sandbox.paypal.com/checkoutnow?token=TEST", nil
}

func (m *MockPaymentGateway) FetchOrder(ctx context.Context, orderID string) (*adapter.OrderResult, error) {
	m.mu.Lock()
	m.Calls.FetchOrder++
	m.mu.Unlock()
	if m.FetchOrderFunc != nil {
		return m.FetchOrderFunc(ctx, orderID)
	}
	return &adapter.OrderResult{OK: true, Status: "COMPLETED", CaptureID: "CAP-1"}, nil
}

func (m *MockPaymentGateway) CaptureOrder(ctx context.Context, orderID string) (*adapter.OrderResult, error) {
	m.mu.Lock()
	m.Calls.CaptureOrder++
	m.mu.Unlock()
	if m.CaptureOrderFunc != nil {
		return m.CaptureOrderFunc(ctx, orderID)
	}
	return &adapter.OrderResult{OK: true, Status: "COMPLETED", CaptureID: "CAP-1"}, nil
}

func (m *MockPaymentGateway) FetchPaymentCapture(ctx context.Context, paymentID string) (*adapter.CaptureResult, error) {
	m.mu.Lock()
	m.Calls.FetchPaymentCapture++
	m.mu.Unlock()
	if m.FetchPaymentCaptureFunc != nil {
		return m.FetchPaymentCaptureFunc(ctx, paymentID)
	}
	return &adapter.CaptureResult{OK: true, Status: "COMPLETED"}, nil
}

// =============================
// Infra helpers for tests
// =============================

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs the function immediately without a real transaction unless a
// test assigns WithTxFunc.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}
