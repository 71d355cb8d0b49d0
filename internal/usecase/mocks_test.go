//go:build !integration

package usecase_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"mpesa-payment-core/internal/domain"
	"mpesa-payment-core/internal/domain/model"
	"mpesa-payment-core/internal/domain/ports/adapter"
	"mpesa-payment-core/internal/domain/ports/repository"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// testHasher mirrors the encryption service's truncated-hash behavior.
type testHasher struct{}

func (testHasher) Hash(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:8]
}

// noWaitPolicy makes the verification loop spin without sleeping.
type noWaitPolicy struct{}

func (noWaitPolicy) Wait(ctx context.Context, attempt int) error { return ctx.Err() }

// ---- In-memory TransactionRepository ----

type memTransactionRepo struct {
	mu    sync.Mutex
	byCRI map[string]*model.PaymentTransaction

	CreateErr           error
	CompleteIfPendingFn func(checkoutRequestID, receiptNumber string) (bool, error)
}

func newMemTransactionRepo() *memTransactionRepo {
	return &memTransactionRepo{byCRI: make(map[string]*model.PaymentTransaction)}
}

var _ repository.TransactionRepository = (*memTransactionRepo)(nil)

func (m *memTransactionRepo) Create(ctx context.Context, tx repository.Tx, t *model.PaymentTransaction) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	cp := *t
	m.byCRI[t.CheckoutRequestID] = &cp
	return nil
}

func (m *memTransactionRepo) FindByCheckoutID(ctx context.Context, tx repository.Tx, checkoutRequestID string) (*model.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byCRI[checkoutRequestID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTransactionRepo) CompleteIfPending(ctx context.Context, tx repository.Tx, checkoutRequestID, receiptNumber string) (bool, error) {
	if m.CompleteIfPendingFn != nil {
		return m.CompleteIfPendingFn(checkoutRequestID, receiptNumber)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byCRI[checkoutRequestID]
	if !ok || t.Status != model.PaymentStatusPending {
		return false, nil
	}
	t.Status = model.PaymentStatusCompleted
	t.ReceiptNumber = receiptNumber
	now := time.Now()
	t.CompletedAt = &now
	return true, nil
}

func (m *memTransactionRepo) FailIfPending(ctx context.Context, tx repository.Tx, checkoutRequestID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byCRI[checkoutRequestID]
	if !ok || t.Status != model.PaymentStatusPending {
		return false, nil
	}
	t.Status = model.PaymentStatusFailed
	return true, nil
}

func (m *memTransactionRepo) IncrementVerificationAttempts(ctx context.Context, tx repository.Tx, checkoutRequestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.byCRI[checkoutRequestID]; ok {
		t.VerificationAttempts++
	}
	return nil
}

func (m *memTransactionRepo) MarkEffectFailed(ctx context.Context, tx repository.Tx, checkoutRequestID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.byCRI[checkoutRequestID]; ok {
		t.EffectError = reason
	}
	return nil
}

func (m *memTransactionRepo) FindLatestPendingByUser(ctx context.Context, tx repository.Tx, userID string, notBefore time.Time) (*model.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *model.PaymentTransaction
	for _, t := range m.byCRI {
		if t.UserID != userID || t.Status != model.PaymentStatusPending || t.TransactionDate.Before(notBefore) {
			continue
		}
		if latest == nil || t.TransactionDate.After(latest.TransactionDate) {
			latest = t
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *memTransactionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PaymentTransaction
	for _, t := range m.byCRI {
		if t.Status == model.PaymentStatusPending && t.TransactionDate.Before(olderThan) {
			cp := *t
			out = append(out, &cp)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// get returns the stored record without copying, for test assertions.
func (m *memTransactionRepo) get(checkoutRequestID string) *model.PaymentTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byCRI[checkoutRequestID]
}

// ---- In-memory SubscriptionRepository ----

type memSubscriptionRepo struct {
	mu      sync.Mutex
	credits map[string]int
	subs    map[string]*model.UserSubscription

	AddCreditsErr error
}

func newMemSubscriptionRepo() *memSubscriptionRepo {
	return &memSubscriptionRepo{credits: make(map[string]int), subs: make(map[string]*model.UserSubscription)}
}

var _ repository.SubscriptionRepository = (*memSubscriptionRepo)(nil)

func (m *memSubscriptionRepo) AddCredits(ctx context.Context, tx repository.Tx, userID string, delta int) error {
	if m.AddCreditsErr != nil {
		return m.AddCreditsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credits[userID] += delta
	return nil
}

func (m *memSubscriptionRepo) GetCredits(ctx context.Context, tx repository.Tx, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credits[userID], nil
}

func (m *memSubscriptionRepo) UpsertUserSubscription(ctx context.Context, tx repository.Tx, userID, tier string, endDate time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[userID] = &model.UserSubscription{
		UserID:    userID,
		Tier:      tier,
		EndDate:   endDate,
		Status:    model.SubscriptionStatusActive,
		UpdatedAt: time.Now(),
	}
	return nil
}

func (m *memSubscriptionRepo) FindUserSubscription(ctx context.Context, tx repository.Tx, userID string) (*model.UserSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// ---- In-memory OrganizationSubscriptionRepository ----

type memOrgRepo struct {
	mu   sync.Mutex
	orgs map[string]*model.OrganizationSubscription
}

func newMemOrgRepo() *memOrgRepo {
	return &memOrgRepo{orgs: make(map[string]*model.OrganizationSubscription)}
}

var _ repository.OrganizationSubscriptionRepository = (*memOrgRepo)(nil)

func (m *memOrgRepo) Upsert(ctx context.Context, tx repository.Tx, sub *model.OrganizationSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.orgs[sub.OrganizationID] = &cp
	return nil
}

func (m *memOrgRepo) FindByOrganization(ctx context.Context, tx repository.Tx, organizationID string) (*model.OrganizationSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.orgs[organizationID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// ---- Mock PaymentGateway ----

type MockPaymentGateway struct {
	mu      sync.Mutex
	Queries int

	InitiateSTKPushFunc func(ctx context.Context, phoneNumber string, amount int64, description, accountReference string) *adapter.STKPushResponse
	QueryStatusFunc     func(ctx context.Context, checkoutRequestID string) (*adapter.STKQueryResponse, error)
}

var _ adapter.PaymentGateway = (*MockPaymentGateway)(nil)

func (m *MockPaymentGateway) Name() string { return "mock" }

func (m *MockPaymentGateway) SanitizePhoneNumber(raw string) (string, error) {
	digits := strings.TrimPrefix(strings.TrimSpace(raw), "+")
	if strings.HasPrefix(digits, "0") {
		digits = "254" + digits[1:]
	}
	if len(digits) == 9 {
		digits = "254" + digits
	}
	if len(digits) != 12 || !strings.HasPrefix(digits, "254") {
		return "", fmt.Errorf("%w: invalid phone number", domain.ErrValidation)
	}
	return digits, nil
}

func (m *MockPaymentGateway) InitiateSTKPush(ctx context.Context, phoneNumber string, amount int64, description, accountReference string) *adapter.STKPushResponse {
	if m.InitiateSTKPushFunc != nil {
		return m.InitiateSTKPushFunc(ctx, phoneNumber, amount, description, accountReference)
	}
	return &adapter.STKPushResponse{
		ResponseCode:      "0",
		CheckoutRequestID: "ws_CO_1",
		CustomerMessage:   "Success. Request accepted for processing",
	}
}

func (m *MockPaymentGateway) QueryStatus(ctx context.Context, checkoutRequestID string) (*adapter.STKQueryResponse, error) {
	m.mu.Lock()
	m.Queries++
	m.mu.Unlock()
	if m.QueryStatusFunc != nil {
		return m.QueryStatusFunc(ctx, checkoutRequestID)
	}
	return &adapter.STKQueryResponse{ResultCode: "0", ReceiptNumber: "RCT1"}, nil
}

func (m *MockPaymentGateway) GenerateAccountReference(length int) string {
	return "REF12345"
}

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs the function immediately without a real transaction. Tests
// that need transactional behavior assign WithTxFunc.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, nil)
}

// ---- In-memory SessionPaymentStore ----

type memSessionStore struct {
	mu sync.Mutex
	m  map[string]*model.SessionPaymentState

	PutErr error
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{m: make(map[string]*model.SessionPaymentState)}
}

var _ repository.SessionPaymentStore = (*memSessionStore)(nil)

func (s *memSessionStore) Put(ctx context.Context, sessionID string, state *model.SessionPaymentState) error {
	if s.PutErr != nil {
		return s.PutErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[sessionID] = state
	return nil
}

func (s *memSessionStore) Get(ctx context.Context, sessionID string) (*model.SessionPaymentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.m[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return state, nil
}

func (s *memSessionStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, sessionID)
	return nil
}
