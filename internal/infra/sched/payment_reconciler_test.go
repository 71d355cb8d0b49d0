//go:build !integration

package sched

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mpesa-payment-core/internal/domain"
	"mpesa-payment-core/internal/domain/model"
	"mpesa-payment-core/internal/domain/ports/repository"
	"mpesa-payment-core/internal/infra/worker"
	"mpesa-payment-core/internal/usecase"
)

type recordingFlowUC struct {
	mu         sync.Mutex
	reconciled []string
}

var _ usecase.PaymentFlowUseCase = (*recordingFlowUC)(nil)

func (m *recordingFlowUC) Initiate(ctx context.Context, req usecase.InitiateRequest) usecase.InitiateResult {
	return usecase.InitiateResult{}
}

func (m *recordingFlowUC) Verify(ctx context.Context, checkoutRequestID, userID string, maxAttempts int) usecase.VerificationResult {
	return usecase.VerificationResult{}
}

func (m *recordingFlowUC) Reconcile(ctx context.Context, checkoutRequestID string) usecase.VerificationResult {
	m.mu.Lock()
	m.reconciled = append(m.reconciled, checkoutRequestID)
	m.mu.Unlock()
	return usecase.VerificationResult{Success: true}
}

func (m *recordingFlowUC) GetPendingPayment(ctx context.Context, userID string) (*model.PaymentTransaction, error) {
	return nil, nil
}

func (m *recordingFlowUC) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.reconciled))
	copy(out, m.reconciled)
	return out
}

type listOnlyRepo struct {
	pending []*model.PaymentTransaction
	listErr error
}

var _ repository.TransactionRepository = (*listOnlyRepo)(nil)

func (r *listOnlyRepo) Create(ctx context.Context, tx repository.Tx, t *model.PaymentTransaction) error {
	return nil
}
func (r *listOnlyRepo) FindByCheckoutID(ctx context.Context, tx repository.Tx, checkoutRequestID string) (*model.PaymentTransaction, error) {
	return nil, domain.ErrNotFound
}
func (r *listOnlyRepo) CompleteIfPending(ctx context.Context, tx repository.Tx, checkoutRequestID, receiptNumber string) (bool, error) {
	return false, nil
}
func (r *listOnlyRepo) FailIfPending(ctx context.Context, tx repository.Tx, checkoutRequestID string) (bool, error) {
	return false, nil
}
func (r *listOnlyRepo) IncrementVerificationAttempts(ctx context.Context, tx repository.Tx, checkoutRequestID string) error {
	return nil
}
func (r *listOnlyRepo) MarkEffectFailed(ctx context.Context, tx repository.Tx, checkoutRequestID, reason string) error {
	return nil
}
func (r *listOnlyRepo) FindLatestPendingByUser(ctx context.Context, tx repository.Tx, userID string, notBefore time.Time) (*model.PaymentTransaction, error) {
	return nil, domain.ErrNotFound
}
func (r *listOnlyRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentTransaction, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.pending, nil
}

func silentLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func TestPaymentReconciler_TickReconcilesEachStalePending(t *testing.T) {
	repo := &listOnlyRepo{pending: []*model.PaymentTransaction{
		{CheckoutRequestID: "ws_CO_1", Status: model.PaymentStatusPending},
		{CheckoutRequestID: "ws_CO_2", Status: model.PaymentStatusPending},
		{CheckoutRequestID: "", Status: model.PaymentStatusPending}, // push never acknowledged
	}}
	flow := &recordingFlowUC{}

	pool := worker.NewPool(2, silentLogger())
	pool.Start(context.Background())

	w := NewPaymentReconciler(flow, repo, pool, time.Minute, 10*time.Minute, silentLogger())
	w.tick(context.Background())

	// Tasks run asynchronously; wait for the pool to drain them.
	deadline := time.Now().Add(2 * time.Second)
	for len(flow.calls()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	pool.Stop()

	got := flow.calls()
	if len(got) != 2 {
		t.Fatalf("expected 2 reconciliations, got %d: %v", len(got), got)
	}
	seen := map[string]bool{}
	for _, id := range got {
		seen[id] = true
	}
	if !seen["ws_CO_1"] || !seen["ws_CO_2"] {
		t.Errorf("expected both stale transactions reconciled, got %v", got)
	}
}

func TestPaymentReconciler_ListFailureSkipsTick(t *testing.T) {
	repo := &listOnlyRepo{listErr: domain.ErrOperationFailed}
	flow := &recordingFlowUC{}

	pool := worker.NewPool(1, silentLogger())
	pool.Start(context.Background())

	w := NewPaymentReconciler(flow, repo, pool, time.Minute, 10*time.Minute, silentLogger())
	w.tick(context.Background())
	pool.Stop()

	if len(flow.calls()) != 0 {
		t.Errorf("no reconciliation should run when the scan fails, got %v", flow.calls())
	}
}

func TestPaymentReconciler_Defaults(t *testing.T) {
	w := NewPaymentReconciler(&recordingFlowUC{}, &listOnlyRepo{}, nil, 0, 0, silentLogger())
	if w.interval != time.Minute {
		t.Errorf("expected 1m default interval, got %v", w.interval)
	}
	if w.staleAfter != 10*time.Minute {
		t.Errorf("expected 10m default stale window, got %v", w.staleAfter)
	}
}
