package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mpesa-payment-core/internal/domain/ports/repository"
	"mpesa-payment-core/internal/infra/worker"
	"mpesa-payment-core/internal/usecase"
)

// PaymentReconciler periodically scans for stale pending transactions and
// runs a single-attempt re-verification on each. This covers callbacks that
// never arrived and processes that crashed mid-verify: the state machine is
// driven entirely by our own status queries, so a restart loses nothing.
type PaymentReconciler struct {
	uc           usecase.PaymentFlowUseCase
	transactions repository.TransactionRepository
	pool         *worker.Pool
	interval     time.Duration // how often to scan
	staleAfter   time.Duration // how old a pending transaction must be to retry
	log          *zerolog.Logger
}

func NewPaymentReconciler(
	uc usecase.PaymentFlowUseCase,
	transactions repository.TransactionRepository,
	pool *worker.Pool,
	interval, staleAfter time.Duration,
	logger *zerolog.Logger,
) *PaymentReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &PaymentReconciler{
		uc:           uc,
		transactions: transactions,
		pool:         pool,
		interval:     interval,
		staleAfter:   staleAfter,
		log:          logger,
	}
}

func (w *PaymentReconciler) Start(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *PaymentReconciler) tick(ctx context.Context) {
	cutoff := time.Now().Add(-w.staleAfter)
	pending, err := w.transactions.ListPendingOlderThan(ctx, nil, cutoff, 200)
	if err != nil {
		w.log.Error().Err(err).Msg("reconciler: list pending")
		return
	}
	for _, t := range pending {
		checkoutID := t.CheckoutRequestID
		if checkoutID == "" {
			continue
		}
		task := func(ctx context.Context) error {
			result := w.uc.Reconcile(ctx, checkoutID)
			if result.Success || result.Timeout {
				return nil
			}
			w.log.Debug().
				Str("checkout_request_id", checkoutID).
				Str("message", result.Message).
				Msg("reconciler: transaction not yet resolved")
			return nil
		}
		if err := w.pool.Submit(task); err != nil {
			w.log.Warn().Err(err).Msg("reconciler: submit")
			return // queue saturated; next tick retries
		}
	}
}
