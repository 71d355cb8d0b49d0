package repository

import (
	"context"
	"time"

	"mpesa-payment-core/internal/domain/model"
)

// TransactionRepository persists payment transactions. All status writes for
// a checkout request id are serialized through the conditional *IfPending
// updates; they are the only way a transaction leaves the pending state.
type TransactionRepository interface {
	// Create inserts a new pending transaction, generating its id.
	Create(ctx context.Context, tx Tx, t *model.PaymentTransaction) error

	FindByCheckoutID(ctx context.Context, tx Tx, checkoutRequestID string) (*model.PaymentTransaction, error)

	// CompleteIfPending marks the transaction completed with its receipt
	// number only if it is still pending. Returns false when another caller
	// already moved it to a terminal state — the idempotence gate for
	// effect application.
	CompleteIfPending(ctx context.Context, tx Tx, checkoutRequestID, receiptNumber string) (bool, error)

	// FailIfPending marks the transaction failed only if still pending.
	FailIfPending(ctx context.Context, tx Tx, checkoutRequestID string) (bool, error)

	IncrementVerificationAttempts(ctx context.Context, tx Tx, checkoutRequestID string) error

	// MarkEffectFailed records that the gateway confirmed payment but the
	// entitlement write failed. Status stays completed.
	MarkEffectFailed(ctx context.Context, tx Tx, checkoutRequestID, reason string) error

	// FindLatestPendingByUser returns the freshest pending transaction
	// whose transaction_date is at or after the cutoff, or ErrNotFound.
	FindLatestPendingByUser(ctx context.Context, tx Tx, userID string, notBefore time.Time) (*model.PaymentTransaction, error)

	// ListPendingOlderThan feeds the reconciliation sweep.
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.PaymentTransaction, error)
}
