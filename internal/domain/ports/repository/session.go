package repository

import (
	"context"

	"mpesa-payment-core/internal/domain/model"
)

// SessionPaymentStore keeps per-session payment state (server-side session
// storage). Entries expire on their own after the session payment TTL;
// Get returns ErrNotFound for missing or expired sessions.
type SessionPaymentStore interface {
	Put(ctx context.Context, sessionID string, state *model.SessionPaymentState) error
	Get(ctx context.Context, sessionID string) (*model.SessionPaymentState, error)
	Clear(ctx context.Context, sessionID string) error
}
