package repository

import (
	"context"
	"time"

	"mpesa-payment-core/internal/domain/model"
)

// SubscriptionRepository covers individual subscriptions and credit balances.
type SubscriptionRepository interface {
	// AddCredits adjusts the user's credit balance by delta (creates the
	// balance row on first purchase).
	AddCredits(ctx context.Context, tx Tx, userID string, delta int) error
	GetCredits(ctx context.Context, tx Tx, userID string) (int, error)

	// UpsertUserSubscription activates or extends the user's individual
	// subscription through the given end date.
	UpsertUserSubscription(ctx context.Context, tx Tx, userID, tier string, endDate time.Time) error
	FindUserSubscription(ctx context.Context, tx Tx, userID string) (*model.UserSubscription, error)
}

// OrganizationSubscriptionRepository manages seat-based org subscriptions.
type OrganizationSubscriptionRepository interface {
	// Upsert creates or replaces the organization's subscription with the
	// new tier, seat count and billing period.
	Upsert(ctx context.Context, tx Tx, sub *model.OrganizationSubscription) error
	FindByOrganization(ctx context.Context, tx Tx, organizationID string) (*model.OrganizationSubscription, error)
}
