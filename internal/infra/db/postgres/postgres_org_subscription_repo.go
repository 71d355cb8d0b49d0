package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"mpesa-payment-core/internal/domain"
	"mpesa-payment-core/internal/domain/model"
	"mpesa-payment-core/internal/domain/ports/repository"
)

var _ repository.OrganizationSubscriptionRepository = (*orgSubscriptionRepo)(nil)

type orgSubscriptionRepo struct{ pool *pgxpool.Pool }

func NewOrgSubscriptionRepo(pool *pgxpool.Pool) *orgSubscriptionRepo {
	return &orgSubscriptionRepo{pool: pool}
}

// Upsert replaces the organization's subscription terms; seats_used is
// preserved across renewals and tier changes.
func (r *orgSubscriptionRepo) Upsert(ctx context.Context, tx repository.Tx, sub *model.OrganizationSubscription) error {
	const q = `
INSERT INTO organization_subscriptions (
  organization_id, tier, status, seats_purchased, seats_used, price_per_seat,
  current_period_start, current_period_end, next_billing_date
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (organization_id) DO UPDATE SET
  tier = EXCLUDED.tier,
  status = EXCLUDED.status,
  seats_purchased = EXCLUDED.seats_purchased,
  price_per_seat = EXCLUDED.price_per_seat,
  current_period_start = EXCLUDED.current_period_start,
  current_period_end = EXCLUDED.current_period_end,
  next_billing_date = EXCLUDED.next_billing_date;`

	_, err := execSQL(ctx, r.pool, tx, q,
		sub.OrganizationID, sub.Tier, string(sub.Status), sub.SeatsPurchased, sub.SeatsUsed,
		sub.PricePerSeat, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.NextBillingDate)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *orgSubscriptionRepo) FindByOrganization(ctx context.Context, tx repository.Tx, organizationID string) (*model.OrganizationSubscription, error) {
	const q = `
SELECT organization_id, tier, status, seats_purchased, seats_used, price_per_seat,
       current_period_start, current_period_end, next_billing_date
  FROM organization_subscriptions WHERE organization_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, organizationID)
	if err != nil {
		return nil, err
	}
	s := &model.OrganizationSubscription{}
	var status string
	err = row.Scan(&s.OrganizationID, &s.Tier, &status, &s.SeatsPurchased, &s.SeatsUsed,
		&s.PricePerSeat, &s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.NextBillingDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	s.Status = model.SubscriptionStatus(status)
	return s, nil
}
