package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"mpesa-payment-core/internal/domain"
	"mpesa-payment-core/internal/domain/model"
	"mpesa-payment-core/internal/domain/ports/repository"
)

var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct{ pool *pgxpool.Pool }

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

func (r *subscriptionRepo) AddCredits(ctx context.Context, tx repository.Tx, userID string, delta int) error {
	const q = `
INSERT INTO user_credits (user_id, credits, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (user_id) DO UPDATE SET
  credits = user_credits.credits + EXCLUDED.credits,
  updated_at = NOW();`

	_, err := execSQL(ctx, r.pool, tx, q, userID, delta)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *subscriptionRepo) GetCredits(ctx context.Context, tx repository.Tx, userID string) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT credits FROM user_credits WHERE user_id=$1;`, userID)
	if err != nil {
		return 0, err
	}
	var credits int
	if err := row.Scan(&credits); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil // no balance row means zero credits, not an error
		}
		return 0, domain.ErrReadDatabaseRow
	}
	return credits, nil
}

func (r *subscriptionRepo) UpsertUserSubscription(ctx context.Context, tx repository.Tx, userID, tier string, endDate time.Time) error {
	const q = `
INSERT INTO user_subscriptions (user_id, tier, end_date, status, updated_at)
VALUES ($1, $2, $3, 'active', NOW())
ON CONFLICT (user_id) DO UPDATE SET
  tier = EXCLUDED.tier,
  end_date = GREATEST(user_subscriptions.end_date, EXCLUDED.end_date),
  status = 'active',
  updated_at = NOW();`

	_, err := execSQL(ctx, r.pool, tx, q, userID, tier, endDate)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *subscriptionRepo) FindUserSubscription(ctx context.Context, tx repository.Tx, userID string) (*model.UserSubscription, error) {
	const q = `SELECT user_id, tier, end_date, status, updated_at FROM user_subscriptions WHERE user_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	s := &model.UserSubscription{}
	var status string
	if err := row.Scan(&s.UserID, &s.Tier, &s.EndDate, &status, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	s.Status = model.SubscriptionStatus(status)
	return s, nil
}
