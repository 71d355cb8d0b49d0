package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"mpesa-payment-core/internal/domain"
	"mpesa-payment-core/internal/domain/model"
	"mpesa-payment-core/internal/domain/ports/repository"
)

var _ repository.TransactionRepository = (*transactionRepo)(nil)

type transactionRepo struct{ pool *pgxpool.Pool }

func NewTransactionRepo(pool *pgxpool.Pool) *transactionRepo {
	return &transactionRepo{pool: pool}
}

const transactionColumns = `id, user_id, amount, type, checkout_request_id, phone_number_hash,
       credits_purchased, status, receipt_number, metadata, effect_error,
       transaction_date, completed_at, verification_attempts`

func (r *transactionRepo) Create(ctx context.Context, tx repository.Tx, t *model.PaymentTransaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = model.PaymentStatusPending
	}
	if t.TransactionDate.IsZero() {
		t.TransactionDate = time.Now()
	}
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal transaction metadata: %w", err)
	}

	const q = `
INSERT INTO payment_transactions (
  id, user_id, amount, type, checkout_request_id, phone_number_hash,
  credits_purchased, status, receipt_number, metadata, effect_error,
  transaction_date, verification_attempts
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13);`

	_, err = execSQL(ctx, r.pool, tx, q,
		t.ID, t.UserID, t.Amount, string(t.Type), t.CheckoutRequestID, t.PhoneNumberHash,
		t.CreditsPurchased, string(t.Status), t.ReceiptNumber, meta, t.EffectError,
		t.TransactionDate, t.VerificationAttempts)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func scanTransaction(row pgx.Row) (*model.PaymentTransaction, error) {
	t := &model.PaymentTransaction{}
	var txType, status string
	var meta []byte
	err := row.Scan(&t.ID, &t.UserID, &t.Amount, &txType, &t.CheckoutRequestID, &t.PhoneNumberHash,
		&t.CreditsPurchased, &status, &t.ReceiptNumber, &meta, &t.EffectError,
		&t.TransactionDate, &t.CompletedAt, &t.VerificationAttempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	t.Type = model.TransactionType(txType)
	t.Status = model.PaymentStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return t, nil
}

func (r *transactionRepo) FindByCheckoutID(ctx context.Context, tx repository.Tx, checkoutRequestID string) (*model.PaymentTransaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE checkout_request_id=$1`
	// Inside a transaction the row is locked so the conditional update that
	// follows sees a stable status.
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, checkoutRequestID)
	if err != nil {
		return nil, err
	}
	return scanTransaction(row)
}

func (r *transactionRepo) CompleteIfPending(ctx context.Context, tx repository.Tx, checkoutRequestID, receiptNumber string) (bool, error) {
	// transaction_date keeps the initiation time; completion gets its own
	// column so reconciliation can still see when the push was sent.
	const q = `
UPDATE payment_transactions
   SET status = 'completed',
       receipt_number = $2,
       completed_at = NOW()
 WHERE checkout_request_id = $1
   AND status = 'pending';`

	cmd, err := execSQL(ctx, r.pool, tx, q, checkoutRequestID, receiptNumber)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *transactionRepo) FailIfPending(ctx context.Context, tx repository.Tx, checkoutRequestID string) (bool, error) {
	const q = `
UPDATE payment_transactions
   SET status = 'failed'
 WHERE checkout_request_id = $1
   AND status = 'pending';`

	cmd, err := execSQL(ctx, r.pool, tx, q, checkoutRequestID)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *transactionRepo) IncrementVerificationAttempts(ctx context.Context, tx repository.Tx, checkoutRequestID string) error {
	const q = `UPDATE payment_transactions SET verification_attempts = verification_attempts + 1 WHERE checkout_request_id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, checkoutRequestID)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *transactionRepo) MarkEffectFailed(ctx context.Context, tx repository.Tx, checkoutRequestID, reason string) error {
	const q = `UPDATE payment_transactions SET effect_error=$2 WHERE checkout_request_id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, checkoutRequestID, reason)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *transactionRepo) FindLatestPendingByUser(ctx context.Context, tx repository.Tx, userID string, notBefore time.Time) (*model.PaymentTransaction, error) {
	q := `SELECT ` + transactionColumns + `
  FROM payment_transactions
 WHERE user_id=$1 AND status='pending' AND transaction_date >= $2
 ORDER BY transaction_date DESC
 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, userID, notBefore)
	if err != nil {
		return nil, err
	}
	return scanTransaction(row)
}

func (r *transactionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + transactionColumns + `
  FROM payment_transactions
 WHERE status='pending' AND transaction_date < $1
 ORDER BY transaction_date ASC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, limit)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.PaymentTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
