package repository

import (
	"context"
	"database/sql"
	"errors"

	"vacstation/backend/services/billing-service/internal/models"
)

// ErrPaymentNotFound indicates the payment id was never processed.
var ErrPaymentNotFound = errors.New("payment not processed")

// PaymentRepository persists processed payment events.
type PaymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository returns repository.
func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// upsertPayment never lets a pending delivery overwrite a terminal status and
// never rewrites a terminal row. RETURNING yields no row when nothing changed.
const upsertPayment = `
	INSERT INTO processed_payment_events (external_id, account_id, intent_token, amount, status, method, processed_at)
	VALUES ($1, $2, $3, $4, $5, $6, NOW())
	ON CONFLICT (external_id) DO UPDATE SET
		status = EXCLUDED.status,
		amount = EXCLUDED.amount,
		method = EXCLUDED.method,
		processed_at = NOW()
	WHERE processed_payment_events.status = 'pending' AND EXCLUDED.status <> 'pending'
	RETURNING processed_at
`

// Get loads a processed payment.
func (r *PaymentRepository) Get(ctx context.Context, externalID string) (*models.ProcessedPayment, error) {
	const query = `
		SELECT external_id, account_id, intent_token, amount, status, method, processed_at
		FROM processed_payment_events
		WHERE external_id = $1
	`
	var p models.ProcessedPayment
	err := r.db.QueryRowContext(ctx, query, externalID).Scan(
		&p.ExternalID,
		&p.AccountID,
		&p.IntentToken,
		&p.Amount,
		&p.Status,
		&p.Method,
		&p.ProcessedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Record stores a pending or rejected status. It reports false when an
// existing row already carries an equal or higher ranked status.
func (r *PaymentRepository) Record(ctx context.Context, p *models.ProcessedPayment) (bool, error) {
	err := r.db.QueryRowContext(ctx, upsertPayment,
		p.ExternalID,
		p.AccountID,
		p.IntentToken,
		p.Amount,
		string(p.Status),
		p.Method,
	).Scan(&p.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Settle records an approved payment and consumes a one-time intent in the
// same transaction.
func (r *PaymentRepository) Settle(ctx context.Context, p *models.ProcessedPayment) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, upsertPayment,
		p.ExternalID,
		p.AccountID,
		p.IntentToken,
		p.Amount,
		string(p.Status),
		p.Method,
	).Scan(&p.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	const consume = `
		UPDATE payment_intents
		SET status = 'credited',
		    consumed_by = $2,
		    updated_at = NOW()
		WHERE token = $1 AND kind = 'one_time' AND status = 'pending'
	`
	if _, err := tx.ExecContext(ctx, consume, p.IntentToken, p.ExternalID); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// ListByAccount returns processed payments for an account, newest first.
func (r *PaymentRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]models.ProcessedPayment, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT external_id, account_id, intent_token, amount, status, method, processed_at
		FROM processed_payment_events
		WHERE account_id = $1
		ORDER BY processed_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []models.ProcessedPayment
	for rows.Next() {
		var p models.ProcessedPayment
		if err := rows.Scan(
			&p.ExternalID,
			&p.AccountID,
			&p.IntentToken,
			&p.Amount,
			&p.Status,
			&p.Method,
			&p.ProcessedAt,
		); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}
