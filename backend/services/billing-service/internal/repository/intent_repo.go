package repository

import (
	"context"
	"database/sql"
	"errors"

	"vacstation/backend/services/billing-service/internal/models"
)

// ErrIntentNotFound indicates an unknown correlation token.
var ErrIntentNotFound = errors.New("payment intent not found")

// IntentRepository persists correlation records.
type IntentRepository struct {
	db *sql.DB
}

// NewIntentRepository returns repository.
func NewIntentRepository(db *sql.DB) *IntentRepository {
	return &IntentRepository{db: db}
}

// Create stores a new pending intent.
func (r *IntentRepository) Create(ctx context.Context, intent *models.PaymentIntent) error {
	const query = `
		INSERT INTO payment_intents (token, account_id, amount, kind, method, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return r.db.QueryRowContext(ctx, query,
		intent.Token,
		intent.AccountID,
		intent.Amount,
		string(intent.Kind),
		intent.Method,
		string(intent.Status),
	).Scan(&intent.CreatedAt, &intent.UpdatedAt)
}

// AttachGateway records the gateway-side intent id and checkout URL.
func (r *IntentRepository) AttachGateway(ctx context.Context, token, gatewayID, redirectURL string) error {
	const query = `
		UPDATE payment_intents
		SET gateway_intent_id = $2,
		    redirect_url = $3,
		    updated_at = NOW()
		WHERE token = $1
	`
	res, err := r.db.ExecContext(ctx, query, token, gatewayID, redirectURL)
	if err != nil {
		return err
	}
	return expectRow(res, ErrIntentNotFound)
}

// Get loads an intent by token.
func (r *IntentRepository) Get(ctx context.Context, token string) (*models.PaymentIntent, error) {
	const query = `
		SELECT token, account_id, amount, kind, method, status, gateway_intent_id, redirect_url, consumed_by, created_at, updated_at
		FROM payment_intents
		WHERE token = $1
	`
	var i models.PaymentIntent
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&i.Token,
		&i.AccountID,
		&i.Amount,
		&i.Kind,
		&i.Method,
		&i.Status,
		&i.GatewayIntentID,
		&i.RedirectURL,
		&i.ConsumedBy,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// Claim consumes a pending one-time intent on behalf of paymentID. It reports
// true when paymentID holds the intent afterwards, which includes a
// redelivery of the payment that already claimed it.
func (r *IntentRepository) Claim(ctx context.Context, token, paymentID string) (bool, error) {
	const query = `
		UPDATE payment_intents
		SET status = 'credited',
		    consumed_by = $2,
		    updated_at = NOW()
		WHERE token = $1 AND kind = 'one_time'
		  AND (status = 'pending' OR (status = 'credited' AND consumed_by = $2))
	`
	res, err := r.db.ExecContext(ctx, query, token, paymentID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListByAccount returns the newest intents of an account.
func (r *IntentRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]models.PaymentIntent, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT token, account_id, amount, kind, method, status, gateway_intent_id, redirect_url, consumed_by, created_at, updated_at
		FROM payment_intents
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []models.PaymentIntent
	for rows.Next() {
		var i models.PaymentIntent
		if err := rows.Scan(
			&i.Token,
			&i.AccountID,
			&i.Amount,
			&i.Kind,
			&i.Method,
			&i.Status,
			&i.GatewayIntentID,
			&i.RedirectURL,
			&i.ConsumedBy,
			&i.CreatedAt,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		intents = append(intents, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return intents, nil
}

// Cancel stops a recurring intent from matching further payments.
func (r *IntentRepository) Cancel(ctx context.Context, token, accountID string) error {
	const query = `
		UPDATE payment_intents
		SET status = 'cancelled',
		    updated_at = NOW()
		WHERE token = $1 AND account_id = $2 AND kind = 'recurring' AND status <> 'cancelled'
	`
	res, err := r.db.ExecContext(ctx, query, token, accountID)
	if err != nil {
		return err
	}
	return expectRow(res, ErrIntentNotFound)
}

func expectRow(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
