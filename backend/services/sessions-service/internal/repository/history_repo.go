package repository

import (
	"context"
	"database/sql"
	"errors"

	libdb "vacstation/backend/libs/db"
	"vacstation/backend/services/sessions-service/internal/models"
)

// HistoryRepository is the append-then-finalize store of activations.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository returns repository.
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append writes the in-progress record of a session.
func (r *HistoryRepository) Append(ctx context.Context, rec *models.HistoryRecord) error {
	const query = `
		INSERT INTO activation_history (session_id, device_id, account_id, reserved_minutes, cost, status, started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	if rec.Status == "" {
		rec.Status = models.HistoryInProgress
	}
	err := r.db.QueryRowContext(ctx, query,
		rec.SessionID,
		rec.DeviceID,
		rec.AccountID,
		rec.ReservedMinutes,
		rec.Cost,
		string(rec.Status),
		rec.StartedAt,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if libdb.IsUniqueViolation(err, "activation_history_pkey") {
		return ErrHistoryExists
	}
	return err
}

// Update changes a record that is still in progress. A finalized record
// yields ErrHistoryFrozen.
func (r *HistoryRepository) Update(ctx context.Context, sessionID string, u models.HistoryUpdate) error {
	const query = `
		UPDATE activation_history
		SET status = COALESCE($2, status),
		    ended_at = COALESCE($3, ended_at),
		    duration_minutes = COALESCE($4, duration_minutes),
		    reason = COALESCE($5, reason),
		    updated_at = NOW()
		WHERE session_id = $1 AND status = 'in_progress'
	`
	var status *string
	if u.Status != nil {
		s := string(*u.Status)
		status = &s
	}
	res, err := r.db.ExecContext(ctx, query, sessionID, status, u.EndedAt, u.DurationMinutes, u.Reason)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM activation_history WHERE session_id = $1)`, sessionID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ErrHistoryFrozen
	}
	return ErrHistoryNotFound
}

// Get loads the record of one session.
func (r *HistoryRepository) Get(ctx context.Context, sessionID string) (*models.HistoryRecord, error) {
	query := `SELECT ` + historyColumns + ` FROM activation_history WHERE session_id = $1`
	rec, err := scanHistory(r.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrHistoryNotFound
	}
	return rec, err
}

// ListByAccount returns newest records first.
func (r *HistoryRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]models.HistoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + historyColumns + `
		FROM activation_history
		WHERE account_id = $1
		ORDER BY started_at DESC
		LIMIT $2`
	return r.list(ctx, query, accountID, limit)
}

// ListByDevice returns newest records first.
func (r *HistoryRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]models.HistoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + historyColumns + `
		FROM activation_history
		WHERE device_id = $1
		ORDER BY started_at DESC
		LIMIT $2`
	return r.list(ctx, query, deviceID, limit)
}

const historyColumns = `session_id, device_id, account_id, reserved_minutes, cost, status, started_at,
		ended_at, duration_minutes, reason, created_at, updated_at`

func (r *HistoryRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.HistoryRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.HistoryRecord
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func scanHistory(row rowScanner) (*models.HistoryRecord, error) {
	var rec models.HistoryRecord
	var endedAt sql.NullTime
	var duration sql.NullInt32
	err := row.Scan(
		&rec.SessionID,
		&rec.DeviceID,
		&rec.AccountID,
		&rec.ReservedMinutes,
		&rec.Cost,
		&rec.Status,
		&rec.StartedAt,
		&endedAt,
		&duration,
		&rec.Reason,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.EndedAt = nullTime(endedAt)
	if duration.Valid {
		d := int(duration.Int32)
		rec.DurationMinutes = &d
	}
	return &rec, nil
}
