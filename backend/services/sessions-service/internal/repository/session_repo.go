package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	libdb "vacstation/backend/libs/db"
	"vacstation/backend/services/sessions-service/internal/db"
	"vacstation/backend/services/sessions-service/internal/models"
)

// SessionRepository persists device sessions. The partial unique index on
// open rows is what keeps a device to one session across instances.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository returns repository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, device_id, account_id, rate_per_minute, reserved_minutes, cost, state,
		started_at, expires_at, ended_at, actual_duration_minutes, failure_reason, refunded_at, created_at, updated_at`

// Claim inserts s in the requested state. A second open session for the
// same device fails with ErrDeviceBusy.
func (r *SessionRepository) Claim(ctx context.Context, s *models.Session) error {
	const query = `
		INSERT INTO device_sessions (id, device_id, account_id, rate_per_minute, reserved_minutes, cost, state, is_open, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		s.ID,
		s.DeviceID,
		s.AccountID,
		s.RatePerMinute,
		s.ReservedMinutes,
		s.Cost,
		string(s.State),
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if libdb.IsUniqueViolation(err, db.OpenSessionIndex) {
		return ErrDeviceBusy
	}
	return err
}

// Release drops a claim that never got past requested.
func (r *SessionRepository) Release(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM device_sessions WHERE id = $1 AND state = 'requested'`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Transition moves the session to `to` only if its current state is one of
// from. It reports false when another writer got there first.
func (r *SessionRepository) Transition(ctx context.Context, id string, from []models.SessionState, to models.SessionState, patch models.SessionPatch) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("transition: no source states")
	}
	args := []interface{}{
		id,
		string(to),
		to.Open(),
		patch.StartedAt,
		patch.ExpiresAt,
		patch.EndedAt,
		patch.ActualDurationMinutes,
		patch.FailureReason,
	}
	placeholders := make([]string, len(from))
	for i, state := range from {
		args = append(args, string(state))
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}

	query := `
		UPDATE device_sessions
		SET state = $2,
		    is_open = $3,
		    started_at = COALESCE($4, started_at),
		    expires_at = COALESCE($5, expires_at),
		    ended_at = COALESCE($6, ended_at),
		    actual_duration_minutes = COALESCE($7, actual_duration_minutes),
		    failure_reason = COALESCE($8, failure_reason),
		    updated_at = NOW()
		WHERE id = $1 AND state IN (` + strings.Join(placeholders, ", ") + `)`

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// MarkRefunded stamps refunded_at once.
func (r *SessionRepository) MarkRefunded(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE device_sessions SET refunded_at = $2, updated_at = NOW() WHERE id = $1 AND refunded_at IS NULL`,
		id, at)
	return err
}

// Get loads a session by id.
func (r *SessionRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM device_sessions WHERE id = $1`
	s, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return s, err
}

// OpenByDevice returns the open session of a device.
func (r *SessionRepository) OpenByDevice(ctx context.Context, deviceID string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM device_sessions WHERE device_id = $1 AND is_open`
	s, err := scanSession(r.db.QueryRowContext(ctx, query, deviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return s, err
}

// ListByAccount returns last N sessions for an account.
func (r *SessionRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + sessionColumns + `
		FROM device_sessions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	return r.list(ctx, query, accountID, limit)
}

// ListOpen returns sessions that still hold their device.
func (r *SessionRepository) ListOpen(ctx context.Context, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + sessionColumns + `
		FROM device_sessions
		WHERE is_open
		ORDER BY created_at DESC
		LIMIT $1`
	return r.list(ctx, query, limit)
}

// ListStale returns sessions in state whose last change is older than
// olderThan.
func (r *SessionRepository) ListStale(ctx context.Context, state models.SessionState, olderThan time.Time, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + sessionColumns + `
		FROM device_sessions
		WHERE state = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`
	return r.list(ctx, query, string(state), olderThan, limit)
}

// ListOverdue returns running sessions whose reservation ended before now.
func (r *SessionRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + sessionColumns + `
		FROM device_sessions
		WHERE state = 'running' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`
	return r.list(ctx, query, now, limit)
}

// ListUnrefunded returns failed or refunded sessions whose compensating
// credit has not been confirmed.
func (r *SessionRepository) ListUnrefunded(ctx context.Context, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + sessionColumns + `
		FROM device_sessions
		WHERE state IN ('failed', 'refunded') AND refunded_at IS NULL
		ORDER BY updated_at
		LIMIT $1`
	return r.list(ctx, query, limit)
}

// ListRejectedSince returns rejected sessions changed at or after since. A
// debit that lands after its claim was rejected is found through these.
func (r *SessionRepository) ListRejectedSince(ctx context.Context, since time.Time, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + sessionColumns + `
		FROM device_sessions
		WHERE state = 'rejected' AND refunded_at IS NULL AND updated_at >= $1
		ORDER BY updated_at
		LIMIT $2`
	return r.list(ctx, query, since, limit)
}

func (r *SessionRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	var startedAt, expiresAt, endedAt, refunded sql.NullTime
	var duration sql.NullInt32
	err := row.Scan(
		&s.ID,
		&s.DeviceID,
		&s.AccountID,
		&s.RatePerMinute,
		&s.ReservedMinutes,
		&s.Cost,
		&s.State,
		&startedAt,
		&expiresAt,
		&endedAt,
		&duration,
		&s.FailureReason,
		&refunded,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.StartedAt = nullTime(startedAt)
	s.ExpiresAt = nullTime(expiresAt)
	s.EndedAt = nullTime(endedAt)
	s.RefundedAt = nullTime(refunded)
	if duration.Valid {
		d := int(duration.Int32)
		s.ActualDurationMinutes = &d
	}
	return &s, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
