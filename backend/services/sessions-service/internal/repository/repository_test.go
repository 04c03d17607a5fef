package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"vacstation/backend/services/sessions-service/internal/db"
	"vacstation/backend/services/sessions-service/internal/models"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, mock
}

func TestClaimMapsOpenIndexToBusy(t *testing.T) {
	conn, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO device_sessions")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: db.OpenSessionIndex})

	err := NewSessionRepository(conn).Claim(context.Background(), &models.Session{
		ID: "s-1", DeviceID: "vac-1", AccountID: "acct", RatePerMinute: 2, ReservedMinutes: 5, Cost: 10, State: models.StateRequested,
	})
	if !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("expected ErrDeviceBusy, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimKeepsOtherUniqueViolations(t *testing.T) {
	conn, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO device_sessions")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "device_sessions_pkey"})

	err := NewSessionRepository(conn).Claim(context.Background(), &models.Session{ID: "s-1", State: models.StateRequested})
	if err == nil || errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("expected raw violation, got %v", err)
	}
}

func TestReleaseOnlyRequested(t *testing.T) {
	conn, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM device_sessions WHERE id = $1 AND state = 'requested'")).
		WithArgs("s-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := NewSessionRepository(conn).Release(context.Background(), "s-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestTransitionGuardsSourceStates(t *testing.T) {
	conn, mock := newMock(t)
	reason := "expired"
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND state IN ($9, $10)")).
		WithArgs("s-1", "failed", false, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "debited", "command_sent").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND state IN ($9)")).
		WithArgs("s-1", "completed", false, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "completing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewSessionRepository(conn)
	ok, err := repo.Transition(context.Background(), "s-1",
		[]models.SessionState{models.StateDebited, models.StateCommandSent}, models.StateFailed,
		models.SessionPatch{FailureReason: &reason})
	if err != nil || !ok {
		t.Fatalf("expected transition, got %v %v", ok, err)
	}
	ok, err = repo.Transition(context.Background(), "s-1",
		[]models.SessionState{models.StateCompleting}, models.StateCompleted, models.SessionPatch{})
	if err != nil || ok {
		t.Fatalf("expected lost race, got %v %v", ok, err)
	}
	if _, err := repo.Transition(context.Background(), "s-1", nil, models.StateFailed, models.SessionPatch{}); err == nil {
		t.Fatalf("expected error without source states")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListRejectedSinceSkipsRefunded(t *testing.T) {
	conn, mock := newMock(t)
	since := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE state = 'rejected' AND refunded_at IS NULL AND updated_at >= $1")).
		WithArgs(since, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	sessions, err := NewSessionRepository(conn).ListRejectedSince(context.Background(), since, 0)
	if err != nil || len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %+v %v", sessions, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestOpenByDeviceNotFound(t *testing.T) {
	conn, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM device_sessions")).
		WithArgs("vac-1").
		WillReturnError(sql.ErrNoRows)

	if _, err := NewSessionRepository(conn).OpenByDevice(context.Background(), "vac-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestHistoryUpdateFrozenOrMissing(t *testing.T) {
	conn, mock := newMock(t)
	repo := NewHistoryRepository(conn)
	status := models.HistoryCompleted

	mock.ExpectExec(regexp.QuoteMeta("UPDATE activation_history")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	if err := repo.Update(context.Background(), "s-1", models.HistoryUpdate{Status: &status}); !errors.Is(err, ErrHistoryFrozen) {
		t.Fatalf("expected ErrHistoryFrozen, got %v", err)
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE activation_history")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("s-2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	if err := repo.Update(context.Background(), "s-2", models.HistoryUpdate{Status: &status}); !errors.Is(err, ErrHistoryNotFound) {
		t.Fatalf("expected ErrHistoryNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestHistoryAppendDuplicate(t *testing.T) {
	conn, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO activation_history")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "activation_history_pkey"})

	rec := &models.HistoryRecord{SessionID: "s-1", DeviceID: "vac-1", AccountID: "acct", ReservedMinutes: 5, Cost: 10}
	if err := NewHistoryRepository(conn).Append(context.Background(), rec); !errors.Is(err, ErrHistoryExists) {
		t.Fatalf("expected ErrHistoryExists, got %v", err)
	}
	if rec.Status != models.HistoryInProgress {
		t.Fatalf("expected default status, got %s", rec.Status)
	}
}
