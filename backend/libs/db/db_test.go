package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestErrorClassification(t *testing.T) {
	unique := &pgconn.PgError{Code: CodeUniqueViolation, ConstraintName: "device_sessions_open_device"}
	wrapped := fmt.Errorf("claim: %w", unique)

	if !IsUniqueViolation(wrapped, "") {
		t.Fatalf("expected wrapped unique violation to match")
	}
	if !IsUniqueViolation(wrapped, "device_sessions_open_device") {
		t.Fatalf("expected constraint name to match")
	}
	if IsUniqueViolation(wrapped, "other") {
		t.Fatalf("expected constraint mismatch to fail")
	}
	if IsContention(wrapped) {
		t.Fatalf("unique violation is not contention")
	}

	for _, code := range []string{CodeSerializationFailure, CodeDeadlockDetected, CodeLockNotAvailable} {
		if !IsContention(&pgconn.PgError{Code: code}) {
			t.Fatalf("expected %s to be contention", code)
		}
	}
	if IsContention(errors.New("boom")) || ErrorCode(errors.New("boom")) != "" {
		t.Fatalf("plain errors carry no code")
	}
}

func TestMigrateSkipsApplied(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer sqlDB.Close()

	migrations := []Migration{
		{Name: "001_accounts", SQL: "CREATE TABLE IF NOT EXISTS accounts (id TEXT)"},
		{Name: "002_entries", SQL: "CREATE TABLE IF NOT EXISTS entries (id TEXT)"},
	}

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations")).
		WithArgs("001_accounts").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations")).
		WithArgs("002_entries").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS entries")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := Migrate(context.Background(), sqlDB, migrations); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMigrateStopsOnFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer sqlDB.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE broken")).
		WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err = Migrate(context.Background(), sqlDB, []Migration{
		{Name: "001_broken", SQL: "CREATE TABLE broken"},
		{Name: "002_never", SQL: "CREATE TABLE never"},
	})
	if err == nil {
		t.Fatalf("expected migration error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
