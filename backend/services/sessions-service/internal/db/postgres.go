package db

import (
	"context"
	"database/sql"

	libdb "vacstation/backend/libs/db"
	"vacstation/backend/libs/ledger"
)

// NewPostgres returns shared DB connection.
func NewPostgres(dsn string, maxOpenConns int) (*sql.DB, error) {
	return libdb.NewPostgresDB(dsn, libdb.PoolOptions{MaxOpenConns: maxOpenConns})
}

// OpenSessionIndex enforces a single open session per device.
const OpenSessionIndex = "uq_device_sessions_open_device"

var migrations = []libdb.Migration{
	{
		Name: "sessions_001_devices",
		SQL: `
CREATE TABLE IF NOT EXISTS devices (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL DEFAULT '',
    location        TEXT NOT NULL DEFAULT '',
    rate_per_minute BIGINT NOT NULL CHECK (rate_per_minute > 0),
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
	},
	{
		Name: "sessions_002_device_sessions",
		SQL: `
CREATE TABLE IF NOT EXISTS device_sessions (
    id                      TEXT PRIMARY KEY,
    device_id               TEXT NOT NULL,
    account_id              TEXT NOT NULL,
    rate_per_minute         BIGINT NOT NULL,
    reserved_minutes        INTEGER NOT NULL CHECK (reserved_minutes > 0),
    cost                    BIGINT NOT NULL CHECK (cost > 0),
    state                   TEXT NOT NULL,
    is_open                 BOOLEAN NOT NULL DEFAULT TRUE,
    started_at              TIMESTAMPTZ,
    expires_at              TIMESTAMPTZ,
    ended_at                TIMESTAMPTZ,
    actual_duration_minutes INTEGER,
    failure_reason          TEXT NOT NULL DEFAULT '',
    refunded_at             TIMESTAMPTZ,
    created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS ` + OpenSessionIndex + ` ON device_sessions (device_id) WHERE is_open;
CREATE INDEX IF NOT EXISTS idx_device_sessions_account ON device_sessions (account_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_device_sessions_state ON device_sessions (state, updated_at) WHERE is_open;`,
	},
	{
		Name: "sessions_003_activation_history",
		SQL: `
CREATE TABLE IF NOT EXISTS activation_history (
    session_id       TEXT PRIMARY KEY,
    device_id        TEXT NOT NULL,
    account_id       TEXT NOT NULL,
    reserved_minutes INTEGER NOT NULL,
    cost             BIGINT NOT NULL,
    status           TEXT NOT NULL CHECK (status IN ('in_progress', 'completed', 'failed', 'refunded')),
    started_at       TIMESTAMPTZ NOT NULL,
    ended_at         TIMESTAMPTZ,
    duration_minutes INTEGER,
    reason           TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_activation_history_account ON activation_history (account_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_activation_history_device ON activation_history (device_id, started_at DESC);`,
	},
}

// Migrate applies ledger and sessions schema.
func Migrate(ctx context.Context, sqlDB *sql.DB) error {
	all := append(append([]libdb.Migration{}, ledger.Migrations...), migrations...)
	return libdb.Migrate(ctx, sqlDB, all)
}
