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

var migrations = []libdb.Migration{
	{
		Name: "billing_001_payment_intents",
		SQL: `
CREATE TABLE IF NOT EXISTS payment_intents (
    token             TEXT PRIMARY KEY,
    account_id        TEXT NOT NULL,
    amount            BIGINT NOT NULL CHECK (amount > 0),
    kind              TEXT NOT NULL CHECK (kind IN ('one_time', 'recurring')),
    method            TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'credited', 'cancelled')),
    gateway_intent_id TEXT NOT NULL DEFAULT '',
    redirect_url      TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_payment_intents_account ON payment_intents (account_id, created_at DESC);`,
	},
	{
		Name: "billing_002_processed_payment_events",
		SQL: `
CREATE TABLE IF NOT EXISTS processed_payment_events (
    external_id  TEXT PRIMARY KEY,
    account_id   TEXT NOT NULL,
    intent_token TEXT NOT NULL REFERENCES payment_intents (token),
    amount       BIGINT NOT NULL,
    status       TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
    method       TEXT NOT NULL DEFAULT '',
    processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_processed_payments_account ON processed_payment_events (account_id, processed_at DESC);`,
	},
	{
		Name: "billing_003_intent_consumed_by",
		SQL: `
ALTER TABLE payment_intents ADD COLUMN IF NOT EXISTS consumed_by TEXT NOT NULL DEFAULT '';`,
	},
}

// Migrate creates the ledger and billing tables.
func Migrate(ctx context.Context, sqlDB *sql.DB) error {
	all := append(append([]libdb.Migration{}, ledger.Migrations...), migrations...)
	return libdb.Migrate(ctx, sqlDB, all)
}
