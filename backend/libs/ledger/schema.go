package ledger

import libdb "vacstation/backend/libs/db"

// Migrations creates the accounts and ledger_entries tables.
var Migrations = []libdb.Migration{
	{
		Name: "ledger_001_accounts",
		SQL: `
CREATE TABLE IF NOT EXISTS accounts (
    id         TEXT PRIMARY KEY,
    balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    version    BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
	},
	{
		Name: "ledger_002_entries",
		SQL: `
CREATE TABLE IF NOT EXISTS ledger_entries (
    idempotency_key TEXT PRIMARY KEY,
    account_id      TEXT NOT NULL REFERENCES accounts (id),
    kind            TEXT NOT NULL CHECK (kind IN ('debit', 'credit')),
    amount          BIGINT NOT NULL CHECK (amount > 0),
    balance_after   BIGINT NOT NULL DEFAULT 0,
    reference       TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries (account_id, created_at DESC);`,
	},
}
