package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	libdb "vacstation/backend/libs/db"
)

// PostgresStore keeps balances in the accounts table. Every mutation is a
// conditional UPDATE so concurrent writers from any number of processes
// serialize on the row lock instead of racing a read-modify-write.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a store over an open pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenAccount creates the account with a zero balance if it does not exist.
func (s *PostgresStore) OpenAccount(ctx context.Context, accountID string) error {
	const query = `
		INSERT INTO accounts (id, balance, version, created_at, updated_at)
		VALUES ($1, 0, 0, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query, accountID)
	return classify(err)
}

// Account returns a snapshot of the account row.
func (s *PostgresStore) Account(ctx context.Context, accountID string) (Account, error) {
	const query = `
		SELECT id, balance, version, updated_at
		FROM accounts
		WHERE id = $1
	`
	var a Account
	err := s.db.QueryRowContext(ctx, query, accountID).Scan(&a.ID, &a.Balance, &a.Version, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, classify(err)
	}
	return a, nil
}

// Debit decrements the balance only if it covers amount.
func (s *PostgresStore) Debit(ctx context.Context, accountID string, amount int64, key, reference string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(err)
	}
	defer tx.Rollback()

	const debit = `
		UPDATE accounts
		SET balance = balance - $2,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND balance >= $2
		RETURNING balance
	`
	var balance int64
	err = tx.QueryRowContext(ctx, debit, accountID, amount).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, s.debitMiss(ctx, tx, accountID)
	}
	if err != nil {
		return 0, classify(err)
	}

	if err := insertEntry(ctx, tx, Entry{
		Key:          key,
		AccountID:    accountID,
		Kind:         EntryDebit,
		Amount:       amount,
		BalanceAfter: balance,
		Reference:    reference,
	}); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, classify(err)
	}
	return balance, nil
}

// debitMiss tells a missing account apart from an insufficient balance after
// the conditional update matched nothing.
func (s *PostgresStore) debitMiss(ctx context.Context, tx *sql.Tx, accountID string) error {
	var exists bool
	err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists)
	if err != nil {
		return classify(err)
	}
	if !exists {
		return ErrAccountNotFound
	}
	return ErrInsufficientBalance
}

// Credit claims key in the journal and increments the balance in the same
// transaction. A key that was already claimed yields the balance recorded by
// the first application.
func (s *PostgresStore) Credit(ctx context.Context, accountID string, amount int64, key, reference string) (CreditResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CreditResult{}, classify(err)
	}
	defer tx.Rollback()

	const claim = `
		INSERT INTO ledger_entries (idempotency_key, account_id, kind, amount, balance_after, reference, created_at)
		VALUES ($1, $2, 'credit', $3, 0, $4, NOW())
		ON CONFLICT (idempotency_key) DO NOTHING
	`
	res, err := tx.ExecContext(ctx, claim, key, accountID, amount, reference)
	if err != nil {
		return CreditResult{}, classify(err)
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		return CreditResult{}, err
	}
	if claimed == 0 {
		var previous int64
		err := tx.QueryRowContext(ctx,
			`SELECT balance_after FROM ledger_entries WHERE idempotency_key = $1`, key).Scan(&previous)
		if err != nil {
			return CreditResult{}, classify(err)
		}
		return CreditResult{Balance: previous, Applied: false}, nil
	}

	const credit = `
		UPDATE accounts
		SET balance = balance + $2,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING balance
	`
	var balance int64
	err = tx.QueryRowContext(ctx, credit, accountID, amount).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return CreditResult{}, ErrAccountNotFound
	}
	if err != nil {
		return CreditResult{}, classify(err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE ledger_entries SET balance_after = $2 WHERE idempotency_key = $1`, key, balance); err != nil {
		return CreditResult{}, classify(err)
	}

	if err := tx.Commit(); err != nil {
		return CreditResult{}, classify(err)
	}
	return CreditResult{Balance: balance, Applied: true}, nil
}

// Entries returns the newest journal rows for an account.
func (s *PostgresStore) Entries(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT idempotency_key, account_id, kind, amount, balance_after, reference, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.AccountID, &e.Kind, &e.Amount, &e.BalanceAfter, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Entry loads one journal row by key.
func (s *PostgresStore) Entry(ctx context.Context, key string) (Entry, error) {
	const query = `
		SELECT idempotency_key, account_id, kind, amount, balance_after, reference, created_at
		FROM ledger_entries
		WHERE idempotency_key = $1
	`
	var e Entry
	err := s.db.QueryRowContext(ctx, query, key).
		Scan(&e.Key, &e.AccountID, &e.Kind, &e.Amount, &e.BalanceAfter, &e.Reference, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return Entry{}, classify(err)
	}
	return e, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, e Entry) error {
	const query = `
		INSERT INTO ledger_entries (idempotency_key, account_id, kind, amount, balance_after, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`
	_, err := tx.ExecContext(ctx, query, e.Key, e.AccountID, string(e.Kind), e.Amount, e.BalanceAfter, e.Reference)
	return classify(err)
}

// classify maps Postgres failures onto ledger sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case libdb.IsContention(err):
		return fmt.Errorf("%w: %v", ErrContention, err)
	case libdb.ErrorCode(err) == libdb.CodeForeignKeyViolation:
		return ErrAccountNotFound
	case libdb.IsUniqueViolation(err, "ledger_entries_pkey"):
		return ErrDuplicateKey
	}
	return err
}
