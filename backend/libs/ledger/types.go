package ledger

import (
	"context"
	"errors"
	"time"
)

// Errors returned by the ledger. Callers match them with errors.Is.
var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrAccountNotFound     = errors.New("ledger: account not found")
	ErrInvalidAmount       = errors.New("ledger: amount must be positive")
	ErrInvalidKey          = errors.New("ledger: idempotency key required")
	ErrDuplicateKey        = errors.New("ledger: journal key already used")
	ErrEntryNotFound       = errors.New("ledger: journal entry not found")
	// ErrContention is transient: the account was busy for longer than the
	// retry budget. The operation was not applied and may be retried.
	ErrContention = errors.New("ledger: account contention")
)

// EntryKind distinguishes journal rows.
type EntryKind string

const (
	EntryDebit  EntryKind = "debit"
	EntryCredit EntryKind = "credit"
)

// Account is the balance row. Balance is in minor currency units.
type Account struct {
	ID        string    `json:"id"`
	Balance   int64     `json:"balance"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreditResult reports the balance after a credit. Applied is false when the
// idempotency key had already been used and Balance is the value recorded then.
type CreditResult struct {
	Balance int64 `json:"balance"`
	Applied bool  `json:"applied"`
}

// Entry is one applied balance change.
type Entry struct {
	Key          string    `json:"key"`
	AccountID    string    `json:"account_id"`
	Kind         EntryKind `json:"kind"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Reference    string    `json:"reference"`
	CreatedAt    time.Time `json:"created_at"`
}

// Update is pushed to subscribers after a committed balance change.
type Update struct {
	AccountID string    `json:"account_id"`
	Balance   int64     `json:"balance"`
	Delta     int64     `json:"delta"`
	Reference string    `json:"reference,omitempty"`
	At        time.Time `json:"at"`
}

// Store persists accounts and the journal. Debit and Credit must each be a
// single atomic unit: the balance change and its journal row commit together.
type Store interface {
	OpenAccount(ctx context.Context, accountID string) error
	Account(ctx context.Context, accountID string) (Account, error)
	Debit(ctx context.Context, accountID string, amount int64, key, reference string) (int64, error)
	Credit(ctx context.Context, accountID string, amount int64, key, reference string) (CreditResult, error)
	Entries(ctx context.Context, accountID string, limit int) ([]Entry, error)
	Entry(ctx context.Context, key string) (Entry, error)
}

// Notifier fans committed updates out to observers.
type Notifier interface {
	Publish(ctx context.Context, update Update) error
}

// Subscriber delivers updates for one account until ctx is done or the
// returned cancel func is called.
type Subscriber interface {
	Subscribe(ctx context.Context, accountID string) (<-chan Update, func(), error)
}
