package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	entries  map[string]Entry
	order    []string
	now      func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		entries:  make(map[string]Entry),
		now:      time.Now,
	}
}

func (s *MemoryStore) OpenAccount(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		s.accounts[accountID] = &Account{ID: accountID, UpdatedAt: s.now().UTC()}
	}
	return nil
}

func (s *MemoryStore) Account(_ context.Context, accountID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *a, nil
}

func (s *MemoryStore) Debit(_ context.Context, accountID string, amount int64, key, reference string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	if _, used := s.entries[key]; used {
		return 0, ErrDuplicateKey
	}
	if a.Balance < amount {
		return 0, ErrInsufficientBalance
	}
	a.Balance -= amount
	s.touch(a)
	s.record(Entry{Key: key, AccountID: accountID, Kind: EntryDebit, Amount: amount, BalanceAfter: a.Balance, Reference: reference})
	return a.Balance, nil
}

func (s *MemoryStore) Credit(_ context.Context, accountID string, amount int64, key, reference string) (CreditResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.entries[key]; ok {
		return CreditResult{Balance: prev.BalanceAfter}, nil
	}
	a, ok := s.accounts[accountID]
	if !ok {
		return CreditResult{}, ErrAccountNotFound
	}
	a.Balance += amount
	s.touch(a)
	s.record(Entry{Key: key, AccountID: accountID, Kind: EntryCredit, Amount: amount, BalanceAfter: a.Balance, Reference: reference})
	return CreditResult{Balance: a.Balance, Applied: true}, nil
}

func (s *MemoryStore) Entries(_ context.Context, accountID string, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []Entry
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		if e := s.entries[s.order[i]]; e.AccountID == accountID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Entry(_ context.Context, key string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return e, nil
}

// SetBalance overwrites a balance, creating the account when missing.
func (s *MemoryStore) SetBalance(accountID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		a = &Account{ID: accountID}
		s.accounts[accountID] = a
	}
	a.Balance = balance
	s.touch(a)
}

func (s *MemoryStore) touch(a *Account) {
	a.Version++
	a.UpdatedAt = s.now().UTC()
}

func (s *MemoryStore) record(e Entry) {
	e.CreatedAt = s.now().UTC()
	s.entries[e.Key] = e
	s.order = append(s.order, e.Key)
}
