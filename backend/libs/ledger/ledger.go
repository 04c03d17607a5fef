package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vacstation/backend/libs/retry"
)

// Ledger is the only writer of account balances. It validates input, retries
// storage contention with backoff and announces committed changes.
type Ledger struct {
	store      Store
	notifier   Notifier
	subscriber Subscriber
	retryCfg   retry.Config
	metrics    *Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithNotifier publishes every applied change through n.
func WithNotifier(n Notifier) Option {
	return func(l *Ledger) {
		l.notifier = n
		if s, ok := n.(Subscriber); ok && l.subscriber == nil {
			l.subscriber = s
		}
	}
}

// WithSubscriber sets the source for Subscribe.
func WithSubscriber(s Subscriber) Option {
	return func(l *Ledger) { l.subscriber = s }
}

// WithRetry overrides the contention retry budget.
func WithRetry(cfg retry.Config) Option {
	return func(l *Ledger) { l.retryCfg = cfg }
}

// WithMetrics records operation outcomes.
func WithMetrics(m *Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// New builds a Ledger over store.
func New(store Store, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		retryCfg: retry.DefaultConfig(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	return l
}

// OpenAccount makes sure the account exists.
func (l *Ledger) OpenAccount(ctx context.Context, accountID string) error {
	if strings.TrimSpace(accountID) == "" {
		return ErrAccountNotFound
	}
	_, err := l.withRetry(ctx, "open", func(ctx context.Context) (int64, error) {
		return 0, l.store.OpenAccount(ctx, accountID)
	})
	return err
}

// Balance returns a snapshot. It may be stale by the time the caller acts on
// it; Debit re-validates atomically.
func (l *Ledger) Balance(ctx context.Context, accountID string) (int64, error) {
	a, err := l.store.Account(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return a.Balance, nil
}

// Account returns the full account snapshot.
func (l *Ledger) Account(ctx context.Context, accountID string) (Account, error) {
	return l.store.Account(ctx, accountID)
}

// Debit subtracts amount or fails with ErrInsufficientBalance. reference is
// journaled with the entry, e.g. the session that spent the money.
func (l *Ledger) Debit(ctx context.Context, accountID string, amount int64, reference string) (int64, error) {
	return l.DebitWithKey(ctx, accountID, amount, "debit:"+uuid.NewString(), reference)
}

// DebitWithKey is Debit under a caller chosen journal key, so the caller can
// later ask with Entry whether the debit was applied. Reusing a key fails
// with ErrDuplicateKey and changes nothing.
func (l *Ledger) DebitWithKey(ctx context.Context, accountID string, amount int64, key, reference string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if strings.TrimSpace(key) == "" {
		return 0, ErrInvalidKey
	}
	balance, err := l.withRetry(ctx, "debit", func(ctx context.Context) (int64, error) {
		return l.store.Debit(ctx, accountID, amount, key, reference)
	})
	if err != nil {
		return 0, err
	}

	l.metrics.observe("debit", "ok")
	l.logger.Info("account debited",
		zap.String("account_id", accountID),
		zap.Int64("amount", amount),
		zap.Int64("balance", balance),
		zap.String("reference", reference),
	)
	l.publish(ctx, Update{AccountID: accountID, Balance: balance, Delta: -amount, Reference: reference})
	return balance, nil
}

// Credit adds amount exactly once per key. Repeating a key returns the
// result of the first application with Applied=false.
func (l *Ledger) Credit(ctx context.Context, accountID string, amount int64, key string) (CreditResult, error) {
	if amount <= 0 {
		return CreditResult{}, ErrInvalidAmount
	}
	if strings.TrimSpace(key) == "" {
		return CreditResult{}, ErrInvalidKey
	}

	var result CreditResult
	_, err := l.withRetry(ctx, "credit", func(ctx context.Context) (int64, error) {
		r, err := l.store.Credit(ctx, accountID, amount, key, key)
		result = r
		return r.Balance, err
	})
	if err != nil {
		return CreditResult{}, err
	}

	if !result.Applied {
		l.metrics.observe("credit", "duplicate")
		l.logger.Info("credit already applied",
			zap.String("account_id", accountID),
			zap.String("key", key),
		)
		return result, nil
	}

	l.metrics.observe("credit", "ok")
	l.logger.Info("account credited",
		zap.String("account_id", accountID),
		zap.Int64("amount", amount),
		zap.Int64("balance", result.Balance),
		zap.String("key", key),
	)
	l.publish(ctx, Update{AccountID: accountID, Balance: result.Balance, Delta: amount, Reference: key})
	return result, nil
}

// Entries lists recent journal rows.
func (l *Ledger) Entries(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	return l.store.Entries(ctx, accountID, limit)
}

// Entry looks up one journal row by key.
func (l *Ledger) Entry(ctx context.Context, key string) (Entry, error) {
	return l.store.Entry(ctx, key)
}

// Subscribe streams balance updates for one account.
func (l *Ledger) Subscribe(ctx context.Context, accountID string) (<-chan Update, func(), error) {
	if l.subscriber == nil {
		return nil, nil, errors.New("ledger: subscriptions not configured")
	}
	return l.subscriber.Subscribe(ctx, accountID)
}

func (l *Ledger) withRetry(ctx context.Context, op string, fn func(context.Context) (int64, error)) (int64, error) {
	attempt := 0
	policy := retry.NewPolicy(l.retryCfg, func(_ int64, err error) bool {
		return errors.Is(err, ErrContention)
	})
	v, err := retry.Do[int64](ctx, func(ctx context.Context) (int64, error) {
		if attempt > 0 {
			l.metrics.retried()
			l.logger.Debug("retrying contended ledger operation", zap.String("op", op), zap.Int("attempt", attempt))
		}
		attempt++
		return fn(ctx)
	}, policy)
	if err != nil {
		l.metrics.observe(op, resultLabel(err))
	}
	return v, err
}

func (l *Ledger) publish(ctx context.Context, update Update) {
	if l.notifier == nil {
		return
	}
	update.At = l.now().UTC()
	if err := l.notifier.Publish(context.WithoutCancel(ctx), update); err != nil {
		l.logger.Warn("balance notification failed",
			zap.String("account_id", update.AccountID),
			zap.Error(err),
		)
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient"
	case errors.Is(err, ErrContention):
		return "contention"
	case errors.Is(err, ErrAccountNotFound):
		return "not_found"
	}
	return "error"
}
