package retry

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// Config bounds a retry loop.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     float64
}

// DefaultConfig is tuned for short storage-level conflicts.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 5,
		BaseDelay:  20 * time.Millisecond,
		MaxDelay:   time.Second,
		Jitter:     0.1,
	}
}

func (c Config) normalize() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 20 * time.Millisecond
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.Jitter <= 0 || c.Jitter >= 1 {
		c.Jitter = 0.1
	}
	return c
}

// NewPolicy builds an exponential backoff retry policy that only retries
// results for which shouldRetry returns true.
func NewPolicy[T any](cfg Config, shouldRetry func(T, error) bool) retrypolicy.RetryPolicy[T] {
	cfg = cfg.normalize()
	return retrypolicy.NewBuilder[T]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(cfg.Jitter).
		HandleIf(shouldRetry).
		Build()
}

// NewBreaker builds a circuit breaker that opens after failures out of
// window executions fail and stays open for delay.
func NewBreaker[T any](failures, window uint, delay time.Duration, isFailure func(T, error) bool) circuitbreaker.CircuitBreaker[T] {
	return circuitbreaker.NewBuilder[T]().
		WithFailureThresholdRatio(failures, window).
		WithDelay(delay).
		WithSuccessThreshold(1).
		HandleIf(isFailure).
		Build()
}

// Do runs fn under the given policies. When retries are exhausted the error
// of the last attempt is returned instead of the policy's wrapper, so callers
// can keep matching on their own sentinels.
func Do[T any](ctx context.Context, fn func(context.Context) (T, error), policies ...failsafe.Policy[T]) (T, error) {
	var (
		last    T
		lastErr error
		ran     bool
	)
	result, err := failsafe.With(policies...).WithContext(ctx).Get(func() (T, error) {
		ran = true
		last, lastErr = fn(ctx)
		return last, lastErr
	})
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if ran && lastErr != nil {
		return last, lastErr
	}
	return result, err
}
