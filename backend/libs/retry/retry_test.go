package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var errConflict = errors.New("conflict")

func fastConfig(retries int) Config {
	return Config{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func onlyConflict(_ int, err error) bool { return errors.Is(err, errConflict) }

func TestDoRetriesUntilSuccess(t *testing.T) {
	var attempts int32
	got, err := Do[int](context.Background(), func(context.Context) (int, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return 0, errConflict
		}
		return 42, nil
	}, NewPolicy(fastConfig(5), onlyConflict))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoReturnsLastErrorWhenExhausted(t *testing.T) {
	var attempts int32
	_, err := Do[int](context.Background(), func(context.Context) (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, errConflict
	}, NewPolicy(fastConfig(2), onlyConflict))
	if !errors.Is(err, errConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 1 attempt + 2 retries, got %d", attempts)
	}
}

func TestDoDoesNotRetryUnhandled(t *testing.T) {
	errFatal := errors.New("fatal")
	var attempts int32
	_, err := Do[int](context.Background(), func(context.Context) (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, errFatal
	}, NewPolicy(fastConfig(5), onlyConflict))
	if !errors.Is(err, errFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestBreakerOpens(t *testing.T) {
	breaker := NewBreaker(2, 2, time.Minute, func(_ int, err error) bool { return err != nil })
	fail := func(context.Context) (int, error) { return 0, errConflict }

	for i := 0; i < 2; i++ {
		if _, err := Do[int](context.Background(), fail, breaker); !errors.Is(err, errConflict) {
			t.Fatalf("attempt %d: expected conflict, got %v", i, err)
		}
	}
	if !breaker.IsOpen() {
		t.Fatalf("expected breaker to be open")
	}

	var called bool
	_, err := Do[int](context.Background(), func(context.Context) (int, error) {
		called = true
		return 1, nil
	}, breaker)
	if err == nil || called {
		t.Fatalf("expected open breaker to reject without calling fn")
	}
}
