package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conduit-ecg/annotator/internal/persistence"
)

func newTestRetryHelper(maxRetries int) (*RetryHelper, *[]time.Duration) {
	helper := NewRetryHelper(RetryConfig{MaxRetries: maxRetries, InitialDelay: 10 * time.Millisecond, MaxDelay: 25 * time.Millisecond, BackoffFactor: 2})
	var waits []time.Duration
	helper.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return helper, &waits
}

func TestRetryHelperRetriesWholeUnitOnTransientErrors(t *testing.T) {
	t.Parallel()

	helper, waits := newTestRetryHelper(3)
	attempts := 0
	err := helper.WithRetry(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return persistence.ErrTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if got := *waits; len(got) != 2 || got[0] != 10*time.Millisecond || got[1] != 20*time.Millisecond {
		t.Fatalf("unexpected backoff sequence %v", got)
	}
}

func TestRetryHelperStopsOnPermanentErrors(t *testing.T) {
	t.Parallel()

	helper, _ := newTestRetryHelper(3)
	attempts := 0
	err := helper.WithRetry(context.Background(), func(context.Context) error {
		attempts++
		return persistence.ErrNotFound
	})
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestRetryHelperGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	helper, waits := newTestRetryHelper(2)
	attempts := 0
	err := helper.WithRetry(context.Background(), func(context.Context) error {
		attempts++
		return persistence.ErrConcurrentUpdate
	})
	if !errors.Is(err, persistence.ErrConcurrentUpdate) {
		t.Fatalf("expected last error in chain, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if got := *waits; got[len(got)-1] != 20*time.Millisecond {
		t.Fatalf("expected delay capped growth, got %v", got)
	}
}

func TestRetryHelperHonoursCancellation(t *testing.T) {
	t.Parallel()

	helper, _ := newTestRetryHelper(5)
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := helper.WithRetry(ctx, func(context.Context) error {
		attempts++
		cancel()
		return persistence.ErrTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected no retry after cancellation, got %d attempts", attempts)
	}
}
