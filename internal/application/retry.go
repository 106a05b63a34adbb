package application

import (
	"context"
	"fmt"
	"time"

	"github.com/conduit-ecg/annotator/internal/persistence"
)

// RetryConfig bounds how often an atomic unit is re-run after a transient
// storage failure or a lost compare-and-swap.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the retry policy used by the services.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  20 * time.Millisecond,
		MaxDelay:      500 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

// RetryHelper re-runs whole units of work. The retried function must be safe
// to repeat from the start; a partial attempt never leaks because every unit
// runs in its own transaction.
type RetryHelper struct {
	config RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryHelper creates a retry helper. Negative values fall back to the defaults.
func NewRetryHelper(config RetryConfig) *RetryHelper {
	defaults := DefaultRetryConfig()
	if config.MaxRetries < 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.InitialDelay < 0 {
		config.InitialDelay = defaults.InitialDelay
	}
	if config.MaxDelay < config.InitialDelay {
		config.MaxDelay = config.InitialDelay
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = defaults.BackoffFactor
	}
	return &RetryHelper{config: config, sleep: sleepContext}
}

// RetryableFunc is one attempt of an atomic unit.
type RetryableFunc func(ctx context.Context) error

// WithRetry executes fn, repeating it while it fails with a retryable storage error.
func (rh *RetryHelper) WithRetry(ctx context.Context, fn RetryableFunc) error {
	if rh == nil {
		return fn(ctx)
	}
	var lastErr error
	delay := rh.config.InitialDelay

	for attempt := 0; attempt <= rh.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := rh.sleep(ctx, delay); err != nil {
				return err
			}
			delay = time.Duration(float64(delay) * rh.config.BackoffFactor)
			if delay > rh.config.MaxDelay {
				delay = rh.config.MaxDelay
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !persistence.IsRetryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("operation failed after %d retries: %w", rh.config.MaxRetries, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
