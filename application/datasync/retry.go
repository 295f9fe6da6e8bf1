package datasync

import (
	"context"
	"fmt"
	"math"
	"time"

	pkgerrors "pulsedesk-sync/pkg/errors"
)

// RetryConfig defines retry behavior configuration
type RetryConfig struct {
	MaxAttempts   int           // Maximum number of attempts, first try included
	BaseDelay     time.Duration // Delay before the first retry
	MaxDelay      time.Duration // Cap on any single delay
	BackoffFactor float64       // Exponential backoff multiplier
}

// DefaultRetryConfig returns the read-path retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// DefaultMutationRetryConfig returns the write-path retry configuration.
// Writes keep the same bounded schedule but their exhaustion has rollback
// consequences the read path does not, so the two are configured apart.
func DefaultMutationRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryState tracks one logical operation through the schedule. It is not
// persisted across operations.
type RetryState struct {
	Attempt int // next attempt number, 0-based
	LastErr error
}

// NextDelay returns the wait before retry attempt n (1-indexed):
// BaseDelay * BackoffFactor^(n-1), capped at MaxDelay. Pure function of
// the config and attempt number so schedules are testable without timers.
func (c RetryConfig) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := float64(c.BaseDelay) * math.Pow(c.BackoffFactor, float64(attempt-1))
	delay := time.Duration(backoff)
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// SleepFunc waits for d or until ctx is done. Tests inject instant sleeps.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryWithBackoff executes op under the config's schedule. Errors that
// are not retryable per the taxonomy fail immediately; after exhausting
// attempts the last error is surfaced, never swallowed.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, sleep SleepFunc, onRetry func(), op func() error) error {
	if sleep == nil {
		sleep = sleepWithContext
	}

	var state RetryState
	for state.Attempt = 0; state.Attempt < cfg.MaxAttempts; state.Attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op()
		if err == nil {
			return nil
		}
		state.LastErr = err

		if !pkgerrors.IsRetryable(err) {
			return err
		}
		if state.Attempt == cfg.MaxAttempts-1 {
			break
		}

		if onRetry != nil {
			onRetry()
		}
		if err := sleep(ctx, cfg.NextDelay(state.Attempt+1)); err != nil {
			return err
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxAttempts, state.LastErr)
}
