package datasync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "pulsedesk-sync/pkg/errors"
)

// sleepRecorder captures the delays the retry loop asked for.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func TestRetryConfig_NextDelay(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:   5,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second}, // capped at MaxDelay
		{0, 100 * time.Millisecond},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, cfg.NextDelay(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestRetryWithBackoff_SucceedsAfterTransientFailures(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2.0}
	rec := &sleepRecorder{}
	retries := 0

	attempts := 0
	err := retryWithBackoff(context.Background(), cfg, rec.Sleep, func() { retries++ }, func() error {
		attempts++
		if attempts < 3 {
			return pkgerrors.NewUnavailableError("api")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, retries)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, rec.delays)
}

func TestRetryWithBackoff_TerminalErrorFailsImmediately(t *testing.T) {
	cfg := DefaultRetryConfig()
	rec := &sleepRecorder{}

	attempts := 0
	terminal := pkgerrors.NewNotFoundError("customer", "c1")
	err := retryWithBackoff(context.Background(), cfg, rec.Sleep, nil, func() error {
		attempts++
		return terminal
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "terminal errors are never retried")
	assert.Empty(t, rec.delays)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestRetryWithBackoff_ExhaustionSurfacesLastError(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2.0}

	attempts := 0
	last := pkgerrors.NewRateLimitError("")
	err := retryWithBackoff(context.Background(), cfg, instantSleep, nil, func() error {
		attempts++
		return last
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.True(t, errors.Is(err, last), "the last error stays in the chain")
	assert.True(t, pkgerrors.IsRateLimit(err))
}

func TestRetryWithBackoff_ContextCancelStopsSchedule(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2.0}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := retryWithBackoff(ctx, cfg, instantSleep, nil, func() error {
		attempts++
		cancel()
		return pkgerrors.NewUnavailableError("api")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestDefaultRetryConfigs(t *testing.T) {
	read := DefaultRetryConfig()
	assert.Equal(t, 3, read.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, read.BaseDelay)

	write := DefaultMutationRetryConfig()
	assert.Equal(t, 3, write.MaxAttempts)
	assert.Equal(t, 5*time.Second, write.MaxDelay)
}
