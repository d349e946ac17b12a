package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts: attempts,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func TestLN_Retry_ZeroConfigRunsOnce(t *testing.T) {
	t.Parallel()

	attempts := 0
	want := errors.New("connection reset")
	err := Do(t.Context(), Config{}, func() error {
		attempts++
		return want
	})

	require.ErrorIs(t, err, want)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, want, err, "single attempt returns the error unwrapped")
}

func TestLN_Retry_SuccessAfterRetries(t *testing.T) {
	t.Parallel()

	attempts := 0
	var retried []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	err := Do(t.Context(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestLN_Retry_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Do(t.Context(), fastConfig(3), func() error {
		attempts++
		return statusErr(503)
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	var se statusErr
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 503, se.StatusCode())
}

func TestLN_Retry_NonRetryableStopsImmediately(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Do(t.Context(), fastConfig(5), func() error {
		attempts++
		return statusErr(401)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestLN_Retry_WaitsOnClock(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	cfg := Config{MaxAttempts: 2, BaseBackoff: time.Second, MaxBackoff: time.Second, Clock: clock}

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(t.Context(), cfg, func() error {
			attempts++
			if attempts == 1 {
				return errors.New("timeout")
			}
			return nil
		})
	}()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(2 * time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("retry did not resume after clock advanced")
	}
	assert.Equal(t, 2, attempts)
}

func TestLN_Retry_ContextCancelledDuringWait(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(t.Context())
	cfg := Config{MaxAttempts: 3, BaseBackoff: time.Hour, Clock: clock}

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func() error { return errors.New("eof") })
	}()

	waitCtx, waitCancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-waitCtx.Done():
		t.Fatal("retry did not observe cancellation")
	}
}

func TestLN_Retry_IsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("wrap: %w", context.DeadlineExceeded), false},
		{"503", statusErr(503), true},
		{"429", statusErr(429), true},
		{"404", statusErr(404), false},
		{"refused", errors.New("dial tcp: connection refused"), true},
		{"plain", errors.New("invalid pubkey"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestLN_Retry_BackoffBounds(t *testing.T) {
	t.Parallel()

	for attempt := 1; attempt <= 6; attempt++ {
		d := backoff(100*time.Millisecond, time.Second, attempt)
		assert.LessOrEqual(t, d, time.Second)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
	}
}
