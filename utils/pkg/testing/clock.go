package lntesting

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

// WaitForWaiters blocks until n goroutines are waiting on the fake clock.
func WaitForWaiters(t *testing.T, clock *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), waitTimeout)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, n), "timed out waiting for %d clock waiters", n)
}

// AdvanceAndWait advances the clock and waits until cond holds. Timers created
// with AfterFunc fire on their own goroutine, so state is polled.
func AdvanceAndWait(t *testing.T, clock *clockwork.FakeClock, d time.Duration, cond func() bool) {
	t.Helper()
	clock.Advance(d)
	require.Eventually(t, cond, waitTimeout, 5*time.Millisecond)
}
