package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second, "sleep should exit immediately when context is done")
}

func TestSleepWaits(t *testing.T) {
	start := time.Now()
	require.NoError(t, Sleep(context.Background(), 20*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	require.NoError(t, Sleep(context.Background(), 0))
}

func TestFixedRetryPolicy(t *testing.T) {
	p := NewFixedRetryPolicy(0, time.Second)
	require.Equal(t, 3, p.MaxAttempts)
	require.Equal(t, time.Second, p.Backoff(1))

	errBoom := context.DeadlineExceeded
	require.False(t, p.ShouldRetry(nil, 1))
	require.False(t, p.ShouldRetry(errBoom, 1))
	require.True(t, p.ShouldRetry(ErrQueueEmpty, 1))
	require.True(t, p.ShouldRetry(ErrQueueEmpty, 2))
	require.False(t, p.ShouldRetry(ErrQueueEmpty, 3))
}
