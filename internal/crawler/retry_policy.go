package crawler

import (
	"context"
	"errors"
	"time"
)

// FixedRetryPolicy retries a bounded number of times with a constant pause.
type FixedRetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// NewFixedRetryPolicy builds a policy, falling back to 3 attempts one second apart.
func NewFixedRetryPolicy(maxAttempts int, delay time.Duration) FixedRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if delay < 0 {
		delay = time.Second
	}
	return FixedRetryPolicy{MaxAttempts: maxAttempts, Delay: delay}
}

// ShouldRetry decides whether another attempt follows attempt (1-based).
func (p FixedRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Backoff returns the wait before the next attempt.
func (p FixedRetryPolicy) Backoff(int) time.Duration {
	return p.Delay
}
