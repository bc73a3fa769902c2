package database

import (
	"math/rand"
	"time"
)

// RetryPolicy bounds the connection attempts made by Lifecycle.Start.
// Backoff returns the delay after the given failed attempt (1-based).
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// DefaultRetryPolicy tries five times with 1s..30s jittered backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Backoff: ExponentialBackoff(time.Second, 30*time.Second)}
}

// ExponentialBackoff doubles base per attempt up to maxDelay and picks a uniformly
// random delay below it (full jitter).
func ExponentialBackoff(base, maxDelay time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		if attempt > 30 {
			attempt = 30
		}
		d := base * time.Duration(1<<(attempt-1))
		if d <= 0 || d > maxDelay {
			d = maxDelay
		}
		if d <= 0 {
			return 0
		}
		return time.Duration(rand.Int63n(int64(d)))
	}
}
