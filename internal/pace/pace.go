// Package pace provides the pacing and retry primitives used by every call
// to the external messaging surface. Jobs block on the limiter by design:
// sequential, rate-limited fetches are deliberate backpressure toward
// WhatsApp, not a performance bug.
package pace

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Limiter enforces a fixed minimum delay between consecutive calls.
type Limiter struct {
	mu    sync.Mutex
	delay time.Duration
	last  time.Time
}

// NewLimiter creates a limiter with the given inter-call delay.
func NewLimiter(delay time.Duration) *Limiter {
	return &Limiter{delay: delay}
}

// Wait blocks until the delay since the previous call has elapsed, or the
// context is cancelled. The first call never waits.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	sleep := l.delay - now.Sub(l.last)
	if sleep < 0 {
		sleep = 0
	}
	l.last = now.Add(sleep)
	l.mu.Unlock()

	if sleep == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry runs op with exponential backoff up to maxAttempts total attempts.
// There is no overall deadline; transient external failures get a fixed
// attempt cap instead of caller-supplied timeouts.
func Retry(ctx context.Context, maxAttempts uint64, op func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, maxAttempts-1), ctx))
}

// Permanent marks an error as non-retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
