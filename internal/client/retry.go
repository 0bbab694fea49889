package client

import (
	"context"
	"math/rand"
	"time"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/clock"
)

// RetryPolicy retries retryable-transient failures with exponential backoff
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter adjusts each computed delay. Nil means no jitter.
	Jitter func(time.Duration) time.Duration
}

// DefaultRetryPolicy allows 3 attempts, 1s base delay, 30s ceiling and equal jitter
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      EqualJitter,
	}
}

// EqualJitter keeps half the delay and randomizes the other half
func EqualJitter(d time.Duration) time.Duration {
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// Delay returns the wait before the attempt following attempt (1-based)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.Jitter != nil {
		d = p.Jitter(d)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, fails with a non-retryable error or the
// attempts are used up
func (p RetryPolicy) Do(ctx context.Context, c clock.Clock, fn func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt == attempts {
			return err
		}
		if sleepErr := c.Sleep(ctx, p.Delay(attempt)); sleepErr != nil {
			return err
		}
	}
	return err
}
