package client

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/clock"
)

// RateLimiter serializes every call made through one client and enforces a
// minimum interval between them. Each 429 doubles the interval up to
// maxMultiplier times the base, and any other response resets it.
type RateLimiter struct {
	clock         clock.Clock
	base          time.Duration
	maxMultiplier int

	// gate admits one request at a time until its response headers arrive
	gate chan struct{}

	mu         sync.Mutex
	limiter    *rate.Limiter
	multiplier int
}

// NewRateLimiter creates a limiter with the given base interval
func NewRateLimiter(c clock.Clock, interval time.Duration, maxMultiplier int) *RateLimiter {
	if maxMultiplier < 1 {
		maxMultiplier = 1
	}
	return &RateLimiter{
		clock:         c,
		base:          interval,
		maxMultiplier: maxMultiplier,
		gate:          make(chan struct{}, 1),
		limiter:       rate.NewLimiter(rate.Every(interval), 1),
		multiplier:    1,
	}
}

// Acquire waits for the caller's turn. The returned release func must be
// called once the response headers have been received.
func (r *RateLimiter) Acquire(ctx context.Context) (func(), error) {
	select {
	case r.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	r.mu.Lock()
	now := r.clock.Now()
	reservation := r.limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	r.mu.Unlock()

	if delay > 0 {
		if err := r.clock.Sleep(ctx, delay); err != nil {
			reservation.CancelAt(r.clock.Now())
			<-r.gate
			return nil, err
		}
	}

	var once sync.Once
	return func() { once.Do(func() { <-r.gate }) }, nil
}

// Observe adjusts the interval after a response
func (r *RateLimiter) Observe(status int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := 1
	if status == http.StatusTooManyRequests {
		next = r.multiplier * 2
		if next > r.maxMultiplier {
			next = r.maxMultiplier
		}
	}
	if next == r.multiplier {
		return
	}
	r.multiplier = next
	r.limiter.SetLimitAt(r.clock.Now(), rate.Every(r.base*time.Duration(next)))
}

// Multiplier returns the current backoff multiplier
func (r *RateLimiter) Multiplier() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.multiplier
}

// Interval returns the current minimum interval between calls
func (r *RateLimiter) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.base * time.Duration(r.multiplier)
}
