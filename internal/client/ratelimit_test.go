package client

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/clock"
)

func acquire(t *testing.T, r *RateLimiter) {
	t.Helper()
	release, err := r.Acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestRateLimiter_MinimumInterval(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	r := NewRateLimiter(clk, 2*time.Second, 8)

	acquire(t, r)
	assert.Empty(t, clk.Sleeps(), "first call goes out immediately")

	acquire(t, r)
	acquire(t, r)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clk.Sleeps())
}

func TestRateLimiter_IdleTimeCountsTowardInterval(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	r := NewRateLimiter(clk, 2*time.Second, 8)

	acquire(t, r)
	clk.Advance(5 * time.Second)
	acquire(t, r)

	assert.Empty(t, clk.Sleeps())
}

func TestRateLimiter_BackoffOn429(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	r := NewRateLimiter(clk, 2*time.Second, 8)

	acquire(t, r)
	r.Observe(http.StatusTooManyRequests)
	assert.Equal(t, 2, r.Multiplier())
	assert.Equal(t, 4*time.Second, r.Interval())

	acquire(t, r)
	assert.Equal(t, []time.Duration{4 * time.Second}, clk.Sleeps())

	r.Observe(http.StatusTooManyRequests)
	r.Observe(http.StatusTooManyRequests)
	r.Observe(http.StatusTooManyRequests)
	assert.Equal(t, 8, r.Multiplier(), "multiplier is capped")
	assert.Equal(t, 16*time.Second, r.Interval())

	r.Observe(http.StatusOK)
	assert.Equal(t, 1, r.Multiplier())
	assert.Equal(t, 2*time.Second, r.Interval())
}

func TestRateLimiter_SerializesCallers(t *testing.T) {
	clk := clock.NewFake(time.Now())
	r := NewRateLimiter(clk, time.Millisecond, 8)

	release, err := r.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "second caller waits for the first to release")

	release()
	release() // idempotent

	release2, err := r.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}
