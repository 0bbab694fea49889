package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/clock"
)

func noJitterPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.Jitter = nil
	return p
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := noJitterPolicy()

	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 30*time.Second, p.Delay(10), "capped at 30s")

	p.Jitter = func(d time.Duration) time.Duration { return d * 100 }
	assert.Equal(t, 30*time.Second, p.Delay(1), "jitter cannot exceed the cap")
}

func TestEqualJitter(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := EqualJitter(10 * time.Second)
		assert.GreaterOrEqual(t, d, 5*time.Second)
		assert.LessOrEqual(t, d, 10*time.Second)
	}
}

func TestRetryPolicy_Do(t *testing.T) {
	retryable := &APIError{Op: "metadata", StatusCode: 503, Kind: KindRetryable}
	terminal := &APIError{Op: "metadata", StatusCode: 403, Kind: KindTerminal}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		clk := clock.NewFake(time.Now())
		calls := 0
		err := noJitterPolicy().Do(context.Background(), clk, func(attempt int) error {
			calls++
			if attempt < 3 {
				return retryable
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clk.Sleeps())
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		clk := clock.NewFake(time.Now())
		calls := 0
		err := noJitterPolicy().Do(context.Background(), clk, func(int) error {
			calls++
			return retryable
		})
		assert.ErrorIs(t, err, retryable)
		assert.Equal(t, 3, calls)
	})

	t.Run("terminal errors are not retried", func(t *testing.T) {
		clk := clock.NewFake(time.Now())
		calls := 0
		err := noJitterPolicy().Do(context.Background(), clk, func(int) error {
			calls++
			return terminal
		})
		assert.ErrorIs(t, err, terminal)
		assert.Equal(t, 1, calls)
		assert.Empty(t, clk.Sleeps())
	})

	t.Run("plain errors are not retried", func(t *testing.T) {
		calls := 0
		err := noJitterPolicy().Do(context.Background(), clock.NewFake(time.Now()), func(int) error {
			calls++
			return errors.New("boom")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}
