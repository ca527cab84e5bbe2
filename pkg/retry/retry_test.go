package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, Linear(time.Millisecond), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 5, Linear(time.Millisecond), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoReturnsLastErrorAfterExhaustion(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), 3, Linear(time.Millisecond), func() error {
		calls++
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, 3, Linear(time.Millisecond), func() error {
		calls++
		return errors.New("nope")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestDoCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, 3, Linear(time.Hour), func() error {
		calls++
		return errors.New("nope")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExponentialBackoffMonotonic(t *testing.T) {
	fn := Exponential(time.Second, 30*time.Second)
	var prev time.Duration
	for attempt := 1; attempt <= 8; attempt++ {
		d := fn(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, 30*time.Second)
		prev = d
	}
	assert.Equal(t, time.Second, fn(1))
	assert.Equal(t, 2*time.Second, fn(2))
	assert.Equal(t, 16*time.Second, fn(5))
	assert.Equal(t, 30*time.Second, fn(8))
}

func TestLinearBackoff(t *testing.T) {
	fn := Linear(2 * time.Second)
	assert.Equal(t, 2*time.Second, fn(1))
	assert.Equal(t, 4*time.Second, fn(2))
	assert.Equal(t, 6*time.Second, fn(3))
}

func TestWithJitterBounds(t *testing.T) {
	fn := WithJitter(Linear(time.Second), 500*time.Millisecond)
	for range 50 {
		d := fn(1)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, time.Second+500*time.Millisecond)
	}
}
