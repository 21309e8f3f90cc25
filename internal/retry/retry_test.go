package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryer(t *testing.T) {
	t.Run("stops at the first success", func(t *testing.T) {
		calls := 0
		r := New(5, time.Millisecond, 5*time.Millisecond)
		err := r.Retry(context.Background(), func() error {
			calls++
			if calls < 3 {
				return errors.New("not yet")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		r := New(2, time.Millisecond, time.Millisecond)
		err := r.Retry(context.Background(), func() error {
			calls++
			return boom
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 3, calls)
	})

	t.Run("honours context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		r := New(10, time.Hour, time.Hour)
		calls := 0
		err := r.Retry(ctx, func() error {
			calls++
			cancel()
			return errors.New("down")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestRetryerDelay(t *testing.T) {
	r := New(5, time.Second, 5*time.Second)
	assert.Equal(t, time.Second, r.Delay(0))
	assert.Equal(t, 2*time.Second, r.Delay(1))
	assert.Equal(t, 4*time.Second, r.Delay(2))
	assert.Equal(t, 5*time.Second, r.Delay(3), "capped")

	jittered := New(5, time.Second, 5*time.Second, WithJitter())
	d := jittered.Delay(1)
	assert.GreaterOrEqual(t, d, 2*time.Second)
	assert.LessOrEqual(t, d, 2500*time.Millisecond)

	slow := New(5, time.Second, 10*time.Second, WithMultiplier(1.5))
	assert.Equal(t, 2250*time.Millisecond, slow.Delay(2))
}

func TestMaxRetries(t *testing.T) {
	assert.Equal(t, 3, New(3, time.Second, time.Second).MaxRetries())
}
