// internal/drivers/retry_test.go
package drivers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleeper records requested delays instead of sleeping
type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func TestRetryPolicy(t *testing.T) {
	t.Run("retries throttling failures", func(t *testing.T) {
		// Arrange
		sleeper := &recordingSleeper{}
		attempts := 0
		failingFunc := func(int) error {
			attempts++
			if attempts < 3 {
				return ErrThrottled
			}
			return nil
		}

		policy := NewRetryPolicy(WithSleeper(sleeper.Sleep))

		// Act
		res, err := policy.Execute(context.Background(), failingFunc)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 3, attempts, "Should succeed on third attempt")
		assert.Equal(t, 3, res.Attempts)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
	})

	t.Run("backoff law: 1+2+4 seconds then exhausted", func(t *testing.T) {
		sleeper := &recordingSleeper{}
		policy := NewRetryPolicy(WithSleeper(sleeper.Sleep))

		res, err := policy.Execute(context.Background(), func(int) error {
			return &StatusError{Op: "put", Code: 429}
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		var se *StatusError
		assert.ErrorAs(t, err, &se)
		assert.Equal(t, 4, res.Attempts)
		assert.Equal(t, 7*time.Second, res.Waited)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.delays)
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		sleeper := &recordingSleeper{}
		policy := NewRetryPolicy(WithSleeper(sleeper.Sleep))
		boom := errors.New("access denied")

		res, err := policy.Execute(context.Background(), func(int) error { return boom })

		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, ErrRetriesExhausted)
		assert.Equal(t, 1, res.Attempts)
		assert.Empty(t, sleeper.delays)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		policy := NewRetryPolicy(WithMaxRetries(10), WithInitialDelay(time.Hour))

		_, err := policy.Execute(ctx, func(int) error { return ErrThrottled })

		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("caps delay and applies jitter", func(t *testing.T) {
		policy := NewRetryPolicy(
			WithInitialDelay(10*time.Millisecond),
			WithMaxDelay(40*time.Millisecond),
			WithJitter(true),
		)

		for attempt := 0; attempt < 6; attempt++ {
			d := policy.calculateDelay(attempt)
			assert.LessOrEqual(t, d, 60*time.Millisecond)
			assert.GreaterOrEqual(t, d, 5*time.Millisecond)
		}
	})
}
