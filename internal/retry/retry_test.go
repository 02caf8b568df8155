package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOpts(attempts int) Options {
	return Options{Attempts: attempts, Base: time.Millisecond, Max: 8 * time.Millisecond, Jitter: 0}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), fastOpts(5), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAndReturnsLastError(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	_, err := Do(context.Background(), fastOpts(3), func(ctx context.Context) (int, error) {
		calls++
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDoPermanentBypassesRemainingAttempts(t *testing.T) {
	calls := 0
	fatal := errors.New("contract not found")
	_, err := Do(context.Background(), fastOpts(5), func(ctx context.Context) (int, error) {
		calls++
		return 0, Permanent(fatal)
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	opts := Options{Attempts: 10, Base: 50 * time.Millisecond, Max: time.Second}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := Do(ctx, opts, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, calls, 10)
}

func TestDelayMonotoneAndBounded(t *testing.T) {
	opts := Options{Attempts: 10, Base: 100 * time.Millisecond, Max: time.Second}

	prev := time.Duration(0)
	for k := 1; k <= 10; k++ {
		d := Delay(opts, k)
		assert.GreaterOrEqual(t, d, prev, "sequence is monotone non-decreasing")
		assert.LessOrEqual(t, d, opts.Max, "bounded by max")
		prev = d
	}
	assert.Equal(t, 100*time.Millisecond, Delay(opts, 1))
	assert.Equal(t, 200*time.Millisecond, Delay(opts, 2))
	assert.Equal(t, time.Second, Delay(opts, 5))
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(Permanent(errors.New("x"))))
	assert.False(t, IsPermanent(errors.New("x")))
	assert.NoError(t, Permanent(nil))
}
