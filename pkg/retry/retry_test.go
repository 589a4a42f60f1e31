package retry_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/adminbilling/pkg/retry"
)

var errFlaky = errors.New("flaky")

func fastConfig(attempts int) retry.Config {
	return retry.Config{
		MaxAttempts:     attempts,
		AttemptTimeout:  time.Second,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func isFlaky(err error) bool { return errors.Is(err, errFlaky) }

func TestRetrier_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	r := retry.New(fastConfig(3), isFlaky)

	err := r.Do(context.Background(), func(context.Context) error {
		if calls.Add(1) < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetrier_StopsAtMaxAttempts(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	var notified atomic.Int32
	r := retry.New(fastConfig(3), isFlaky, retry.WithNotify(func(error, time.Duration) { notified.Add(1) }))

	err := r.Do(context.Background(), func(context.Context) error {
		calls.Add(1)
		return errFlaky
	})
	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(2), notified.Load())
}

func TestRetrier_PermanentErrorNotRetried(t *testing.T) {
	t.Parallel()
	permanent := errors.New("bad request")
	var calls atomic.Int32
	r := retry.New(fastConfig(5), isFlaky)

	err := r.Do(context.Background(), func(context.Context) error {
		calls.Add(1)
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetrier_AttemptTimeout(t *testing.T) {
	t.Parallel()
	cfg := fastConfig(2)
	cfg.AttemptTimeout = 5 * time.Millisecond
	r := retry.New(cfg, func(err error) bool { return errors.Is(err, context.DeadlineExceeded) })

	var calls atomic.Int32
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls.Add(1)
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(2), calls.Load())
}

func TestValue(t *testing.T) {
	t.Parallel()
	r := retry.New(fastConfig(2), isFlaky)
	var calls atomic.Int32

	v, err := retry.Value(context.Background(), r, func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "", errFlaky
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestNew_PanicsWithoutPredicate(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { retry.New(fastConfig(1), nil) })
}
