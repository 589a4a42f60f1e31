package ratelimiter_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/adminbilling/pkg/ratelimiter"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

var testConfig = ratelimiter.Config{Capacity: 3, RefillRate: 1, RefillInterval: time.Second}

func stores(t *testing.T) map[string]ratelimiter.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]ratelimiter.Store{
		"memory": ratelimiter.NewMemoryStore(),
		"redis":  ratelimiter.NewRedisStore(client, ratelimiter.WithKeyPrefix("test:rl")),
	}
}

func TestNewBucketValidatesConfig(t *testing.T) {
	t.Parallel()
	store := ratelimiter.NewMemoryStore()

	for name, cfg := range map[string]ratelimiter.Config{
		"capacity": {Capacity: 0, RefillRate: 1, RefillInterval: time.Second},
		"rate":     {Capacity: 1, RefillRate: 0, RefillInterval: time.Second},
		"interval": {Capacity: 1, RefillRate: 1, RefillInterval: time.Microsecond},
	} {
		_, err := ratelimiter.NewBucket(store, cfg)
		assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig, name)
	}

	_, err := ratelimiter.NewBucket(nil, testConfig)
	assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
}

func TestBucket(t *testing.T) {
	t.Parallel()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
			b, err := ratelimiter.NewBucket(store, testConfig, ratelimiter.WithClock(clk.now))
			require.NoError(t, err)

			for want := 2; want >= 0; want-- {
				res, err := b.Allow(ctx, "owner@acme.test")
				require.NoError(t, err)
				assert.True(t, res.Allowed())
				assert.Equal(t, want, res.Remaining)
				assert.Equal(t, 3, res.Limit)
			}

			res, err := b.Allow(ctx, "owner@acme.test")
			require.NoError(t, err)
			assert.False(t, res.Allowed())
			assert.Equal(t, -1, res.Remaining)
			assert.Equal(t, time.Second, res.RetryAfter(clk.now()))

			// denied requests do not dig the bucket deeper
			res, err = b.Status(ctx, "owner@acme.test")
			require.NoError(t, err)
			assert.Equal(t, 0, res.Remaining)

			other, err := b.Allow(ctx, "other@acme.test")
			require.NoError(t, err)
			assert.Equal(t, 2, other.Remaining)

			clk.advance(1500 * time.Millisecond)
			res, err = b.Allow(ctx, "owner@acme.test")
			require.NoError(t, err)
			assert.True(t, res.Allowed())
			assert.Equal(t, 0, res.Remaining)
			assert.WithinDuration(t, clk.now().Add(500*time.Millisecond), res.ResetAt, 0)

			clk.advance(time.Hour)
			res, err = b.Status(ctx, "owner@acme.test")
			require.NoError(t, err)
			assert.Equal(t, 3, res.Remaining)

			require.NoError(t, b.Reset(ctx, "other@acme.test"))
			other, err = b.Status(ctx, "other@acme.test")
			require.NoError(t, err)
			assert.Equal(t, 3, other.Remaining)

			_, err = b.AllowN(ctx, "owner@acme.test", 0)
			assert.ErrorIs(t, err, ratelimiter.ErrInvalidTokenCount)

			res, err = b.AllowN(ctx, "owner@acme.test", 4)
			require.NoError(t, err)
			assert.False(t, res.Allowed())
		})
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	b, err := ratelimiter.NewBucket(ratelimiter.NewRedisStore(client), testConfig)
	require.NoError(t, err)
	_, err = b.Allow(context.Background(), "k")
	assert.ErrorIs(t, err, ratelimiter.ErrStoreUnavailable)
}

func TestMemoryStoreDropsIdleBuckets(t *testing.T) {
	t.Parallel()
	store := ratelimiter.NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	_, _, err := store.ConsumeTokens(ctx, "idle", 1, testConfig, start)
	require.NoError(t, err)
	for i := range 1023 {
		_, _, err := store.ConsumeTokens(ctx, "busy", 0, testConfig, start.Add(time.Minute+time.Duration(i)))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, store.Len())
}
