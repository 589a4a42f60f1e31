package ratelimiter

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript mirrors refill and the consume rule of MemoryStore so the
// check-and-take is atomic across API replicas. Times are unix milliseconds.
var consumeScript = redis.NewScript(`
local cap = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local cost = tonumber(ARGV[5])
local ttl = tonumber(ARGV[6])

local tokens = tonumber(redis.call('HGET', KEYS[1], 't'))
local mark = tonumber(redis.call('HGET', KEYS[1], 'm'))
if tokens == nil or mark == nil then
  tokens = cap
  mark = now
end

local elapsed = now - mark
if elapsed >= interval then
  local n = math.floor(elapsed / interval)
  local maxn = math.floor(cap / rate) + 1
  if n > maxn then n = maxn end
  tokens = math.min(tokens + n * rate, cap)
  if tokens == cap then
    mark = now
  else
    mark = mark + n * interval
  end
end

local reset = mark + interval
if tokens < cost then
  return {tokens - cost, reset}
end
tokens = tokens - cost
redis.call('HSET', KEYS[1], 't', tokens, 'm', mark)
redis.call('PEXPIRE', KEYS[1], ttl)
return {tokens, reset}
`)

type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

type RedisStoreOption func(*RedisStore)

// WithKeyPrefix namespaces bucket keys, e.g. "billing:rl".
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore panics if client is nil.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	if client == nil {
		panic("ratelimiter: redis client is required")
	}
	s := &RedisStore{client: client, prefix: "ratelimit"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisStore) ConsumeTokens(ctx context.Context, key string, tokens int, cfg Config, now time.Time) (int, time.Time, error) {
	out, err := consumeScript.Run(ctx, s.client, []string{s.key(key)},
		cfg.Capacity,
		cfg.RefillRate,
		cfg.RefillInterval.Milliseconds(),
		now.UnixMilli(),
		tokens,
		cfg.ttl().Milliseconds(),
	).Int64Slice()
	if err != nil {
		return 0, time.Time{}, errors.Join(ErrStoreUnavailable, err)
	}
	if len(out) != 2 {
		return 0, time.Time{}, errors.Join(ErrStoreUnavailable, errors.New("unexpected script reply"))
	}
	return int(out[0]), time.UnixMilli(out[1]), nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}
