package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client redis.UniversalClient
}

// NewRedisStore returns a Store that keeps JSON-encoded records in Redis.
// Reservation uses SET NX so concurrent first requests race safely.
func NewRedisStore(client redis.UniversalClient) Store {
	return &redisStore{client: client}
}

func (s *redisStore) Reserve(ctx context.Context, key string, rec Record, ttl time.Duration) (Record, bool, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return Record{}, false, err
	}
	ok, err := s.client.SetNX(ctx, key, raw, ttl).Result()
	if err != nil {
		return Record{}, false, errors.Join(ErrStore, err)
	}
	if ok {
		return rec, true, nil
	}

	existing, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		return s.Reserve(ctx, key, rec, ttl)
	}
	if err != nil {
		return Record{}, false, errors.Join(ErrStore, err)
	}
	var out Record
	if err := json.Unmarshal(existing, &out); err != nil {
		return Record{}, false, errors.Join(ErrStore, err)
	}
	return out, false, nil
}

func (s *redisStore) Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return errors.Join(ErrStore, err)
	}
	return nil
}

func (s *redisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return errors.Join(ErrStore, err)
	}
	return nil
}
