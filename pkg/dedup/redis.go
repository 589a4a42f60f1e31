package dedup

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	rkey "github.com/dmitrymomot/adminbilling/pkg/redis"
)

// DefaultRedisTTL bounds how long the fast path remembers an event.
// Processors stop redelivering well before this.
const DefaultRedisTTL = 7 * 24 * time.Hour

type redisLedger struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedis returns a Ledger that stores ids with SET NX and a TTL.
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration) Ledger {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &redisLedger{client: client, prefix: prefix, ttl: ttl}
}

func (l *redisLedger) key(eventID string) string {
	return rkey.Key(l.prefix, "dedup", eventID)
}

func (l *redisLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, ErrEmptyEventID
	}
	n, err := l.client.Exists(ctx, l.key(eventID)).Result()
	if err != nil {
		return false, errors.Join(ErrLedger, err)
	}
	return n > 0, nil
}

func (l *redisLedger) Record(ctx context.Context, eventID, eventType string) (bool, error) {
	if eventID == "" {
		return false, ErrEmptyEventID
	}
	if eventType == "" {
		eventType = "-"
	}
	ok, err := l.client.SetNX(ctx, l.key(eventID), eventType, l.ttl).Result()
	if err != nil {
		return false, errors.Join(ErrLedger, err)
	}
	return ok, nil
}
