package ratelimiter

import (
	"context"
	"time"
)

// Store keeps bucket state. ConsumeTokens refills the bucket for elapsed
// intervals and takes tokens only if enough are available; otherwise it
// returns the would-be negative balance and leaves the bucket untouched.
// tokens == 0 only refreshes the state.
type Store interface {
	ConsumeTokens(ctx context.Context, key string, tokens int, cfg Config, now time.Time) (remaining int, resetAt time.Time, err error)
	Reset(ctx context.Context, key string) error
}

// refill returns the token balance and refill mark after elapsed intervals.
func refill(tokens int, refilledAt, now time.Time, cfg Config) (int, time.Time) {
	elapsed := now.Sub(refilledAt)
	if elapsed < cfg.RefillInterval {
		return tokens, refilledAt
	}
	// cap to avoid overflow on long idle periods
	maxIntervals := int64(cfg.Capacity/cfg.RefillRate + 1)
	intervals := min(int64(elapsed/cfg.RefillInterval), maxIntervals)
	tokens = min(tokens+int(intervals)*cfg.RefillRate, cfg.Capacity)
	if tokens == cfg.Capacity {
		return tokens, now
	}
	return tokens, refilledAt.Add(time.Duration(intervals) * cfg.RefillInterval)
}
