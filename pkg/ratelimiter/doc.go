// Package ratelimiter implements a token bucket limiter with in-memory and
// Redis stores and an HTTP middleware.
//
// The billing API uses it to cap how often one actor can drive mutations
// that reach the payment processor:
//
//	store := ratelimiter.NewRedisStore(client, ratelimiter.WithKeyPrefix("billing:rl"))
//	bucket, err := ratelimiter.NewBucket(store, cfg.Bucket())
//	if err != nil {
//		return err
//	}
//	r.Use(ratelimiter.Middleware(bucket, actorKey))
//
// A denied request does not consume tokens. Responses carry
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset, plus
// Retry-After on 429.
package ratelimiter
