// Package idempotency deduplicates client-initiated requests by the
// Idempotency-Key header.
//
// Keys are stored as "{prefix}:idempotency:{namespace}:{actor}:{key}" for
// DefaultTTL. The fingerprint is sha256(method|path|actor|canonical JSON
// body). A matching replay returns the cached status and body with the
// Idempotent-Replayed header; a mismatch fails with ErrKeyReused.
//
//	r.With(idempotency.Middleware(idempotency.NewRedisStore(client),
//		idempotency.WithNamespace("billing"),
//		idempotency.WithActor(actorFromRequest),
//	)).Post("/cancel", h.cancel)
package idempotency
