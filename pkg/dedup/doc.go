// Package dedup is the ledger of processed external event ids.
//
// Postgres (external_events) is the durable record. Redis is an optional
// fast path keyed "{prefix}:dedup:{event_id}" with a TTL; NewLayered
// combines the two. NewMemory serves tests.
package dedup
