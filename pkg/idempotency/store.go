package idempotency

import (
	"context"
	"time"
)

// Record is the cached outcome of a request.
type Record struct {
	Fingerprint string    `json:"fingerprint"`
	Completed   bool      `json:"completed"`
	Status      int       `json:"status,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Body        []byte    `json:"body,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists idempotency records with a TTL.
type Store interface {
	// Reserve claims key with an in-flight record. When the key already
	// exists it returns the existing record and false.
	Reserve(ctx context.Context, key string, rec Record, ttl time.Duration) (Record, bool, error)
	// Complete replaces the in-flight record with the final response.
	Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error
	// Release drops a reservation so the request can be retried.
	Release(ctx context.Context, key string) error
}
