package reconciler

import "errors"

var (
	ErrTenantNotResolved = errors.New("webhook event does not identify a tenant")
	// ErrRetryable wraps failures the sender should redeliver.
	ErrRetryable = errors.New("webhook processing failed; redeliver")
)
