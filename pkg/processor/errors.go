package processor

import (
	"context"
	"errors"
)

var (
	// ErrTransient marks failures worth retrying: timeouts, rate limits and 5xx responses.
	ErrTransient = errors.New("payment processor temporarily unavailable")
	// ErrRequestFailed marks permanent rejections of a well-formed call.
	ErrRequestFailed = errors.New("payment processor rejected the request")
	ErrNotFound      = errors.New("payment processor object not found")

	ErrInvalidSignature = errors.New("webhook signature verification failed")
	ErrMalformedEvent   = errors.New("malformed webhook event")

	ErrNoPaymentMethod   = errors.New("no payment method on file")
	ErrNoCheckoutURL     = errors.New("no checkout URL returned from processor")
	ErrNoPortalURL       = errors.New("no portal URL returned from processor")
	ErrMissingSecretKey  = errors.New("payment processor secret key is required")
	ErrMissingWebhookKey = errors.New("payment processor webhook secret is required")
	ErrMissingPriceRef   = errors.New("price reference is required")
)

// IsTransient reports whether err is worth retrying.
// Context deadline expiry counts as transient; explicit cancellation does not.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}
