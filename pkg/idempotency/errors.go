package idempotency

import "errors"

var (
	ErrKeyReused         = errors.New("idempotency key reused with a different request")
	ErrRequestInProgress = errors.New("request with this idempotency key is in progress")
	ErrInvalidKey        = errors.New("invalid idempotency key")
	ErrStore             = errors.New("idempotency store unavailable")
)
