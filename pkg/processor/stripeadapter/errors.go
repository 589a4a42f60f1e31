package stripeadapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v82"

	"github.com/dmitrymomot/adminbilling/pkg/processor"
)

// classify maps a Stripe SDK error onto the processor sentinels.
// The original error stays in the chain for logging.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(processor.ErrTransient, fmt.Errorf("stripe %s: %w", op, err))
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("stripe %s: %w", op, err)
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusNotFound,
			stripeErr.Code == stripe.ErrorCodeResourceMissing:
			return errors.Join(processor.ErrNotFound, fmt.Errorf("stripe %s: %w", op, err))
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
			stripeErr.Type == stripe.ErrorTypeAPI:
			return errors.Join(processor.ErrTransient, fmt.Errorf("stripe %s: %w", op, err))
		default:
			return errors.Join(processor.ErrRequestFailed, fmt.Errorf("stripe %s: %w", op, err))
		}
	}

	// Anything without a Stripe envelope is a network-level failure.
	return errors.Join(processor.ErrTransient, fmt.Errorf("stripe %s: %w", op, err))
}
