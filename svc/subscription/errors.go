package subscription

import "errors"

var (
	ErrDuplicateActiveSubscription = errors.New("tenant already has an active subscription")
	ErrNoActiveSubscription        = errors.New("tenant has no active subscription")
	ErrNotCanceled                 = errors.New("subscription is not canceled")
	ErrInvalidTransition           = errors.New("plan change not allowed")
	ErrInvalidTargetPlan           = errors.New("invalid target plan")
	ErrTrialCheckoutRequired       = errors.New("trial subscriptions must change plan through checkout")
	ErrSubscriptionCanceled        = errors.New("subscription is canceled")
	ErrImmediateChangeUnsupported  = errors.New("plan changes take effect at the next cycle boundary")
	ErrNoScheduledTransition       = errors.New("no scheduled plan change")
	ErrMissingTransactionRef       = errors.New("payment transaction reference is required")
	ErrUnknownTenant               = errors.New("unknown tenant")
	ErrSnapshotNotFound            = errors.New("subscription snapshot not found")
	ErrInvalidPolicy               = errors.New("invalid trial cancellation policy")
	ErrEventAlreadyApplied         = errors.New("external event already applied")
	ErrTenantBusy                  = errors.New("tenant is locked by another writer")
)
