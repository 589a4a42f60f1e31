package processor

import (
	"context"
	"time"
)

// Processor is the outbound boundary to the external payment processor.
// Implementations wrap the vendor SDK and translate vendor failures into the
// sentinel errors of this package, so callers can tell a transient outage
// (ErrTransient) from a permanent rejection.
type Processor interface {
	// CreateCheckoutSession creates a hosted checkout session.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)

	// GetSubscription returns the processor's live view of a subscription.
	GetSubscription(ctx context.Context, subscriptionRef string) (Subscription, error)

	// SetCancelAtPeriodEnd toggles cancellation at the end of the current period.
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionRef string, cancel bool) (Subscription, error)

	// CancelNow ends the subscription immediately.
	CancelNow(ctx context.Context, subscriptionRef string) error

	// SchedulePlanChange replaces any existing schedule with a two-phase one:
	// the current price until the period end, then the target price.
	SchedulePlanChange(ctx context.Context, req PlanChangeRequest) (Schedule, error)

	// DefaultPaymentMethod resolves the card that will be charged next.
	DefaultPaymentMethod(ctx context.Context, customerRef, subscriptionRef string) (PaymentMethod, error)

	// CreatePortalSession returns a pre-authenticated billing portal link.
	CreatePortalSession(ctx context.Context, customerRef, returnURL string) (PortalSession, error)

	// FindCustomerByEmail returns the processor customer id for the email.
	FindCustomerByEmail(ctx context.Context, email string) (string, error)
}

// WebhookParser verifies and decodes inbound webhook deliveries.
type WebhookParser interface {
	// ParseWebhook must reject payloads whose signature does not verify with
	// ErrInvalidSignature, and undecodable payloads with ErrMalformedEvent.
	ParseWebhook(payload []byte, signature string) (Event, error)
}

// CheckoutRequest contains data needed to create a checkout session.
type CheckoutRequest struct {
	PriceRef      string            // Processor price identifier
	CustomerRef   string            // Existing processor customer, optional
	CustomerEmail string            // Prefills checkout when CustomerRef is empty
	Metadata      map[string]string // Copied to both the session and the subscription
	TrialDays     int               // Zero means no trial
	SuccessURL    string
	CancelURL     string
}

// CheckoutSession represents a hosted checkout session.
type CheckoutSession struct {
	ID  string
	URL string
}

// SubscriptionStatus mirrors the processor's subscription status vocabulary.
type SubscriptionStatus string

const (
	StatusTrialing   SubscriptionStatus = "trialing"
	StatusActive     SubscriptionStatus = "active"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusCanceled   SubscriptionStatus = "canceled"
	StatusUnpaid     SubscriptionStatus = "unpaid"
	StatusIncomplete SubscriptionStatus = "incomplete"
)

// Live reports whether the status still grants access.
func (s SubscriptionStatus) Live() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue:
		return true
	default:
		return false
	}
}

// Subscription is the processor's view of a subscription.
type Subscription struct {
	ID                 string
	CustomerRef        string
	Status             SubscriptionStatus
	PriceRef           string
	CancelAtPeriodEnd  bool
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	ScheduleRef        string
	Metadata           map[string]string
}

// PlanChangeRequest describes a deferred price change.
type PlanChangeRequest struct {
	SubscriptionRef string
	TargetPriceRef  string
	Metadata        map[string]string
}

// Schedule is a processor-side subscription schedule.
type Schedule struct {
	ID          string
	EffectiveAt time.Time
}

// PaymentMethod is a redacted card summary.
type PaymentMethod struct {
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
}

// PortalSession is a billing portal link.
type PortalSession struct {
	URL string
}
