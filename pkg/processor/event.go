package processor

import "time"

// EventType is the processor's event name.
type EventType string

const (
	EventCheckoutCompleted       EventType = "checkout.session.completed"
	EventInvoicePaid             EventType = "invoice.paid"
	EventInvoicePaymentSucceeded EventType = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    EventType = "invoice.payment_failed"
	EventSubscriptionUpdated     EventType = "customer.subscription.updated"
	EventSubscriptionDeleted     EventType = "customer.subscription.deleted"
	EventScheduleCompleted       EventType = "subscription_schedule.completed"
)

// Event is a verified, decoded webhook delivery.
// Exactly one of the object fields is set, depending on Type.
type Event struct {
	ID      string
	Type    EventType
	Created time.Time

	Checkout     *CheckoutCompleted
	Invoice      *Invoice
	Subscription *Subscription
}

// CheckoutCompleted is the payload of a completed checkout session.
type CheckoutCompleted struct {
	SessionID       string
	CustomerRef     string
	CustomerEmail   string
	SubscriptionRef string
	PaymentRef      string
	AmountTotal     int64
	Metadata        map[string]string
}

// Invoice is the payload of an invoice event.
type Invoice struct {
	ID              string
	CustomerRef     string
	CustomerEmail   string
	SubscriptionRef string
	PaymentRef      string
	PriceRef        string
	AmountPaid      int64
	// AmountDue is what the customer owes; for a failed payment AmountPaid is zero.
	AmountDue   int64
	PeriodStart time.Time
	PeriodEnd   time.Time
	PaidAt      time.Time
	Metadata    map[string]string
}

// TransactionRef returns the identifier used to deduplicate payment records.
// The payment reference is preferred; invoices settled without one fall back
// to the invoice id.
func (i Invoice) TransactionRef() string {
	if i.PaymentRef != "" {
		return i.PaymentRef
	}
	return i.ID
}
