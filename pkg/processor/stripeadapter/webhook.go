package stripeadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dmitrymomot/adminbilling/pkg/processor"
)

// Parser verifies Stripe-Signature headers and decodes event objects.
// It needs only the webhook secret, so it can run without API credentials.
type Parser struct {
	secret  string
	options webhook.ConstructEventOptions
}

// NewParser creates a Parser from cfg.WebhookSecret.
func NewParser(cfg Config) (*Parser, error) {
	if cfg.WebhookSecret == "" {
		return nil, processor.ErrMissingWebhookKey
	}
	return &Parser{
		secret: cfg.WebhookSecret,
		options: webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: cfg.IgnoreAPIVersionMismatch,
		},
	}, nil
}

func (p *Parser) ParseWebhook(payload []byte, signature string) (processor.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, p.options)
	if err != nil {
		if isSignatureError(err) {
			return processor.Event{}, errors.Join(processor.ErrInvalidSignature, err)
		}
		return processor.Event{}, errors.Join(processor.ErrMalformedEvent, err)
	}
	if event.ID == "" || event.Data == nil {
		return processor.Event{}, errors.Join(processor.ErrMalformedEvent, errors.New("event id or data missing"))
	}

	out := processor.Event{
		ID:      event.ID,
		Type:    processor.EventType(event.Type),
		Created: unixTime(event.Created),
	}

	switch out.Type {
	case processor.EventCheckoutCompleted:
		var obj stripe.CheckoutSession
		if err := decode(event, &obj); err != nil {
			return processor.Event{}, err
		}
		out.Checkout = toCheckout(&obj)
	case processor.EventInvoicePaid, processor.EventInvoicePaymentSucceeded, processor.EventInvoicePaymentFailed:
		var (
			obj    stripe.Invoice
			legacy legacyInvoice
		)
		if err := decode(event, &obj); err != nil {
			return processor.Event{}, err
		}
		if err := decode(event, &legacy); err != nil {
			return processor.Event{}, err
		}
		out.Invoice = toInvoice(&obj, legacy)
	case processor.EventSubscriptionUpdated, processor.EventSubscriptionDeleted:
		var (
			obj    stripe.Subscription
			legacy legacySubscription
		)
		if err := decode(event, &obj); err != nil {
			return processor.Event{}, err
		}
		if err := decode(event, &legacy); err != nil {
			return processor.Event{}, err
		}
		sub := toSubscription(&obj)
		if sub.CurrentPeriodEnd.IsZero() {
			sub.CurrentPeriodStart = unixTime(legacy.CurrentPeriodStart)
			sub.CurrentPeriodEnd = unixTime(legacy.CurrentPeriodEnd)
		}
		out.Subscription = &sub
	case processor.EventScheduleCompleted:
		var obj stripe.SubscriptionSchedule
		if err := decode(event, &obj); err != nil {
			return processor.Event{}, err
		}
		out.Subscription = toScheduledSubscription(&obj)
	}
	return out, nil
}

func decode(event stripe.Event, v any) error {
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return errors.Join(processor.ErrMalformedEvent, fmt.Errorf("decode %s: %w", event.Type, err))
	}
	return nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrTooOld)
}

// expandable decodes a field that Stripe renders either as an id string or as
// an expanded object carrying an "id".
type expandable string

func (e *expandable) UnmarshalJSON(b []byte) error {
	if id, ok := stripe.ParseID(b); ok {
		*e = expandable(id)
		return nil
	}
	if string(b) == "null" {
		*e = ""
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandable(obj.ID)
	return nil
}

// legacyInvoice holds the invoice fields that API versions before 2025-03-31
// rendered at the top level and stripe.Invoice no longer declares.
type legacyInvoice struct {
	Subscription  expandable `json:"subscription"`
	PaymentIntent expandable `json:"payment_intent"`
	Charge        expandable `json:"charge"`
	Lines         struct {
		Data []struct {
			Price *struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"lines"`
}

// legacySubscription holds the subscription period that older API versions
// kept on the subscription instead of its items.
type legacySubscription struct {
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func toCheckout(cs *stripe.CheckoutSession) *processor.CheckoutCompleted {
	email := cs.CustomerEmail
	if email == "" && cs.CustomerDetails != nil {
		email = cs.CustomerDetails.Email
	}
	out := &processor.CheckoutCompleted{
		SessionID:     cs.ID,
		CustomerRef:   customerID(cs.Customer),
		CustomerEmail: strings.TrimSpace(email),
		AmountTotal:   cs.AmountTotal,
		Metadata:      cs.Metadata,
	}
	if cs.Subscription != nil {
		out.SubscriptionRef = cs.Subscription.ID
	}
	switch {
	case cs.PaymentIntent != nil && cs.PaymentIntent.ID != "":
		out.PaymentRef = cs.PaymentIntent.ID
	case cs.Invoice != nil:
		out.PaymentRef = cs.Invoice.ID
	}
	return out
}

func toInvoice(in *stripe.Invoice, legacy legacyInvoice) *processor.Invoice {
	inv := &processor.Invoice{
		ID:              in.ID,
		CustomerRef:     customerID(in.Customer),
		CustomerEmail:   in.CustomerEmail,
		SubscriptionRef: string(legacy.Subscription),
		PaymentRef:      string(legacy.PaymentIntent),
		AmountPaid:      in.AmountPaid,
		AmountDue:       in.AmountDue,
		PeriodStart:     unixTime(in.PeriodStart),
		PeriodEnd:       unixTime(in.PeriodEnd),
		Metadata:        in.Metadata,
	}
	if inv.PaymentRef == "" && in.Payments != nil {
		for _, p := range in.Payments.Data {
			if p == nil || p.Payment == nil {
				continue
			}
			if p.Payment.PaymentIntent != nil && p.Payment.PaymentIntent.ID != "" {
				inv.PaymentRef = p.Payment.PaymentIntent.ID
				break
			}
			if p.Payment.Charge != nil && p.Payment.Charge.ID != "" {
				inv.PaymentRef = p.Payment.Charge.ID
				break
			}
		}
	}
	if inv.PaymentRef == "" {
		inv.PaymentRef = string(legacy.Charge)
	}
	if in.Parent != nil && in.Parent.SubscriptionDetails != nil {
		details := in.Parent.SubscriptionDetails
		if inv.SubscriptionRef == "" && details.Subscription != nil {
			inv.SubscriptionRef = details.Subscription.ID
		}
		if len(details.Metadata) > 0 {
			inv.Metadata = details.Metadata
		}
	}
	// Line periods carry the service window; the invoice-level period is the
	// window of the previous cycle for subscription renewals.
	if in.Lines != nil && len(in.Lines.Data) > 0 && in.Lines.Data[0] != nil {
		line := in.Lines.Data[0]
		if line.Period != nil && line.Period.End > 0 {
			inv.PeriodStart = unixTime(line.Period.Start)
			inv.PeriodEnd = unixTime(line.Period.End)
		}
		if line.Pricing != nil && line.Pricing.PriceDetails != nil {
			inv.PriceRef = line.Pricing.PriceDetails.Price
		}
	}
	if inv.PriceRef == "" && len(legacy.Lines.Data) > 0 && legacy.Lines.Data[0].Price != nil {
		inv.PriceRef = legacy.Lines.Data[0].Price.ID
	}
	paidAt := in.Created
	if in.StatusTransitions != nil && in.StatusTransitions.PaidAt > 0 {
		paidAt = in.StatusTransitions.PaidAt
	}
	inv.PaidAt = unixTime(paidAt)
	return inv
}

func toScheduledSubscription(sched *stripe.SubscriptionSchedule) *processor.Subscription {
	sub := &processor.Subscription{
		CustomerRef: customerID(sched.Customer),
		ScheduleRef: sched.ID,
		Metadata:    sched.Metadata,
		Status:      processor.StatusActive,
	}
	if sched.Subscription != nil {
		sub.ID = sched.Subscription.ID
	}
	if sched.CurrentPhase != nil {
		sub.CurrentPeriodStart = unixTime(sched.CurrentPhase.StartDate)
		sub.CurrentPeriodEnd = unixTime(sched.CurrentPhase.EndDate)
	}
	return sub
}
