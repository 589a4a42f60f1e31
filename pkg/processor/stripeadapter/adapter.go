package stripeadapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/dmitrymomot/adminbilling/pkg/processor"
)

// Adapter implements processor.Processor and processor.WebhookParser on top
// of an injected *stripe.Client.
type Adapter struct {
	client *stripe.Client
	*Parser
}

var (
	_ processor.Processor     = (*Adapter)(nil)
	_ processor.WebhookParser = (*Adapter)(nil)
)

// New builds an Adapter with a client created from cfg.SecretKey.
func New(cfg Config) (*Adapter, error) {
	if cfg.SecretKey == "" {
		return nil, processor.ErrMissingSecretKey
	}
	parser, err := NewParser(cfg)
	if err != nil {
		return nil, err
	}
	return &Adapter{client: stripe.NewClient(cfg.SecretKey, nil), Parser: parser}, nil
}

// NewWithClient builds an Adapter around an existing client, typically one
// pointed at a stub backend in tests.
func NewWithClient(client *stripe.Client, cfg Config) (*Adapter, error) {
	if client == nil {
		return nil, processor.ErrMissingSecretKey
	}
	parser, err := NewParser(cfg)
	if err != nil {
		return nil, err
	}
	return &Adapter{client: client, Parser: parser}, nil
}

func (a *Adapter) CreateCheckoutSession(ctx context.Context, req processor.CheckoutRequest) (processor.CheckoutSession, error) {
	if req.PriceRef == "" {
		return processor.CheckoutSession{}, processor.ErrMissingPriceRef
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{Price: stripe.String(req.PriceRef), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata:   req.Metadata,
		SubscriptionData: &stripe.CheckoutSessionCreateSubscriptionDataParams{
			Metadata: req.Metadata,
		},
	}
	if req.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(req.TrialDays))
	}
	switch {
	case req.CustomerRef != "":
		params.Customer = stripe.String(req.CustomerRef)
	case req.CustomerEmail != "":
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	session, err := a.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return processor.CheckoutSession{}, classify("create checkout session", err)
	}
	if session.URL == "" {
		return processor.CheckoutSession{}, processor.ErrNoCheckoutURL
	}
	return processor.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (a *Adapter) GetSubscription(ctx context.Context, subscriptionRef string) (processor.Subscription, error) {
	sub, err := a.client.V1Subscriptions.Retrieve(ctx, subscriptionRef, &stripe.SubscriptionRetrieveParams{})
	if err != nil {
		return processor.Subscription{}, classify("retrieve subscription", err)
	}
	return toSubscription(sub), nil
}

func (a *Adapter) SetCancelAtPeriodEnd(ctx context.Context, subscriptionRef string, cancel bool) (processor.Subscription, error) {
	sub, err := a.client.V1Subscriptions.Update(ctx, subscriptionRef, &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	})
	if err != nil {
		return processor.Subscription{}, classify("update subscription", err)
	}
	return toSubscription(sub), nil
}

func (a *Adapter) CancelNow(ctx context.Context, subscriptionRef string) error {
	_, err := a.client.V1Subscriptions.Cancel(ctx, subscriptionRef, &stripe.SubscriptionCancelParams{})
	if err != nil {
		// Already gone on the processor side counts as canceled.
		if cerr := classify("cancel subscription", err); !errors.Is(cerr, processor.ErrNotFound) {
			return cerr
		}
	}
	return nil
}

func (a *Adapter) SchedulePlanChange(ctx context.Context, req processor.PlanChangeRequest) (processor.Schedule, error) {
	if req.TargetPriceRef == "" {
		return processor.Schedule{}, processor.ErrMissingPriceRef
	}

	sub, err := a.client.V1Subscriptions.Retrieve(ctx, req.SubscriptionRef, &stripe.SubscriptionRetrieveParams{})
	if err != nil {
		return processor.Schedule{}, classify("retrieve subscription", err)
	}
	current := toSubscription(sub)
	if current.CurrentPeriodEnd.IsZero() || current.PriceRef == "" {
		return processor.Schedule{}, errors.Join(processor.ErrRequestFailed, errors.New("subscription has no billing period"))
	}

	// A subscription can carry only one schedule; the previous pending change is dropped.
	if current.ScheduleRef != "" {
		if _, err := a.client.V1SubscriptionSchedules.Release(ctx, current.ScheduleRef, &stripe.SubscriptionScheduleReleaseParams{}); err != nil {
			if cerr := classify("release schedule", err); !errors.Is(cerr, processor.ErrNotFound) {
				return processor.Schedule{}, cerr
			}
		}
	}

	schedule, err := a.client.V1SubscriptionSchedules.Create(ctx, &stripe.SubscriptionScheduleCreateParams{
		FromSubscription: stripe.String(req.SubscriptionRef),
	})
	if err != nil {
		return processor.Schedule{}, classify("create schedule", err)
	}

	periodEnd := current.CurrentPeriodEnd.Unix()
	phaseStart := current.CurrentPeriodStart.Unix()
	if len(schedule.Phases) > 0 && schedule.Phases[0].StartDate > 0 {
		phaseStart = schedule.Phases[0].StartDate
	}

	_, err = a.client.V1SubscriptionSchedules.Update(ctx, schedule.ID, &stripe.SubscriptionScheduleUpdateParams{
		EndBehavior: stripe.String(string(stripe.SubscriptionScheduleEndBehaviorRelease)),
		Metadata:    req.Metadata,
		Phases: []*stripe.SubscriptionScheduleUpdatePhaseParams{
			{
				Items: []*stripe.SubscriptionScheduleUpdatePhaseItemParams{
					{Price: stripe.String(current.PriceRef), Quantity: stripe.Int64(1)},
				},
				StartDate: stripe.Int64(phaseStart),
				EndDate:   stripe.Int64(periodEnd),
			},
			{
				Items: []*stripe.SubscriptionScheduleUpdatePhaseItemParams{
					{Price: stripe.String(req.TargetPriceRef), Quantity: stripe.Int64(1)},
				},
				StartDate: stripe.Int64(periodEnd),
				Metadata:  req.Metadata,
			},
		},
	})
	if err != nil {
		return processor.Schedule{}, classify("update schedule", err)
	}

	return processor.Schedule{ID: schedule.ID, EffectiveAt: current.CurrentPeriodEnd}, nil
}

// DefaultPaymentMethod walks the places Stripe may keep the card that will be
// charged next: customer invoice settings, the customer's default source, the
// subscription's own defaults, and finally any card attached to the customer.
func (a *Adapter) DefaultPaymentMethod(ctx context.Context, customerRef, subscriptionRef string) (processor.PaymentMethod, error) {
	var candidates []string

	if customerRef != "" {
		cust, err := a.client.V1Customers.Retrieve(ctx, customerRef, &stripe.CustomerRetrieveParams{})
		if err != nil {
			return processor.PaymentMethod{}, classify("retrieve customer", err)
		}
		if cust.InvoiceSettings != nil && cust.InvoiceSettings.DefaultPaymentMethod != nil {
			candidates = append(candidates, cust.InvoiceSettings.DefaultPaymentMethod.ID)
		}
		if cust.DefaultSource != nil {
			candidates = append(candidates, cust.DefaultSource.ID)
		}
	}

	if subscriptionRef != "" {
		sub, err := a.client.V1Subscriptions.Retrieve(ctx, subscriptionRef, &stripe.SubscriptionRetrieveParams{})
		if err == nil {
			if sub.DefaultPaymentMethod != nil {
				candidates = append(candidates, sub.DefaultPaymentMethod.ID)
			}
			if sub.DefaultSource != nil {
				candidates = append(candidates, sub.DefaultSource.ID)
			}
			if customerRef == "" && sub.Customer != nil {
				customerRef = sub.Customer.ID
			}
		} else if cerr := classify("retrieve subscription", err); processor.IsTransient(cerr) {
			return processor.PaymentMethod{}, cerr
		}
	}

	for _, id := range candidates {
		if id == "" {
			continue
		}
		pm, err := a.client.V1PaymentMethods.Retrieve(ctx, id, &stripe.PaymentMethodRetrieveParams{})
		if err != nil {
			if cerr := classify("retrieve payment method", err); processor.IsTransient(cerr) {
				return processor.PaymentMethod{}, cerr
			}
			continue
		}
		if card, ok := toPaymentMethod(pm); ok {
			return card, nil
		}
	}

	if customerRef == "" {
		return processor.PaymentMethod{}, processor.ErrNoPaymentMethod
	}
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerRef),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	params.Limit = stripe.Int64(1)
	for pm, err := range a.client.V1PaymentMethods.List(ctx, params) {
		if err != nil {
			return processor.PaymentMethod{}, classify("list payment methods", err)
		}
		if card, ok := toPaymentMethod(pm); ok {
			return card, nil
		}
	}
	return processor.PaymentMethod{}, processor.ErrNoPaymentMethod
}

func (a *Adapter) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (processor.PortalSession, error) {
	session, err := a.client.V1BillingPortalSessions.Create(ctx, &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerRef),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		return processor.PortalSession{}, classify("create portal session", err)
	}
	if session.URL == "" {
		return processor.PortalSession{}, processor.ErrNoPortalURL
	}
	return processor.PortalSession{URL: session.URL}, nil
}

func (a *Adapter) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	params := &stripe.CustomerSearchParams{}
	params.Query = fmt.Sprintf("email:'%s'", email)
	params.Limit = stripe.Int64(1)

	for cust, err := range a.client.V1Customers.Search(ctx, params) {
		if err != nil {
			return "", classify("search customers", err)
		}
		return cust.ID, nil
	}
	return "", processor.ErrNotFound
}

func toSubscription(sub *stripe.Subscription) processor.Subscription {
	out := processor.Subscription{
		ID:                sub.ID,
		Status:            processor.SubscriptionStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerRef = sub.Customer.ID
	}
	if sub.Schedule != nil {
		out.ScheduleRef = sub.Schedule.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			out.PriceRef = item.Price.ID
		}
		out.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
		out.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
	}
	return out
}

func toPaymentMethod(pm *stripe.PaymentMethod) (processor.PaymentMethod, bool) {
	if pm == nil || pm.Card == nil {
		return processor.PaymentMethod{}, false
	}
	return processor.PaymentMethod{
		Brand:    string(pm.Card.Brand),
		Last4:    pm.Card.Last4,
		ExpMonth: int(pm.Card.ExpMonth),
		ExpYear:  int(pm.Card.ExpYear),
	}, true
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
