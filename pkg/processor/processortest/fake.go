// Package processortest provides an in-memory processor.Processor and helpers
// for producing signed webhook payloads in tests.
package processortest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrymomot/adminbilling/pkg/processor"
)

// Fake is a concurrency-safe in-memory processor.
// Tests seed subscriptions with PutSubscription and inject failures with Fail.
type Fake struct {
	mu            sync.Mutex
	subscriptions map[string]processor.Subscription
	customers     map[string]string
	cards         map[string]processor.PaymentMethod
	failures      map[string][]error
	calls         map[string]int
	seq           int

	Checkouts     []processor.CheckoutRequest
	PlanChanges   []processor.PlanChangeRequest
	CanceledNow   []string
	PortalReturns []string
}

var _ processor.Processor = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		subscriptions: make(map[string]processor.Subscription),
		customers:     make(map[string]string),
		cards:         make(map[string]processor.PaymentMethod),
		failures:      make(map[string][]error),
		calls:         make(map[string]int),
	}
}

// Fail queues errors returned by the next calls of op, one per call.
// Op names match the Processor method names.
func (f *Fake) Fail(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

// Calls returns how many times op was invoked, failures included.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) PutSubscription(sub processor.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[sub.ID] = sub
}

func (f *Fake) PutCustomer(email, customerRef string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers[email] = customerRef
}

func (f *Fake) PutCard(customerRef string, card processor.PaymentMethod) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cards[customerRef] = card
}

func (f *Fake) Subscription(id string) (processor.Subscription, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subscriptions[id]
	return sub, ok
}

// enter records the call and pops a queued failure; the caller holds f.mu.
func (f *Fake) enter(ctx context.Context, op string) error {
	f.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if queue := f.failures[op]; len(queue) > 0 {
		err := queue[0]
		f.failures[op] = queue[1:]
		return err
	}
	return nil
}

func (f *Fake) CreateCheckoutSession(ctx context.Context, req processor.CheckoutRequest) (processor.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "CreateCheckoutSession"); err != nil {
		return processor.CheckoutSession{}, err
	}
	if req.PriceRef == "" {
		return processor.CheckoutSession{}, processor.ErrMissingPriceRef
	}
	f.seq++
	f.Checkouts = append(f.Checkouts, req)
	id := fmt.Sprintf("cs_test_%d", f.seq)
	return processor.CheckoutSession{ID: id, URL: "https://checkout.test/" + id}, nil
}

func (f *Fake) GetSubscription(ctx context.Context, ref string) (processor.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "GetSubscription"); err != nil {
		return processor.Subscription{}, err
	}
	sub, ok := f.subscriptions[ref]
	if !ok {
		return processor.Subscription{}, processor.ErrNotFound
	}
	return sub, nil
}

func (f *Fake) SetCancelAtPeriodEnd(ctx context.Context, ref string, cancel bool) (processor.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "SetCancelAtPeriodEnd"); err != nil {
		return processor.Subscription{}, err
	}
	sub, ok := f.subscriptions[ref]
	if !ok {
		return processor.Subscription{}, processor.ErrNotFound
	}
	sub.CancelAtPeriodEnd = cancel
	f.subscriptions[ref] = sub
	return sub, nil
}

func (f *Fake) CancelNow(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "CancelNow"); err != nil {
		return err
	}
	if sub, ok := f.subscriptions[ref]; ok {
		sub.Status = processor.StatusCanceled
		f.subscriptions[ref] = sub
	}
	f.CanceledNow = append(f.CanceledNow, ref)
	return nil
}

func (f *Fake) SchedulePlanChange(ctx context.Context, req processor.PlanChangeRequest) (processor.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "SchedulePlanChange"); err != nil {
		return processor.Schedule{}, err
	}
	sub, ok := f.subscriptions[req.SubscriptionRef]
	if !ok {
		return processor.Schedule{}, processor.ErrNotFound
	}
	f.seq++
	sub.ScheduleRef = fmt.Sprintf("sub_sched_%d", f.seq)
	f.subscriptions[sub.ID] = sub
	f.PlanChanges = append(f.PlanChanges, req)
	return processor.Schedule{ID: sub.ScheduleRef, EffectiveAt: sub.CurrentPeriodEnd}, nil
}

func (f *Fake) DefaultPaymentMethod(ctx context.Context, customerRef, subscriptionRef string) (processor.PaymentMethod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "DefaultPaymentMethod"); err != nil {
		return processor.PaymentMethod{}, err
	}
	if customerRef == "" {
		if sub, ok := f.subscriptions[subscriptionRef]; ok {
			customerRef = sub.CustomerRef
		}
	}
	card, ok := f.cards[customerRef]
	if !ok {
		return processor.PaymentMethod{}, processor.ErrNoPaymentMethod
	}
	return card, nil
}

func (f *Fake) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (processor.PortalSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "CreatePortalSession"); err != nil {
		return processor.PortalSession{}, err
	}
	f.PortalReturns = append(f.PortalReturns, returnURL)
	return processor.PortalSession{URL: "https://portal.test/" + customerRef}, nil
}

func (f *Fake) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "FindCustomerByEmail"); err != nil {
		return "", err
	}
	ref, ok := f.customers[email]
	if !ok {
		return "", processor.ErrNotFound
	}
	return ref, nil
}

// ActiveSubscription builds a live subscription whose period ends at end.
func ActiveSubscription(id, customerRef, priceRef string, start, end time.Time) processor.Subscription {
	return processor.Subscription{
		ID:                 id,
		CustomerRef:        customerRef,
		Status:             processor.StatusActive,
		PriceRef:           priceRef,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
	}
}
