package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/adminbilling/pkg/dedup"
	"github.com/dmitrymomot/adminbilling/pkg/logger"
	"github.com/dmitrymomot/adminbilling/pkg/processor"
	"github.com/dmitrymomot/adminbilling/pkg/retry"
	"github.com/dmitrymomot/adminbilling/svc/checkout"
	"github.com/dmitrymomot/adminbilling/svc/identity"
	"github.com/dmitrymomot/adminbilling/svc/plans"
	"github.com/dmitrymomot/adminbilling/svc/subscription"
)

// Outcome describes what happened to a delivery.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	// OutcomeRejected is an application error: logged, recorded and acknowledged.
	OutcomeRejected Outcome = "rejected"
	OutcomeInvalid  Outcome = "invalid"
	OutcomeFailed   Outcome = "failed"
)

// Acknowledge reports whether the sender should stop redelivering.
func (o Outcome) Acknowledge() bool {
	return o != OutcomeInvalid && o != OutcomeFailed
}

type Result struct {
	EventID   string
	EventType processor.EventType
	TenantID  uuid.UUID
	Outcome   Outcome
	// Operation names the lifecycle operation that ran, if any.
	Operation string
	// Reason is set for rejected and ignored deliveries.
	Reason error
}

// Service turns processor webhooks into subscription lifecycle operations.
type Service interface {
	// Handle verifies, deduplicates and applies one delivery.
	// A non-nil error wraps processor.ErrInvalidSignature, processor.ErrMalformedEvent or ErrRetryable.
	Handle(ctx context.Context, payload []byte, signature string) (Result, error)
}

type service struct {
	parser     processor.WebhookParser
	ledger     dedup.Ledger
	identities identity.Service
	subs       subscription.Service
	catalog    plans.Catalog
	proc       processor.Processor
	retrier    *retry.Retrier
	notifier   Notifier
	metrics    *Metrics
	log        *slog.Logger
	now        func() time.Time
}

type ServiceOption func(*service)

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithNotifier(n Notifier) ServiceOption {
	return func(s *service) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithMetrics(m *Metrics) ServiceOption {
	return func(s *service) {
		s.metrics = m
	}
}

// WithProcessor lets checkout events look up the subscription period.
// Without it the cycle starts at the event time and its end comes from the plan.
func WithProcessor(p processor.Processor) ServiceOption {
	return func(s *service) {
		s.proc = p
	}
}

func WithRetrier(r *retry.Retrier) ServiceOption {
	return func(s *service) {
		if r != nil {
			s.retrier = r
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService panics if any dependency is nil.
func NewService(parser processor.WebhookParser, ledger dedup.Ledger, identities identity.Service, subs subscription.Service, catalog plans.Catalog, opts ...ServiceOption) Service {
	if parser == nil {
		panic("reconciler: processor.WebhookParser is required")
	}
	if ledger == nil {
		panic("reconciler: dedup.Ledger is required")
	}
	if identities == nil {
		panic("reconciler: identity.Service is required")
	}
	if subs == nil {
		panic("reconciler: subscription.Service is required")
	}
	if catalog == nil {
		panic("reconciler: plans.Catalog is required")
	}
	s := &service{
		parser:     parser,
		ledger:     ledger,
		identities: identities,
		subs:       subs,
		catalog:    catalog,
		notifier:   nopNotifier{},
		log:        logger.Discard(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retrier == nil {
		s.retrier = retry.New(retry.DefaultConfig(), processor.IsTransient)
	}
	return s
}

func (s *service) Handle(ctx context.Context, payload []byte, signature string) (Result, error) {
	start := s.now()
	res, err := s.handle(ctx, payload, signature)
	s.metrics.observe(string(res.EventType), res.Outcome, s.now().Sub(start))

	attrs := []any{
		logger.Component("reconciler"),
		logger.ExternalEventID(res.EventID),
		logger.EventType(string(res.EventType)),
		logger.Outcome(string(res.Outcome)),
	}
	if res.TenantID != uuid.Nil {
		attrs = append(attrs, logger.TenantID(res.TenantID))
	}
	if res.Operation != "" {
		attrs = append(attrs, logger.Event(res.Operation))
	}
	switch {
	case err != nil:
		s.log.ErrorContext(ctx, "webhook not processed", append(attrs, logger.Error(err))...)
	case res.Outcome == OutcomeRejected:
		s.log.WarnContext(ctx, "webhook rejected", append(attrs, logger.Error(res.Reason))...)
	default:
		s.log.InfoContext(ctx, "webhook handled", attrs...)
	}
	return res, err
}

func (s *service) handle(ctx context.Context, payload []byte, signature string) (Result, error) {
	event, err := s.parser.ParseWebhook(payload, signature)
	if err != nil {
		return Result{Outcome: OutcomeInvalid}, err
	}
	res := Result{EventID: event.ID, EventType: event.Type}

	seen, err := s.ledger.Seen(ctx, event.ID)
	if err != nil {
		res.Outcome = OutcomeFailed
		return res, errors.Join(ErrRetryable, err)
	}
	if seen {
		res.Outcome = OutcomeDuplicate
		return res, nil
	}

	claimCtx := subscription.WithExternalEvent(ctx, subscription.ExternalEvent{ID: event.ID, Type: string(event.Type)})
	d := s.dispatch(claimCtx, event)
	res.TenantID, res.Operation = d.tenantID, d.operation
	switch {
	case errors.Is(d.err, subscription.ErrEventAlreadyApplied):
		// a concurrent or earlier delivery committed the same event
		res.Outcome, res.Operation = OutcomeDuplicate, ""
		return res, nil
	case d.err == nil:
		res.Outcome = OutcomeApplied
		if d.operation == "" {
			res.Outcome, res.Reason = OutcomeIgnored, d.reason
		}
	case isApplicationError(d.err):
		res.Outcome, res.Reason = OutcomeRejected, d.err
	default:
		res.Outcome = OutcomeFailed
		return res, errors.Join(ErrRetryable, d.err)
	}

	// State changes recorded the event id in their own transaction, so a
	// failure here only costs a redelivery that resolves as a duplicate.
	if _, err := s.ledger.Record(ctx, event.ID, string(event.Type)); err != nil {
		s.log.WarnContext(ctx, "webhook event not recorded",
			logger.Component("reconciler"),
			logger.ExternalEventID(event.ID),
			logger.Error(err),
		)
	}
	return res, nil
}

// dispatched is the result of routing one event.
type dispatched struct {
	tenantID  uuid.UUID
	operation string
	reason    error
	err       error
}

func ignored(tenantID uuid.UUID, reason error) dispatched {
	return dispatched{tenantID: tenantID, reason: reason}
}

var (
	errUnhandledType   = errors.New("event type not handled")
	errNotOurs         = errors.New("object carries no billing metadata")
	errExistingTenant  = errors.New("signup for a tenant that already has a subscription")
	errNothingToChange = errors.New("subscription update carries no lifecycle change")
)

func (s *service) dispatch(ctx context.Context, event processor.Event) dispatched {
	switch event.Type {
	case processor.EventCheckoutCompleted:
		if event.Checkout == nil {
			return dispatched{err: processor.ErrMalformedEvent}
		}
		return s.checkoutCompleted(ctx, event)
	case processor.EventInvoicePaid, processor.EventInvoicePaymentSucceeded:
		if event.Invoice == nil {
			return dispatched{err: processor.ErrMalformedEvent}
		}
		return s.invoicePaid(ctx, *event.Invoice)
	case processor.EventInvoicePaymentFailed:
		if event.Invoice == nil {
			return dispatched{err: processor.ErrMalformedEvent}
		}
		return s.invoiceFailed(ctx, *event.Invoice)
	case processor.EventSubscriptionUpdated:
		if event.Subscription == nil {
			return dispatched{err: processor.ErrMalformedEvent}
		}
		return s.subscriptionUpdated(ctx, *event.Subscription)
	case processor.EventSubscriptionDeleted:
		if event.Subscription == nil {
			return dispatched{err: processor.ErrMalformedEvent}
		}
		return s.subscriptionDeleted(ctx, event)
	case processor.EventScheduleCompleted:
		if event.Subscription == nil {
			return dispatched{err: processor.ErrMalformedEvent}
		}
		return s.scheduleCompleted(ctx, *event.Subscription)
	default:
		return ignored(uuid.Nil, errUnhandledType)
	}
}

func (s *service) checkoutCompleted(ctx context.Context, event processor.Event) dispatched {
	co := event.Checkout
	meta, err := checkout.DecodeMetadata(co.Metadata)
	if errors.Is(err, checkout.ErrMissingMetadata) {
		return ignored(uuid.Nil, errNotOurs)
	}
	if err != nil {
		return dispatched{err: err}
	}

	tenant, err := s.checkoutIdentity(ctx, meta, co)
	if err != nil {
		return dispatched{tenantID: meta.TenantID, err: err}
	}
	d := dispatched{tenantID: tenant.ID}

	if co.CustomerRef != "" && tenant.ExternalCustomerRef != co.CustomerRef {
		if _, err := s.identities.AttachCustomerRef(ctx, tenant.ID, co.CustomerRef); err != nil {
			if !errors.Is(err, identity.ErrCustomerRefConflict) {
				d.err = err
				return d
			}
			s.log.WarnContext(ctx, "customer reference conflict",
				logger.Component("reconciler"),
				logger.TenantID(tenant.ID),
				logger.Error(err),
			)
		}
	}

	cycle, err := s.checkoutCycle(ctx, co.SubscriptionRef, event.Created)
	if err != nil {
		d.err = err
		return d
	}
	refs := subscription.Refs{
		SubscriptionRef: co.SubscriptionRef,
		TransactionRef:  co.PaymentRef,
	}
	if refs.TransactionRef == "" {
		refs.TransactionRef = co.SessionID
	}

	var snap subscription.Snapshot
	switch meta.ChangeKind {
	case checkout.KindSignup:
		_, err := s.subs.Current(ctx, tenant.ID)
		switch {
		case err == nil:
			return ignored(tenant.ID, errExistingTenant)
		case !errors.Is(err, subscription.ErrSnapshotNotFound):
			d.err = err
			return d
		}
		d.operation = "apply_signup"
		snap, d.err = s.subs.ApplySignup(ctx, tenant.ID, meta.PlanKey, meta.IsTrial, cycle, refs)
	default:
		d.operation = "apply_reactivation"
		snap, d.err = s.subs.ApplyReactivation(ctx, tenant.ID, meta.PlanKey, meta.IsTrial, refs, cycle)
	}
	if d.err == nil {
		s.notifier.SubscriptionStarted(ctx, tenant.ID, snap)
	}
	return d
}

// checkoutIdentity prefers the tenant id in the metadata and falls back to
// resolving the checkout email.
func (s *service) checkoutIdentity(ctx context.Context, meta checkout.Metadata, co *processor.CheckoutCompleted) (identity.Identity, error) {
	tenant, err := s.identities.Get(ctx, meta.TenantID)
	if err == nil || !errors.Is(err, identity.ErrIdentityNotFound) {
		return tenant, err
	}
	email := co.CustomerEmail
	if email == "" {
		email = meta.TenantEmail
	}
	if email == "" {
		return identity.Identity{}, ErrTenantNotResolved
	}
	return s.identities.ResolveOrCreate(ctx, email)
}

// checkoutCycle reads the service window from the processor subscription.
func (s *service) checkoutCycle(ctx context.Context, subscriptionRef string, created time.Time) (subscription.Cycle, error) {
	fallback := subscription.Cycle{Start: created}
	if s.proc == nil || subscriptionRef == "" {
		return fallback, nil
	}
	sub, err := retry.Value(ctx, s.retrier, func(ctx context.Context) (processor.Subscription, error) {
		return s.proc.GetSubscription(ctx, subscriptionRef)
	})
	if err != nil {
		if processor.IsTransient(err) {
			return subscription.Cycle{}, err
		}
		s.log.WarnContext(ctx, "subscription lookup failed, using plan defaults",
			logger.Component("reconciler"),
			logger.SubscriptionRef(subscriptionRef),
			logger.Error(err),
		)
		return fallback, nil
	}
	return periodCycle(sub.CurrentPeriodStart, sub.CurrentPeriodEnd, created), nil
}

func periodCycle(start, end, fallback time.Time) subscription.Cycle {
	c := subscription.Cycle{Start: start}
	if c.Start.IsZero() {
		c.Start = fallback
	}
	if !end.IsZero() && end.After(c.Start) {
		c.End = &end
	}
	return c
}

// tenantFor resolves the tenant from metadata, then customer ref, then email.
func (s *service) tenantFor(ctx context.Context, metadata map[string]string, customerRef, email string) (uuid.UUID, error) {
	if meta, err := checkout.DecodeMetadata(metadata); err == nil {
		return meta.TenantID, nil
	}
	if customerRef != "" {
		tenant, err := s.identities.ResolveByCustomerRef(ctx, customerRef)
		if err == nil {
			return tenant.ID, nil
		}
		if !errors.Is(err, identity.ErrIdentityNotFound) {
			return uuid.Nil, err
		}
	}
	if email != "" {
		tenant, err := s.identities.GetByEmail(ctx, email)
		if err == nil {
			return tenant.ID, nil
		}
		if !errors.Is(err, identity.ErrIdentityNotFound) && !errors.Is(err, identity.ErrInvalidEmail) {
			return uuid.Nil, err
		}
	}
	return uuid.Nil, ErrTenantNotResolved
}

func (s *service) invoicePaid(ctx context.Context, inv processor.Invoice) dispatched {
	tenantID, err := s.tenantFor(ctx, inv.Metadata, inv.CustomerRef, inv.CustomerEmail)
	if err != nil {
		return dispatched{err: err}
	}
	payment := subscription.Payment{
		TransactionRef: inv.TransactionRef(),
		Cycle:          periodCycle(inv.PeriodStart, inv.PeriodEnd, time.Time{}),
		AmountCents:    inv.AmountPaid,
		PaidAt:         inv.PaidAt,
	}
	if inv.PeriodStart.IsZero() {
		payment.Cycle = subscription.Cycle{}
	}
	d := dispatched{tenantID: tenantID, operation: "apply_payment_confirmation"}
	_, applied, err := s.subs.ApplyPaymentConfirmation(ctx, tenantID, payment)
	if err != nil {
		d.err = err
		return d
	}
	if !applied {
		d.operation = ""
		d.reason = errors.New("transaction already applied")
	}
	return d
}

func (s *service) invoiceFailed(ctx context.Context, inv processor.Invoice) dispatched {
	tenantID, err := s.tenantFor(ctx, inv.Metadata, inv.CustomerRef, inv.CustomerEmail)
	if err != nil {
		return dispatched{err: err}
	}
	s.notifier.PaymentFailed(ctx, tenantID, inv)
	return dispatched{tenantID: tenantID, operation: "notify_payment_failed"}
}

func (s *service) subscriptionUpdated(ctx context.Context, sub processor.Subscription) dispatched {
	tenantID, err := s.tenantFor(ctx, sub.Metadata, sub.CustomerRef, "")
	if err != nil {
		return dispatched{err: err}
	}
	d := dispatched{tenantID: tenantID}

	cur, err := s.subs.Current(ctx, tenantID)
	if err != nil {
		d.err = err
		return d
	}

	promote, err := s.isPromotion(ctx, tenantID, cur, sub)
	if err != nil {
		d.err = err
		return d
	}
	state := cur.State(s.now())
	switch {
	case promote:
		d.operation = "promote_scheduled"
		_, d.err = s.subs.PromoteScheduled(ctx, tenantID,
			subscription.Refs{SubscriptionRef: sub.ID, ScheduleRef: sub.ScheduleRef},
			periodCycle(sub.CurrentPeriodStart, sub.CurrentPeriodEnd, s.now()))
	case sub.CancelAtPeriodEnd && !cur.IsCanceled:
		d.operation = "apply_cancellation"
		var boundary *time.Time
		if !sub.CurrentPeriodEnd.IsZero() {
			boundary = &sub.CurrentPeriodEnd
		}
		_, d.err = s.subs.ApplyCancellation(ctx, tenantID, boundary)
	case !sub.CancelAtPeriodEnd && state == subscription.StateCancelPending && sub.Status.Live():
		d.operation = "apply_uncancel"
		_, d.err = s.subs.ApplyUncancel(ctx, tenantID)
	default:
		return ignored(tenantID, errNothingToChange)
	}
	return d
}

// isPromotion reports whether sub now bills the plan of the pending transition.
func (s *service) isPromotion(ctx context.Context, tenantID uuid.UUID, cur subscription.Snapshot, sub processor.Subscription) (bool, error) {
	if meta, err := checkout.DecodeMetadata(sub.Metadata); err == nil && meta.ScheduledChange {
		return true, nil
	}
	if sub.PriceRef == "" {
		return false, nil
	}
	plan, err := s.catalog.GetByPriceRef(ctx, sub.PriceRef)
	if err != nil || plan.Key == cur.PlanKey {
		return false, nil
	}
	pending, err := s.subs.Pending(ctx, tenantID)
	if errors.Is(err, subscription.ErrNoScheduledTransition) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return pending.TargetPlanKey == plan.Key, nil
}

func (s *service) scheduleCompleted(ctx context.Context, sub processor.Subscription) dispatched {
	meta, err := checkout.DecodeMetadata(sub.Metadata)
	if errors.Is(err, checkout.ErrMissingMetadata) {
		return ignored(uuid.Nil, errNotOurs)
	}
	if err != nil {
		return dispatched{err: err}
	}
	d := dispatched{tenantID: meta.TenantID, operation: "promote_scheduled"}
	_, d.err = s.subs.PromoteScheduled(ctx, meta.TenantID,
		subscription.Refs{SubscriptionRef: sub.ID, ScheduleRef: sub.ScheduleRef},
		periodCycle(sub.CurrentPeriodStart, sub.CurrentPeriodEnd, s.now()))
	if errors.Is(d.err, subscription.ErrNoScheduledTransition) {
		// the sweep promoted it already
		return ignored(meta.TenantID, d.err)
	}
	return d
}

// subscriptionDeleted ends access at the deletion time, then lets
// housekeeping expire the record.
func (s *service) subscriptionDeleted(ctx context.Context, event processor.Event) dispatched {
	sub := event.Subscription
	tenantID, err := s.tenantFor(ctx, sub.Metadata, sub.CustomerRef, "")
	if err != nil {
		return dispatched{err: err}
	}
	d := dispatched{tenantID: tenantID, operation: "apply_cancellation"}

	boundary := event.Created
	if boundary.IsZero() {
		boundary = s.now()
	}
	if _, err := s.subs.ApplyCancellation(ctx, tenantID, &boundary); err != nil {
		d.err = err
		return d
	}
	if _, err := s.subs.ReconcileIfDue(ctx, tenantID); err != nil {
		d.err = err
	}
	return d
}

// isApplicationError separates outcomes that redelivery cannot change from
// infrastructure failures.
func isApplicationError(err error) bool {
	for _, target := range []error{
		processor.ErrMalformedEvent,
		ErrTenantNotResolved,
		checkout.ErrInvalidMetadata,
		identity.ErrInvalidEmail,
		identity.ErrIdentityNotFound,
		identity.ErrInvalidCustomerRef,
		plans.ErrPlanNotFound,
		subscription.ErrDuplicateActiveSubscription,
		subscription.ErrNoActiveSubscription,
		subscription.ErrNotCanceled,
		subscription.ErrInvalidTransition,
		subscription.ErrInvalidTargetPlan,
		subscription.ErrTrialCheckoutRequired,
		subscription.ErrSubscriptionCanceled,
		subscription.ErrNoScheduledTransition,
		subscription.ErrMissingTransactionRef,
		subscription.ErrUnknownTenant,
		subscription.ErrSnapshotNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
