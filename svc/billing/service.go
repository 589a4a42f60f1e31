package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/adminbilling/pkg/logger"
	"github.com/dmitrymomot/adminbilling/pkg/processor"
	"github.com/dmitrymomot/adminbilling/pkg/retry"
	"github.com/dmitrymomot/adminbilling/svc/checkout"
	"github.com/dmitrymomot/adminbilling/svc/dashboard"
	"github.com/dmitrymomot/adminbilling/svc/identity"
	"github.com/dmitrymomot/adminbilling/svc/plans"
	"github.com/dmitrymomot/adminbilling/svc/subscription"
)

// Service is the tenant-facing billing API. Every mutating call talks to the
// processor first and then enters the subscription state machine, so no
// processor call runs under a tenant lock.
type Service interface {
	Cancel(ctx context.Context, tenant identity.Identity) (subscription.Snapshot, error)
	Uncancel(ctx context.Context, tenant identity.Identity) (subscription.Snapshot, error)
	ChangePlan(ctx context.Context, tenant identity.Identity, target plans.Key) (subscription.ScheduledTransition, error)
	Checkout(ctx context.Context, tenant identity.Identity, planKey plans.Key, isTrial bool) (processor.CheckoutSession, error)
	PaymentMethod(ctx context.Context, tenant identity.Identity) (processor.PaymentMethod, error)
	Portal(ctx context.Context, tenant identity.Identity) (processor.PortalSession, error)
	Dashboard(ctx context.Context, tenant identity.Identity) (dashboard.View, error)
	ReactivationOptions(ctx context.Context, tenant identity.Identity) ([]dashboard.ReactivationOption, error)
	Revenue(ctx context.Context, period dashboard.Period) (dashboard.RevenueReport, error)
}

type service struct {
	subs       subscription.Service
	identities identity.Service
	checkout   checkout.Service
	dash       dashboard.Service
	catalog    plans.Catalog
	proc       processor.Processor
	retrier    *retry.Retrier
	cfg        Config
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

// Deps groups the collaborators of the facade.
type Deps struct {
	Subscriptions subscription.Service
	Identities    identity.Service
	Checkout      checkout.Service
	Dashboard     dashboard.Service
	Catalog       plans.Catalog
	Processor     processor.Processor
}

// NewService panics if any dependency is missing.
func NewService(deps Deps, cfg Config, opts ...ServiceOption) Service {
	switch {
	case deps.Subscriptions == nil:
		panic("billing: subscription.Service is required")
	case deps.Identities == nil:
		panic("billing: identity.Service is required")
	case deps.Checkout == nil:
		panic("billing: checkout.Service is required")
	case deps.Dashboard == nil:
		panic("billing: dashboard.Service is required")
	case deps.Catalog == nil:
		panic("billing: plans.Catalog is required")
	case deps.Processor == nil:
		panic("billing: processor.Processor is required")
	}
	s := &service{
		subs:       deps.Subscriptions,
		identities: deps.Identities,
		checkout:   deps.Checkout,
		dash:       deps.Dashboard,
		catalog:    deps.Catalog,
		proc:       deps.Processor,
		retrier:    retry.New(retry.DefaultConfig(), processor.IsTransient),
		cfg:        cfg,
		log:        logger.Discard(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// current returns the live snapshot, reconciling due housekeeping first.
func (s *service) current(ctx context.Context, tenant identity.Identity) (subscription.Snapshot, error) {
	if _, err := s.subs.ReconcileIfDue(ctx, tenant.ID); err != nil && !errors.Is(err, subscription.ErrUnknownTenant) {
		return subscription.Snapshot{}, err
	}
	cur, err := s.subs.Current(ctx, tenant.ID)
	if errors.Is(err, subscription.ErrSnapshotNotFound) {
		return subscription.Snapshot{}, subscription.ErrNoActiveSubscription
	}
	return cur, err
}

func externalRef(snap subscription.Snapshot) string {
	if snap.ExternalSubscriptionRef == subscription.PendingRef {
		return ""
	}
	return snap.ExternalSubscriptionRef
}

func (s *service) Cancel(ctx context.Context, tenant identity.Identity) (subscription.Snapshot, error) {
	cur, err := s.current(ctx, tenant)
	if err != nil {
		return subscription.Snapshot{}, err
	}
	switch cur.State(s.now()) {
	case subscription.StateCancelPending:
		return cur, nil
	case subscription.StateExpired:
		return subscription.Snapshot{}, subscription.ErrNoActiveSubscription
	}

	var boundary *time.Time
	if ref := externalRef(cur); ref != "" {
		var err error
		if cur.IsTrial && s.subs.TrialCancelPolicy() == subscription.TrialCancelImmediately {
			err = s.retrier.Do(ctx, func(ctx context.Context) error {
				return s.proc.CancelNow(ctx, ref)
			})
		} else {
			var sub processor.Subscription
			sub, err = retry.Value(ctx, s.retrier, func(ctx context.Context) (processor.Subscription, error) {
				return s.proc.SetCancelAtPeriodEnd(ctx, ref, true)
			})
			if err == nil && !sub.CurrentPeriodEnd.IsZero() {
				boundary = &sub.CurrentPeriodEnd
			}
		}
		switch {
		case errors.Is(err, processor.ErrNotFound):
			// gone on the processor side; cancel locally with the cached boundary
			s.log.WarnContext(ctx, "processor subscription not found on cancel",
				logger.Component("billing"),
				logger.TenantID(tenant.ID),
				logger.SubscriptionRef(ref),
			)
		case err != nil:
			return subscription.Snapshot{}, errors.Join(ErrBoundaryUnavailable, err)
		}
	}
	return s.subs.ApplyCancellation(ctx, tenant.ID, boundary)
}

func (s *service) Uncancel(ctx context.Context, tenant identity.Identity) (subscription.Snapshot, error) {
	cur, err := s.current(ctx, tenant)
	if err != nil {
		return subscription.Snapshot{}, err
	}
	switch cur.State(s.now()) {
	case subscription.StateCancelPending:
	case subscription.StateExpired:
		return subscription.Snapshot{}, subscription.ErrNoActiveSubscription
	default:
		return subscription.Snapshot{}, subscription.ErrNotCanceled
	}

	if ref := externalRef(cur); ref != "" {
		_, err := retry.Value(ctx, s.retrier, func(ctx context.Context) (processor.Subscription, error) {
			return s.proc.SetCancelAtPeriodEnd(ctx, ref, false)
		})
		if err != nil {
			if processor.IsTransient(err) {
				return subscription.Snapshot{}, err
			}
			return subscription.Snapshot{}, errors.Join(subscription.ErrInvalidTransition, err)
		}
	}
	return s.subs.ApplyUncancel(ctx, tenant.ID)
}

func (s *service) ChangePlan(ctx context.Context, tenant identity.Identity, target plans.Key) (subscription.ScheduledTransition, error) {
	cur, err := s.current(ctx, tenant)
	if err != nil {
		return subscription.ScheduledTransition{}, err
	}
	switch cur.State(s.now()) {
	case subscription.StateActive:
	case subscription.StateTrialing:
		return subscription.ScheduledTransition{}, subscription.ErrTrialCheckoutRequired
	case subscription.StateCancelPending:
		return subscription.ScheduledTransition{}, subscription.ErrSubscriptionCanceled
	default:
		return subscription.ScheduledTransition{}, subscription.ErrNoActiveSubscription
	}

	plan, err := s.catalog.Get(ctx, target)
	if err != nil {
		return subscription.ScheduledTransition{}, errors.Join(subscription.ErrInvalidTargetPlan, err)
	}
	if !subscription.CanChangePlan(cur.PlanKey, plan.Key) {
		return subscription.ScheduledTransition{}, subscription.ErrInvalidTransition
	}

	var effectiveAt time.Time
	if cur.NextBillingDate != nil {
		effectiveAt = *cur.NextBillingDate
	}
	refs := subscription.Refs{SubscriptionRef: externalRef(cur)}
	if refs.SubscriptionRef != "" {
		meta := checkout.Metadata{
			TenantID:        tenant.ID,
			TenantEmail:     tenant.Email,
			PlanKey:         plan.Key,
			ChangeKind:      checkout.KindPlanChange,
			ScheduledChange: true,
		}
		sched, err := retry.Value(ctx, s.retrier, func(ctx context.Context) (processor.Schedule, error) {
			return s.proc.SchedulePlanChange(ctx, processor.PlanChangeRequest{
				SubscriptionRef: refs.SubscriptionRef,
				TargetPriceRef:  plan.ExternalPriceRef,
				Metadata:        meta.Encode(),
			})
		})
		if err != nil {
			return subscription.ScheduledTransition{}, errors.Join(ErrScheduleFailed, err)
		}
		refs.ScheduleRef = sched.ID
		if !sched.EffectiveAt.IsZero() {
			effectiveAt = sched.EffectiveAt
		}
	}
	return s.subs.ApplyPlanChange(ctx, tenant.ID, plan.Key, effectiveAt, refs)
}

func (s *service) Checkout(ctx context.Context, tenant identity.Identity, planKey plans.Key, isTrial bool) (processor.CheckoutSession, error) {
	kind := checkout.KindReactivation
	cur, err := s.current(ctx, tenant)
	switch {
	case errors.Is(err, subscription.ErrNoActiveSubscription):
		kind = checkout.KindSignup
	case err != nil:
		return processor.CheckoutSession{}, err
	case cur.State(s.now()) == subscription.StateTrialing && !isTrial && planKey != plans.Trial:
		kind = checkout.KindPlanChange
	}
	return s.checkout.CreateSession(ctx, tenant, planKey, isTrial, kind)
}

// customerRef returns the bound processor customer, looking it up by email
// and binding it when the identity has none yet.
func (s *service) customerRef(ctx context.Context, tenant identity.Identity) (string, error) {
	if tenant.ExternalCustomerRef != "" {
		return tenant.ExternalCustomerRef, nil
	}
	ref, err := retry.Value(ctx, s.retrier, func(ctx context.Context) (string, error) {
		return s.proc.FindCustomerByEmail(ctx, tenant.Email)
	})
	if errors.Is(err, processor.ErrNotFound) || (err == nil && ref == "") {
		return "", ErrCustomerNotFound
	}
	if err != nil {
		return "", err
	}
	if _, err := s.identities.AttachCustomerRef(ctx, tenant.ID, ref); err != nil && !errors.Is(err, identity.ErrCustomerRefConflict) {
		return "", err
	}
	return ref, nil
}

func (s *service) PaymentMethod(ctx context.Context, tenant identity.Identity) (processor.PaymentMethod, error) {
	ref, err := s.customerRef(ctx, tenant)
	if err != nil {
		return processor.PaymentMethod{}, err
	}
	var subRef string
	if cur, err := s.subs.Current(ctx, tenant.ID); err == nil {
		subRef = externalRef(cur)
	}
	return retry.Value(ctx, s.retrier, func(ctx context.Context) (processor.PaymentMethod, error) {
		return s.proc.DefaultPaymentMethod(ctx, ref, subRef)
	})
}

func (s *service) Portal(ctx context.Context, tenant identity.Identity) (processor.PortalSession, error) {
	ref, err := s.customerRef(ctx, tenant)
	if err != nil {
		return processor.PortalSession{}, err
	}
	session, err := retry.Value(ctx, s.retrier, func(ctx context.Context) (processor.PortalSession, error) {
		return s.proc.CreatePortalSession(ctx, ref, s.cfg.PortalReturnURL)
	})
	if err != nil {
		return processor.PortalSession{}, errors.Join(ErrPortalUnavailable, err)
	}
	if session.URL == "" {
		return processor.PortalSession{}, errors.Join(ErrPortalUnavailable, processor.ErrNoPortalURL)
	}
	return session, nil
}

func (s *service) Dashboard(ctx context.Context, tenant identity.Identity) (dashboard.View, error) {
	if _, err := s.subs.ReconcileIfDue(ctx, tenant.ID); err != nil && !errors.Is(err, subscription.ErrUnknownTenant) {
		return dashboard.View{}, err
	}
	return s.dash.Project(ctx, tenant.ID)
}

func (s *service) ReactivationOptions(ctx context.Context, tenant identity.Identity) ([]dashboard.ReactivationOption, error) {
	return s.dash.ReactivationOptions(ctx, tenant.ID)
}

func (s *service) Revenue(ctx context.Context, period dashboard.Period) (dashboard.RevenueReport, error) {
	return s.dash.Revenue(ctx, period)
}
