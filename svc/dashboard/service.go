package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/adminbilling/pkg/logger"
	"github.com/dmitrymomot/adminbilling/pkg/processor"
	"github.com/dmitrymomot/adminbilling/svc/plans"
	"github.com/dmitrymomot/adminbilling/svc/subscription"
)

// Source tells where the lifecycle fields of a View came from.
type Source string

const (
	SourceProcessor Source = "processor"
	SourceLocal     Source = "local"
)

type View struct {
	TenantID            uuid.UUID          `json:"tenant_id"`
	State               subscription.State `json:"state"`
	PlanKey             plans.Key          `json:"plan_key,omitempty"`
	PlanDisplay         string             `json:"plan_display,omitempty"`
	IsTrial             bool               `json:"is_trial"`
	IsActive            bool               `json:"is_active"`
	IsCanceled          bool               `json:"is_canceled"`
	DaysRemaining       *int               `json:"days_remaining"`
	CycleEnd            *time.Time         `json:"cycle_end"`
	NextBillingDate     *time.Time         `json:"next_billing_date"`
	NextPlanKey         plans.Key          `json:"next_plan_key,omitempty"`
	NextPlanEffectiveAt *time.Time         `json:"next_plan_effective_at"`
	Source              Source             `json:"source"`
}

type ReactivationOption struct {
	PlanKey      plans.Key `json:"plan_key"`
	DisplayText  string    `json:"display_text"`
	PriceCents   int64     `json:"price_cents"`
	TrialAllowed bool      `json:"trial_allowed"`
}

// SubscriptionReader is the read side of subscription.Service.
type SubscriptionReader interface {
	Current(ctx context.Context, tenantID uuid.UUID) (subscription.Snapshot, error)
	Pending(ctx context.Context, tenantID uuid.UUID) (subscription.ScheduledTransition, error)
	HasTrialHistory(ctx context.Context, tenantID uuid.UUID) (bool, error)
	Payments(ctx context.Context, from, to time.Time) ([]subscription.HistoryEntry, error)
}

type Service interface {
	Project(ctx context.Context, tenantID uuid.UUID) (View, error)
	Revenue(ctx context.Context, period Period) (RevenueReport, error)
	ReactivationOptions(ctx context.Context, tenantID uuid.UUID) ([]ReactivationOption, error)
}

type service struct {
	subs    SubscriptionReader
	catalog plans.Catalog
	proc    processor.Processor
	timeout time.Duration
	loc     *time.Location
	group   singleflight.Group
	log     *slog.Logger
	now     func() time.Time
}

type ServiceOption func(*service)

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithProcessor enables the live cross-check against the processor.
func WithProcessor(p processor.Processor) ServiceOption {
	return func(s *service) {
		s.proc = p
	}
}

// WithProcessorTimeout bounds the live lookup. Default 10s.
func WithProcessorTimeout(d time.Duration) ServiceOption {
	return func(s *service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLocation sets the time zone of daily revenue buckets. Default UTC.
func WithLocation(loc *time.Location) ServiceOption {
	return func(s *service) {
		if loc != nil {
			s.loc = loc
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

// NewService panics if subs or catalog is nil.
func NewService(subs SubscriptionReader, catalog plans.Catalog, opts ...ServiceOption) Service {
	if subs == nil {
		panic("dashboard: SubscriptionReader is required")
	}
	if catalog == nil {
		panic("dashboard: plans.Catalog is required")
	}
	s := &service{
		subs:    subs,
		catalog: catalog,
		timeout: 10 * time.Second,
		loc:     time.UTC,
		log:     logger.Discard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Project collapses concurrent calls for the same tenant into one.
// The shared call is detached from any single caller, so one caller giving up
// only returns early for that caller.
func (s *service) Project(ctx context.Context, tenantID uuid.UUID) (View, error) {
	ch := s.group.DoChan(tenantID.String(), func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*s.timeout)
		defer cancel()
		return s.project(sctx, tenantID)
	})
	select {
	case <-ctx.Done():
		return View{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return View{}, r.Err
		}
		return r.Val.(View), nil
	}
}

func (s *service) project(ctx context.Context, tenantID uuid.UUID) (View, error) {
	now := s.now().UTC()
	snap, err := s.subs.Current(ctx, tenantID)
	if errors.Is(err, subscription.ErrSnapshotNotFound) {
		return View{TenantID: tenantID, State: subscription.StateNoSubscription, Source: SourceLocal}, nil
	}
	if err != nil {
		return View{}, err
	}

	var (
		pending    subscription.ScheduledTransition
		hasPending bool
		live       processor.Subscription
		hasLive    bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.subs.Pending(gctx, tenantID)
		switch {
		case err == nil:
			pending, hasPending = p, true
		case !errors.Is(err, subscription.ErrNoScheduledTransition):
			return err
		}
		return nil
	})
	if ref := snap.ExternalSubscriptionRef; s.proc != nil && ref != "" && ref != subscription.PendingRef {
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(gctx, s.timeout)
			defer cancel()
			sub, err := s.proc.GetSubscription(lctx, ref)
			if err != nil {
				// local snapshot is the fallback
				s.log.WarnContext(ctx, "live subscription unavailable",
					logger.Component("dashboard"),
					logger.TenantID(tenantID),
					logger.SubscriptionRef(ref),
					logger.Error(err),
				)
				return nil
			}
			live, hasLive = sub, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return View{}, err
	}

	v := localView(snap, now)
	if hasLive {
		s.overlay(ctx, &v, snap, live, now)
	}
	if plan, err := s.catalog.Get(ctx, v.PlanKey); err == nil {
		v.PlanDisplay = plan.DisplayText
	}
	if hasPending && !v.IsCanceled {
		v.NextPlanKey = pending.TargetPlanKey
		at := pending.EffectiveAt
		v.NextPlanEffectiveAt = &at
	}
	return v, nil
}

func localView(snap subscription.Snapshot, now time.Time) View {
	state := snap.State(now)
	v := View{
		TenantID:        snap.TenantID,
		State:           state,
		PlanKey:         snap.PlanKey,
		IsTrial:         snap.IsTrial,
		IsActive:        state != subscription.StateExpired,
		IsCanceled:      snap.IsCanceled,
		CycleEnd:        snap.CycleEnd,
		NextBillingDate: snap.NextBillingDate,
		Source:          SourceLocal,
	}
	if v.IsTrial {
		v.DaysRemaining = daysRemaining(snap.CycleEnd, now)
	}
	return v
}

// overlay applies the processor's view of the lifecycle.
func (s *service) overlay(ctx context.Context, v *View, snap subscription.Snapshot, live processor.Subscription, now time.Time) {
	v.Source = SourceProcessor
	v.IsActive = live.Status.Live()
	v.IsCanceled = live.CancelAtPeriodEnd || live.Status == processor.StatusCanceled
	v.IsTrial = live.Status == processor.StatusTrialing
	if !live.CurrentPeriodEnd.IsZero() {
		end := live.CurrentPeriodEnd
		v.CycleEnd = &end
	}
	v.NextBillingDate = nil
	if !v.IsCanceled && v.IsActive {
		v.NextBillingDate = v.CycleEnd
	}
	v.DaysRemaining = nil
	if v.IsTrial {
		v.DaysRemaining = daysRemaining(v.CycleEnd, now)
	}
	switch {
	case !v.IsActive:
		v.State = subscription.StateExpired
	case v.IsCanceled:
		v.State = subscription.StateCancelPending
	case v.IsTrial:
		v.State = subscription.StateTrialing
	default:
		v.State = subscription.StateActive
	}
	if plan, err := s.catalog.GetByPriceRef(ctx, live.PriceRef); err == nil && !v.IsTrial {
		v.PlanKey = plan.Key
	}

	if v.IsActive != (snap.State(now) != subscription.StateExpired) || v.IsCanceled != snap.IsCanceled {
		s.log.WarnContext(ctx, "local snapshot differs from processor",
			logger.Component("dashboard"),
			logger.TenantID(snap.TenantID),
			slog.String("local_state", string(snap.State(now))),
			slog.String("processor_status", string(live.Status)),
		)
	}
}

// daysRemaining rounds up to whole days and never goes below zero.
func daysRemaining(end *time.Time, now time.Time) *int {
	if end == nil {
		return nil
	}
	days := int(math.Ceil(end.Sub(now).Hours() / 24))
	days = max(days, 0)
	return &days
}

func (s *service) ReactivationOptions(ctx context.Context, tenantID uuid.UUID) ([]ReactivationOption, error) {
	trialed, err := s.subs.HasTrialHistory(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return lo.Map(s.catalog.Paid(ctx), func(p plans.Plan, _ int) ReactivationOption {
		return ReactivationOption{
			PlanKey:      p.Key,
			DisplayText:  p.DisplayText,
			PriceCents:   p.PriceCents,
			TrialAllowed: !trialed && s.catalog.TrialEligible(p.Key),
		}
	}), nil
}
