package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/adminbilling/pkg/logger"
	"github.com/dmitrymomot/adminbilling/svc/plans"
)

// Service owns every write to subscription state.
type Service interface {
	ApplySignup(ctx context.Context, tenantID uuid.UUID, planKey plans.Key, isTrial bool, cycle Cycle, refs Refs) (Snapshot, error)
	ApplyCancellation(ctx context.Context, tenantID uuid.UUID, externalBoundary *time.Time) (Snapshot, error)
	ApplyUncancel(ctx context.Context, tenantID uuid.UUID) (Snapshot, error)
	ApplyReactivation(ctx context.Context, tenantID uuid.UUID, planKey plans.Key, isTrial bool, refs Refs, cycle Cycle) (Snapshot, error)
	ApplyPlanChange(ctx context.Context, tenantID uuid.UUID, target plans.Key, effectiveAt time.Time, refs Refs) (ScheduledTransition, error)
	// ApplyPaymentConfirmation reports applied=false for an already recorded transaction.
	ApplyPaymentConfirmation(ctx context.Context, tenantID uuid.UUID, payment Payment) (Snapshot, bool, error)
	PromoteScheduled(ctx context.Context, tenantID uuid.UUID, refs Refs, cycle Cycle) (Snapshot, error)

	// ReconcileIfDue applies due scheduled transitions and expirations for one tenant.
	ReconcileIfDue(ctx context.Context, tenantID uuid.UUID) (ReconcileResult, error)
	// Sweep reconciles every tenant with due work and returns how many changed.
	Sweep(ctx context.Context) (int, error)

	Current(ctx context.Context, tenantID uuid.UUID) (Snapshot, error)
	Pending(ctx context.Context, tenantID uuid.UUID) (ScheduledTransition, error)
	History(ctx context.Context, tenantID uuid.UUID) ([]HistoryEntry, error)
	Snapshots(ctx context.Context, tenantID uuid.UUID) ([]Snapshot, error)
	Payments(ctx context.Context, from, to time.Time) ([]HistoryEntry, error)
	HasTrialHistory(ctx context.Context, tenantID uuid.UUID) (bool, error)
	TrialCancelPolicy() TrialCancelPolicy
}

type service struct {
	store            Store
	catalog          plans.Catalog
	log              *slog.Logger
	now              func() time.Time
	policy           TrialCancelPolicy
	gracePeriod      time.Duration
	trialExpiryGrace time.Duration
	sweepBatch       int
}

// ServiceOption configures the subscription service.
type ServiceOption func(*service)

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *service) {
		if l != nil {
			s.log = l
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

func WithTrialCancelPolicy(p TrialCancelPolicy) ServiceOption {
	return func(s *service) {
		if p != "" {
			s.policy = p
		}
	}
}

// WithGracePeriod extends access past next_billing_date on cancellation when
// the processor reports no boundary.
func WithGracePeriod(d time.Duration) ServiceOption {
	return func(s *service) {
		if d >= 0 {
			s.gracePeriod = d
		}
	}
}

func WithTrialExpiryGrace(d time.Duration) ServiceOption {
	return func(s *service) {
		if d >= 0 {
			s.trialExpiryGrace = d
		}
	}
}

func WithSweepBatchSize(n int) ServiceOption {
	return func(s *service) {
		if n > 0 {
			s.sweepBatch = n
		}
	}
}

// NewService panics if store or catalog is nil.
func NewService(store Store, catalog plans.Catalog, opts ...ServiceOption) Service {
	if store == nil {
		panic("subscription: Store is required")
	}
	if catalog == nil {
		panic("subscription: plans.Catalog is required")
	}
	s := &service{
		store:      store,
		catalog:    catalog,
		log:        logger.Discard(),
		now:        time.Now,
		policy:     TrialKeepUntilEnd,
		sweepBatch: 500,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) TrialCancelPolicy() TrialCancelPolicy { return s.policy }

func (s *service) clock() time.Time { return s.now().UTC() }

// transition resolves the next state or the domain error for a missing edge.
func (s *service) transition(ctx context.Context, from State, event Event, in transitionInput) (State, error) {
	to, err := lifecycle.Next(ctx, from, event, in)
	if err != nil {
		return "", rejection(from, event)
	}
	return to, nil
}

// cycleFor fills in a missing cycle end from the plan, or the trial length.
func cycleFor(plan plans.Plan, isTrial bool, cycle Cycle, now time.Time) (time.Time, time.Time) {
	start := cycle.Start
	if start.IsZero() {
		start = now
	}
	start = start.UTC()
	if cycle.End != nil {
		return start, cycle.End.UTC()
	}
	if isTrial {
		return start, start.AddDate(0, 0, plans.TrialDays)
	}
	return start, plan.CycleEnd(start)
}

func (s *service) resolvePlan(ctx context.Context, key plans.Key, isTrial bool) (plans.Plan, bool, error) {
	plan, err := s.catalog.Get(ctx, key)
	if err != nil {
		return plans.Plan{}, false, errors.Join(ErrInvalidTargetPlan, err)
	}
	// the free trial plan is always a trial
	return plan, isTrial || plan.IsTrial(), nil
}

func (s *service) newSnapshot(tenantID uuid.UUID, plan plans.Plan, isTrial bool, start, end time.Time, refs Refs, now time.Time) Snapshot {
	return Snapshot{
		ID:                      uuid.New(),
		TenantID:                tenantID,
		PlanKey:                 plan.Key,
		IsTrial:                 isTrial,
		IsActive:                true,
		IsCurrent:               true,
		CycleStart:              start,
		CycleEnd:                timePtr(end),
		NextBillingDate:         timePtr(end),
		ExternalSubscriptionRef: refs.SubscriptionRef,
		ExternalTransactionRef:  refs.TransactionRef,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

func historyFor(snap Snapshot, event HistoryEventType, now time.Time) HistoryEntry {
	start := snap.CycleStart
	return HistoryEntry{
		ID:                     uuid.New(),
		TenantID:               snap.TenantID,
		EventType:              event,
		PlanKey:                snap.PlanKey,
		IsTrial:                snap.IsTrial,
		CycleStart:             &start,
		CycleEnd:               snap.CycleEnd,
		WasCanceled:            snap.IsCanceled,
		ExternalTransactionRef: snap.ExternalTransactionRef,
		OccurredAt:             now,
	}
}

func (s *service) ApplySignup(ctx context.Context, tenantID uuid.UUID, planKey plans.Key, isTrial bool, cycle Cycle, refs Refs) (Snapshot, error) {
	plan, isTrial, err := s.resolvePlan(ctx, planKey, isTrial)
	if err != nil {
		return Snapshot{}, err
	}

	var out Snapshot
	err = s.store.WithTenantLock(ctx, tenantID, func(tx Tx) error {
		now := s.clock()
		cur, ok, err := tx.Current(ctx)
		if err != nil {
			return err
		}
		if _, err := s.transition(ctx, stateOf(cur, ok, now), EventSignup, transitionInput{current: cur, isTrial: isTrial}); err != nil {
			return err
		}

		start, end := cycleFor(plan, isTrial, cycle, now)
		out = s.newSnapshot(tenantID, plan, isTrial, start, end, refs, now)
		if err := tx.Insert(ctx, out); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, historyFor(out, HistorySignup, now))
	})
	if err != nil {
		return Snapshot{}, err
	}

	s.log.InfoContext(ctx, "subscription signup applied",
		logger.Component("subscription"),
		logger.TenantID(tenantID),
		logger.PlanKey(out.PlanKey),
		slog.Bool("is_trial", out.IsTrial),
	)
	return out, nil
}

func (s *service) ApplyCancellation(ctx context.Context, tenantID uuid.UUID, externalBoundary *time.Time) (Snapshot, error) {
	var (
		out     Snapshot
		changed bool
	)
	err := s.store.WithTenantLock(ctx, tenantID, func(tx Tx) error {
		now := s.clock()
		cur, ok, err := tx.Current(ctx)
		if err != nil {
			return err
		}
		from := stateOf(cur, ok, now)
		to, err := s.transition(ctx, from, EventCancel, transitionInput{current: cur, policy: s.policy})
		if err != nil {
			return err
		}
		if from == StateCancelPending {
			out = cur
			return nil
		}

		next := cur
		next.IsCanceled = true
		next.PriorNextBillingDate = cur.NextBillingDate
		next.NextBillingDate = nil
		next.UpdatedAt = now

		switch {
		case to == StateExpired:
			next.IsActive = false
			next.CycleEnd = timePtr(now)
		case from == StateTrialing && cur.CycleEnd != nil:
			// trial access runs to the original trial end
		case externalBoundary != nil:
			next.CycleEnd = timePtr(*externalBoundary)
		case cur.NextBillingDate != nil:
			next.CycleEnd = timePtr(cur.NextBillingDate.Add(s.gracePeriod))
		case cur.CycleEnd == nil:
			next.CycleEnd = timePtr(now)
		}

		if err := tx.Update(ctx, next); err != nil {
			return err
		}
		// a canceled subscription never reaches its next plan
		if err := tx.DeletePending(ctx); err != nil {
			return err
		}
		out, changed = next, true
		return tx.AppendHistory(ctx, historyFor(next, HistoryCancel, now))
	})
	if err != nil {
		return Snapshot{}, err
	}

	if changed {
		s.log.InfoContext(ctx, "subscription canceled",
			logger.Component("subscription"),
			logger.TenantID(tenantID),
			logger.PlanKey(out.PlanKey),
			slog.Bool("is_active", out.IsActive),
		)
	}
	return out, nil
}

func (s *service) ApplyUncancel(ctx context.Context, tenantID uuid.UUID) (Snapshot, error) {
	var out Snapshot
	err := s.store.WithTenantLock(ctx, tenantID, func(tx Tx) error {
		now := s.clock()
		cur, ok, err := tx.Current(ctx)
		if err != nil {
			return err
		}
		if _, err := s.transition(ctx, stateOf(cur, ok, now), EventUncancel, transitionInput{current: cur}); err != nil {
			return err
		}

		next := cur
		next.IsCanceled = false
		next.NextBillingDate = cur.PriorNextBillingDate
		if next.NextBillingDate == nil {
			next.NextBillingDate = cur.CycleEnd
		}
		next.PriorNextBillingDate = nil
		next.UpdatedAt = now

		if err := tx.Update(ctx, next); err != nil {
			return err
		}
		out = next
		return tx.AppendHistory(ctx, historyFor(next, HistoryUncancel, now))
	})
	if err != nil {
		return Snapshot{}, err
	}

	s.log.InfoContext(ctx, "subscription cancellation reverted",
		logger.Component("subscription"),
		logger.TenantID(tenantID),
		logger.PlanKey(out.PlanKey),
	)
	return out, nil
}

func (s *service) ApplyReactivation(ctx context.Context, tenantID uuid.UUID, planKey plans.Key, isTrial bool, refs Refs, cycle Cycle) (Snapshot, error) {
	plan, isTrial, err := s.resolvePlan(ctx, planKey, isTrial)
	if err != nil {
		return Snapshot{}, err
	}

	var out Snapshot
	err = s.store.WithTenantLock(ctx, tenantID, func(tx Tx) error {
		now := s.clock()
		cur, ok, err := tx.Current(ctx)
		if err != nil {
			return err
		}
		if _, err := s.transition(ctx, stateOf(cur, ok, now), EventReactivate, transitionInput{current: cur, isTrial: isTrial}); err != nil {
			return err
		}

		start, end := cycleFor(plan, isTrial, cycle, now)
		out = s.newSnapshot(tenantID, plan, isTrial, start, end, refs, now)
		if err := tx.Insert(ctx, out); err != nil {
			return err
		}
		if err := tx.DeletePending(ctx); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, historyFor(out, HistoryReactivate, now))
	})
	if err != nil {
		return Snapshot{}, err
	}

	s.log.InfoContext(ctx, "subscription reactivated",
		logger.Component("subscription"),
		logger.TenantID(tenantID),
		logger.PlanKey(out.PlanKey),
		slog.Bool("is_trial", out.IsTrial),
	)
	return out, nil
}

func (s *service) ApplyPlanChange(ctx context.Context, tenantID uuid.UUID, target plans.Key, effectiveAt time.Time, refs Refs) (ScheduledTransition, error) {
	plan, err := s.catalog.Get(ctx, target)
	if err != nil {
		return ScheduledTransition{}, errors.Join(ErrInvalidTargetPlan, err)
	}
	if plan.IsTrial() {
		return ScheduledTransition{}, ErrInvalidTransition
	}

	var out ScheduledTransition
	err = s.store.WithTenantLock(ctx, tenantID, func(tx Tx) error {
		now := s.clock()
		cur, ok, err := tx.Current(ctx)
		if err != nil {
			return err
		}
		if _, err := s.transition(ctx, stateOf(cur, ok, now), EventChangePlan, transitionInput{current: cur}); err != nil {
			return err
		}
		if !CanChangePlan(cur.PlanKey, target) {
			return ErrInvalidTransition
		}
		if !effectiveAt.After(now) {
			return ErrImmediateChangeUnsupported
		}

		subRef := refs.SubscriptionRef
		if subRef == "" {
			subRef = cur.ExternalSubscriptionRef
		}
		if subRef == "" {
			subRef = PendingRef
		}
		out = ScheduledTransition{
			TenantID:                tenantID,
			TargetPlanKey:           target,
			EffectiveAt:             effectiveAt.UTC(),
			ExternalSubscriptionRef: subRef,
			ExternalScheduleRef:     refs.ScheduleRef,
			CreatedAt:               now,
		}
		if err := tx.PutPending(ctx, out); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, HistoryEntry{
			ID:         uuid.New(),
			TenantID:   tenantID,
			EventType:  HistoryPlanChangeScheduled,
			PlanKey:    target,
			CycleStart: timePtr(out.EffectiveAt),
			OccurredAt: now,
		})
	})
	if err != nil {
		return ScheduledTransition{}, err
	}

	s.log.InfoContext(ctx, "plan change scheduled",
		logger.Component("subscription"),
		logger.TenantID(tenantID),
		logger.PlanKey(target),
		slog.Time("effective_at", out.EffectiveAt),
	)
	return out, nil
}

func (s *service) ApplyPaymentConfirmation(ctx context.Context, tenantID uuid.UUID, payment Payment) (Snapshot, bool, error) {
	if payment.TransactionRef == "" {
		return Snapshot{}, false, ErrMissingTransactionRef
	}

	var (
		out     Snapshot
		applied bool
	)
	err := s.store.WithTenantLock(ctx, tenantID, func(tx Tx) error {
		now := s.clock()
		cur, ok, err := tx.Current(ctx)
		if err != nil {
			return err
		}
		seen, err := tx.HasPayment(ctx, payment.TransactionRef)
		if err != nil {
			return err
		}
		if seen {
			out = cur
			return nil
		}
		from := stateOf(cur, ok, now)
		to, err := s.transition(ctx, from, EventPay, transitionInput{current: cur, amountCents: payment.AmountCents})
		if err != nil {
			return err
		}

		plan, err := s.catalog.Get(ctx, cur.PlanKey)
		if err != nil {
			return err
		}
		if payment.Cycle.Start.IsZero() && payment.Cycle.End == nil {
			switch {
			case to == StateActive && cur.IsTrial && cur.CycleEnd != nil:
				// first paid cycle starts where the trial ended
				payment.Cycle.Start = *cur.CycleEnd
			default:
				payment.Cycle.Start = cur.CycleStart
				payment.Cycle.End = cur.CycleEnd
			}
		}
		start, end := cycleFor(plan, to == StateTrialing, payment.Cycle, now)

		next := cur
		next.UpdatedAt = now
		// an out-of-order invoice for an older period is recorded but never
		// moves the boundary back
		advances := cur.CycleEnd == nil || end.After(*cur.CycleEnd)
		switch {
		case !advances:
		case cur.IsCanceled:
			// the processor's boundary wins; billing stays off
			next.ExternalTransactionRef = payment.TransactionRef
			next.CycleEnd = timePtr(end)
		default:
			next.ExternalTransactionRef = payment.TransactionRef
			next.CycleStart = start
			next.CycleEnd = timePtr(end)
			next.NextBillingDate = timePtr(end)
		}
		if to == StateActive {
			next.IsTrial = false
			next.IsActive = true
		}

		if err := tx.Update(ctx, next); err != nil {
			return err
		}
		entry := historyFor(next, HistoryPaymentSucceeded, now)
		entry.CycleStart = timePtr(start)
		entry.CycleEnd = timePtr(end)
		entry.AmountCents = payment.AmountCents
		if !payment.PaidAt.IsZero() {
			entry.OccurredAt = payment.PaidAt.UTC()
		}
		out, applied = next, true
		return tx.AppendHistory(ctx, entry)
	})
	if err != nil {
		return Snapshot{}, false, err
	}

	if applied {
		s.log.InfoContext(ctx, "payment applied",
			logger.Component("subscription"),
			logger.TenantID(tenantID),
			logger.TransactionRef(payment.TransactionRef),
			slog.Int64("amount_cents", payment.AmountCents),
		)
	}
	return out, applied, nil
}

func (s *service) PromoteScheduled(ctx context.Context, tenantID uuid.UUID, refs Refs, cycle Cycle) (Snapshot, error) {
	var out Snapshot
	err := s.store.WithTenantLock(ctx, tenantID, func(tx Tx) error {
		var err error
		out, err = s.promote(ctx, tx, tenantID, refs, cycle, s.clock())
		return err
	})
	if err != nil {
		return Snapshot{}, err
	}
	s.log.InfoContext(ctx, "scheduled plan change applied",
		logger.Component("subscription"),
		logger.TenantID(tenantID),
		logger.PlanKey(out.PlanKey),
	)
	return out, nil
}

func (s *service) promote(ctx context.Context, tx Tx, tenantID uuid.UUID, refs Refs, cycle Cycle, now time.Time) (Snapshot, error) {
	pending, ok, err := tx.Pending(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if !ok {
		return Snapshot{}, ErrNoScheduledTransition
	}
	cur, hasCur, err := tx.Current(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if _, err := s.transition(ctx, stateOf(cur, hasCur, now), EventPromote, transitionInput{current: cur}); err != nil {
		return Snapshot{}, err
	}
	plan, err := s.catalog.Get(ctx, pending.TargetPlanKey)
	if err != nil {
		return Snapshot{}, errors.Join(ErrInvalidTargetPlan, err)
	}

	if cycle.Start.IsZero() {
		cycle.Start = pending.EffectiveAt
	}
	start, end := cycleFor(plan, false, cycle, now)

	if refs.SubscriptionRef == "" && pending.ExternalSubscriptionRef != PendingRef {
		refs.SubscriptionRef = pending.ExternalSubscriptionRef
	}
	if refs.SubscriptionRef == "" {
		refs.SubscriptionRef = cur.ExternalSubscriptionRef
	}
	if refs.TransactionRef == "" {
		refs.TransactionRef = cur.ExternalTransactionRef
	}

	next := s.newSnapshot(tenantID, plan, false, start, end, refs, now)
	if err := tx.Insert(ctx, next); err != nil {
		return Snapshot{}, err
	}
	if err := tx.DeletePending(ctx); err != nil {
		return Snapshot{}, err
	}
	if err := tx.AppendHistory(ctx, historyFor(next, HistoryPlanChangeApplied, now)); err != nil {
		return Snapshot{}, err
	}
	return next, nil
}

func (s *service) ReconcileIfDue(ctx context.Context, tenantID uuid.UUID) (ReconcileResult, error) {
	var res ReconcileResult
	err := s.store.WithTenantLock(ctx, tenantID, func(tx Tx) error {
		res = ReconcileResult{}
		now := s.clock()

		pending, hasPending, err := tx.Pending(ctx)
		if err != nil {
			return err
		}
		if hasPending && pending.Due(now) {
			cur, ok, err := tx.Current(ctx)
			if err != nil {
				return err
			}
			if stateOf(cur, ok, now) == StateActive {
				snap, err := s.promote(ctx, tx, tenantID, Refs{}, Cycle{}, now)
				if err != nil {
					return err
				}
				res.Promoted, res.Snapshot = true, &snap
			} else {
				if err := tx.DeletePending(ctx); err != nil {
					return err
				}
				res.DroppedPending = true
			}
		}

		cur, ok, err := tx.Current(ctx)
		if err != nil || !ok {
			return err
		}
		if !expirable(cur, now, now.Add(-s.trialExpiryGrace)) {
			res.Snapshot = &cur
			return nil
		}
		if _, err := s.transition(ctx, stateOf(cur, ok, now), EventExpire, transitionInput{current: cur}); err != nil {
			return err
		}
		next := cur
		next.IsActive = false
		next.UpdatedAt = now
		if err := tx.Update(ctx, next); err != nil {
			return err
		}
		res.Expired, res.Snapshot = true, &next
		return tx.AppendHistory(ctx, historyFor(next, HistoryExpired, now))
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	if res.Changed() {
		s.log.InfoContext(ctx, "subscription reconciled",
			logger.Component("subscription"),
			logger.TenantID(tenantID),
			slog.Bool("promoted", res.Promoted),
			slog.Bool("expired", res.Expired),
			slog.Bool("dropped_pending", res.DroppedPending),
		)
	}
	return res, nil
}

func (s *service) Sweep(ctx context.Context) (int, error) {
	now := s.clock()
	tenants, err := s.store.DueTenants(ctx, now, now.Add(-s.trialExpiryGrace), s.sweepBatch)
	if err != nil {
		return 0, err
	}

	var (
		changed int
		errs    []error
	)
	for _, id := range tenants {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := s.ReconcileIfDue(ctx, id)
		if err != nil {
			s.log.ErrorContext(ctx, "failed to reconcile tenant",
				logger.Component("subscription"),
				logger.TenantID(id),
				logger.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		if res.Changed() {
			changed++
		}
	}
	return changed, errors.Join(errs...)
}

func (s *service) Current(ctx context.Context, tenantID uuid.UUID) (Snapshot, error) {
	return s.store.Current(ctx, tenantID)
}

func (s *service) Pending(ctx context.Context, tenantID uuid.UUID) (ScheduledTransition, error) {
	return s.store.Pending(ctx, tenantID)
}

func (s *service) History(ctx context.Context, tenantID uuid.UUID) ([]HistoryEntry, error) {
	return s.store.History(ctx, tenantID)
}

func (s *service) Snapshots(ctx context.Context, tenantID uuid.UUID) ([]Snapshot, error) {
	return s.store.Snapshots(ctx, tenantID)
}

func (s *service) Payments(ctx context.Context, from, to time.Time) ([]HistoryEntry, error) {
	return s.store.Payments(ctx, from, to)
}

func (s *service) HasTrialHistory(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	return s.store.HasTrialHistory(ctx, tenantID)
}
