package subscription

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/adminbilling/svc/plans"
)

// PendingRef stands in for a processor subscription id that has not been confirmed yet.
const PendingRef = "pending"

// Snapshot is the state of one billing cycle of a tenant. At most one
// snapshot per tenant is current; older ones are kept as history.
type Snapshot struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	PlanKey    plans.Key
	IsTrial    bool
	IsActive   bool
	IsCanceled bool
	IsCurrent  bool

	CycleStart time.Time
	CycleEnd   *time.Time
	// NextBillingDate is nil exactly when IsCanceled is true.
	NextBillingDate *time.Time
	// PriorNextBillingDate remembers NextBillingDate across a cancellation so
	// that uncancel restores it unchanged.
	PriorNextBillingDate *time.Time

	ExternalSubscriptionRef string
	ExternalTransactionRef  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// State derives the lifecycle state of the snapshot at now.
func (s Snapshot) State(now time.Time) State {
	switch {
	case !s.IsActive:
		return StateExpired
	case s.IsCanceled && s.CycleEnd != nil && !s.CycleEnd.After(now):
		return StateExpired
	case s.IsCanceled:
		return StateCancelPending
	case s.IsTrial:
		return StateTrialing
	default:
		return StateActive
	}
}

// ScheduledTransition is a plan change that takes effect at EffectiveAt.
// A tenant has at most one.
type ScheduledTransition struct {
	TenantID                uuid.UUID
	TargetPlanKey           plans.Key
	EffectiveAt             time.Time
	ExternalSubscriptionRef string
	ExternalScheduleRef     string
	CreatedAt               time.Time
}

// Due reports whether the transition should be promoted at now.
func (t ScheduledTransition) Due(now time.Time) bool {
	return !t.EffectiveAt.After(now)
}

// HistoryEventType classifies an AccountHistoryEntry.
type HistoryEventType string

const (
	HistorySignup              HistoryEventType = "signup"
	HistoryCancel              HistoryEventType = "cancel"
	HistoryUncancel            HistoryEventType = "uncancel"
	HistoryReactivate          HistoryEventType = "reactivate"
	HistoryPlanChangeScheduled HistoryEventType = "plan_change_scheduled"
	HistoryPlanChangeApplied   HistoryEventType = "plan_change_applied"
	HistoryPaymentSucceeded    HistoryEventType = "payment_succeeded"
	HistoryExpired             HistoryEventType = "expired"
)

// HistoryEntry is one append-only audit record. Every state transition writes exactly one.
type HistoryEntry struct {
	ID                     uuid.UUID
	TenantID               uuid.UUID
	EventType              HistoryEventType
	PlanKey                plans.Key
	IsTrial                bool
	CycleStart             *time.Time
	CycleEnd               *time.Time
	WasCanceled            bool
	ExternalTransactionRef string
	AmountCents            int64
	OccurredAt             time.Time
}

// Cycle is a billing period boundary. A nil End is filled from the plan duration.
type Cycle struct {
	Start time.Time
	End   *time.Time
}

// Refs carries processor identifiers attached to a transition.
type Refs struct {
	SubscriptionRef string
	TransactionRef  string
	ScheduleRef     string
}

// Payment is a confirmed charge reported by the processor.
type Payment struct {
	TransactionRef string
	Cycle          Cycle
	AmountCents    int64
	PaidAt         time.Time
}

// ReconcileResult reports what ReconcileIfDue changed.
type ReconcileResult struct {
	Promoted       bool
	Expired        bool
	DroppedPending bool
	Snapshot       *Snapshot
}

// Changed reports whether anything was written.
func (r ReconcileResult) Changed() bool {
	return r.Promoted || r.Expired || r.DroppedPending
}

func timePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
