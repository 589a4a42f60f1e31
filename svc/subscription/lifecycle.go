package subscription

import (
	"context"
	"time"

	"github.com/dmitrymomot/adminbilling/pkg/statemachine"
	"github.com/dmitrymomot/adminbilling/svc/plans"
)

// State is the lifecycle state derived from the current snapshot.
type State string

const (
	StateNoSubscription State = "no_subscription"
	StateTrialing       State = "trialing"
	StateActive         State = "active"
	StateCancelPending  State = "cancel_pending"
	StateExpired        State = "expired"
)

// Event drives a lifecycle transition.
type Event string

const (
	EventSignup     Event = "signup"
	EventCancel     Event = "cancel"
	EventUncancel   Event = "uncancel"
	EventReactivate Event = "reactivate"
	EventChangePlan Event = "change_plan"
	EventPromote    Event = "promote"
	EventPay        Event = "pay"
	EventExpire     Event = "expire"
)

// TrialCancelPolicy decides what cancelling a trial does.
type TrialCancelPolicy string

const (
	// TrialKeepUntilEnd keeps trial access until the original trial end.
	TrialKeepUntilEnd TrialCancelPolicy = "keep_until_end"
	// TrialCancelImmediately ends trial access at cancellation time.
	TrialCancelImmediately TrialCancelPolicy = "immediate"
)

// ParseTrialCancelPolicy validates a configured policy value. Empty means TrialKeepUntilEnd.
func ParseTrialCancelPolicy(s string) (TrialCancelPolicy, error) {
	switch TrialCancelPolicy(s) {
	case "", TrialKeepUntilEnd:
		return TrialKeepUntilEnd, nil
	case TrialCancelImmediately:
		return TrialCancelImmediately, nil
	default:
		return "", ErrInvalidPolicy
	}
}

// transitionInput is the payload guards are evaluated against.
type transitionInput struct {
	current     Snapshot
	isTrial     bool
	policy      TrialCancelPolicy
	amountCents int64
}

type guard = statemachine.Guard[State, Event, transitionInput]

var (
	startsTrial guard = func(_ context.Context, _ State, _ Event, in transitionInput) bool {
		return in.isTrial
	}
	cancelsTrialNow guard = func(_ context.Context, _ State, _ Event, in transitionInput) bool {
		return in.policy == TrialCancelImmediately
	}
	restoresTrial guard = func(_ context.Context, _ State, _ Event, in transitionInput) bool {
		return in.current.IsTrial
	}
	isCharged guard = func(_ context.Context, _ State, _ Event, in transitionInput) bool {
		return in.amountCents > 0
	}
	// lapsedTrial matches a trial that expired before its conversion invoice arrived.
	lapsedTrial guard = func(_ context.Context, _ State, _ Event, in transitionInput) bool {
		return in.current.IsTrial && !in.current.IsCanceled && in.amountCents > 0
	}
)

// lifecycle is shared by every tenant; it holds no per-tenant state.
var lifecycle statemachine.Machine[State, Event, transitionInput] = statemachine.MustNew(
	statemachine.WithTransitions(
		// signup
		statemachine.Transition[State, Event, transitionInput]{From: StateNoSubscription, Event: EventSignup, To: StateTrialing, Guards: []guard{startsTrial}},
		statemachine.Transition[State, Event, transitionInput]{From: StateNoSubscription, Event: EventSignup, To: StateActive},
		statemachine.Transition[State, Event, transitionInput]{From: StateExpired, Event: EventSignup, To: StateTrialing, Guards: []guard{startsTrial}},
		statemachine.Transition[State, Event, transitionInput]{From: StateExpired, Event: EventSignup, To: StateActive},
	),
	statemachine.WithTransitions(
		// cancel
		statemachine.Transition[State, Event, transitionInput]{From: StateTrialing, Event: EventCancel, To: StateExpired, Guards: []guard{cancelsTrialNow}},
		statemachine.Transition[State, Event, transitionInput]{From: StateTrialing, Event: EventCancel, To: StateCancelPending},
		statemachine.Transition[State, Event, transitionInput]{From: StateActive, Event: EventCancel, To: StateCancelPending},
		statemachine.Transition[State, Event, transitionInput]{From: StateCancelPending, Event: EventCancel, To: StateCancelPending},
	),
	statemachine.WithTransitions(
		// uncancel
		statemachine.Transition[State, Event, transitionInput]{From: StateCancelPending, Event: EventUncancel, To: StateTrialing, Guards: []guard{restoresTrial}},
		statemachine.Transition[State, Event, transitionInput]{From: StateCancelPending, Event: EventUncancel, To: StateActive},
	),
	statemachine.WithTransitions(
		// reactivate always supersedes, whatever the prior state
		statemachine.Transition[State, Event, transitionInput]{From: StateNoSubscription, Event: EventReactivate, To: StateTrialing, Guards: []guard{startsTrial}},
		statemachine.Transition[State, Event, transitionInput]{From: StateNoSubscription, Event: EventReactivate, To: StateActive},
		statemachine.Transition[State, Event, transitionInput]{From: StateExpired, Event: EventReactivate, To: StateTrialing, Guards: []guard{startsTrial}},
		statemachine.Transition[State, Event, transitionInput]{From: StateExpired, Event: EventReactivate, To: StateActive},
		statemachine.Transition[State, Event, transitionInput]{From: StateCancelPending, Event: EventReactivate, To: StateTrialing, Guards: []guard{startsTrial}},
		statemachine.Transition[State, Event, transitionInput]{From: StateCancelPending, Event: EventReactivate, To: StateActive},
		statemachine.Transition[State, Event, transitionInput]{From: StateTrialing, Event: EventReactivate, To: StateTrialing, Guards: []guard{startsTrial}},
		statemachine.Transition[State, Event, transitionInput]{From: StateTrialing, Event: EventReactivate, To: StateActive},
		statemachine.Transition[State, Event, transitionInput]{From: StateActive, Event: EventReactivate, To: StateTrialing, Guards: []guard{startsTrial}},
		statemachine.Transition[State, Event, transitionInput]{From: StateActive, Event: EventReactivate, To: StateActive},
	),
	statemachine.WithTransitions(
		// plan changes
		statemachine.Transition[State, Event, transitionInput]{From: StateActive, Event: EventChangePlan, To: StateActive},
		statemachine.Transition[State, Event, transitionInput]{From: StateActive, Event: EventPromote, To: StateActive},
	),
	statemachine.WithTransitions(
		// payments
		statemachine.Transition[State, Event, transitionInput]{From: StateTrialing, Event: EventPay, To: StateActive, Guards: []guard{isCharged}},
		statemachine.Transition[State, Event, transitionInput]{From: StateTrialing, Event: EventPay, To: StateTrialing},
		statemachine.Transition[State, Event, transitionInput]{From: StateActive, Event: EventPay, To: StateActive},
		statemachine.Transition[State, Event, transitionInput]{From: StateCancelPending, Event: EventPay, To: StateCancelPending},
		statemachine.Transition[State, Event, transitionInput]{From: StateExpired, Event: EventPay, To: StateActive, Guards: []guard{lapsedTrial}},
	),
	statemachine.WithTransitions(
		// expiry
		statemachine.Transition[State, Event, transitionInput]{From: StateTrialing, Event: EventExpire, To: StateExpired},
		statemachine.Transition[State, Event, transitionInput]{From: StateCancelPending, Event: EventExpire, To: StateExpired},
		statemachine.Transition[State, Event, transitionInput]{From: StateExpired, Event: EventExpire, To: StateExpired},
	),
)

// stateOf returns the lifecycle state for an optional current snapshot.
func stateOf(cur Snapshot, ok bool, now time.Time) State {
	if !ok {
		return StateNoSubscription
	}
	return cur.State(now)
}

// rejection maps a missing transition to the domain error callers see.
func rejection(from State, event Event) error {
	switch event {
	case EventSignup:
		return ErrDuplicateActiveSubscription
	case EventUncancel:
		if from == StateTrialing || from == StateActive {
			return ErrNotCanceled
		}
		return ErrNoActiveSubscription
	case EventChangePlan:
		switch from {
		case StateTrialing:
			return ErrTrialCheckoutRequired
		case StateCancelPending:
			return ErrSubscriptionCanceled
		}
		return ErrNoActiveSubscription
	case EventPromote:
		if from == StateCancelPending {
			return ErrSubscriptionCanceled
		}
		return ErrNoActiveSubscription
	default:
		return ErrNoActiveSubscription
	}
}

// allowedChanges lists the paid plans each paid plan may move to.
// The trial is never a target.
var allowedChanges = map[plans.Key]map[plans.Key]bool{
	plans.Monthly:   {plans.Quarterly: true, plans.Annual: true},
	plans.Quarterly: {plans.Monthly: true, plans.Annual: true},
	plans.Annual:    {plans.Monthly: true, plans.Quarterly: true},
}

// CanChangePlan reports whether a paid plan may be switched to target.
func CanChangePlan(from, target plans.Key) bool {
	return allowedChanges[from][target]
}
