package statemachine

import "context"

// Guard decides at runtime whether a declared transition may proceed for the given payload.
type Guard[S, E comparable, D any] func(ctx context.Context, from S, event E, data D) bool

// Transition is a single edge of the table: from a state, an event moves to a state.
type Transition[S, E comparable, D any] struct {
	From   S
	Event  E
	To     S
	Guards []Guard[S, E, D] // All must pass for the transition to be selected
}

// Machine resolves transitions for externally stored state.
// It keeps no current state of its own, so a single Machine is shared by every
// aggregate whose state lives in a database row.
type Machine[S, E comparable, D any] interface {
	// Next returns the destination state for event fired in state from.
	Next(ctx context.Context, from S, event E, data D) (S, error)
	// Can reports whether Next would succeed.
	Can(ctx context.Context, from S, event E, data D) bool
	// Events lists the events declared for state from, in declaration order.
	Events(from S) []E
}
