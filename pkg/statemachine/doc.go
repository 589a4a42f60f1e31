// Package statemachine provides a generic, stateless transition table for
// finite-state aggregates whose current state is persisted elsewhere.
//
// A Table maps (state, event) pairs to a destination state. Every pair may
// carry several candidate transitions with guards; the first candidate whose
// guards all pass is selected. The table never stores a "current" state, so a
// single instance is safe to share across goroutines and across every row of
// a database table.
//
// # Usage
//
//	type state string
//	type event string
//
//	table := statemachine.MustNew(
//		statemachine.WithTransition[state, event, any]("draft", "submit", "review"),
//		statemachine.WithTransition[state, event, any]("review", "approve", "published"),
//	)
//
//	next, err := table.Next(ctx, "draft", "submit", nil)
//
// # Errors
//
// Next distinguishes "the pair is not declared" (ErrNoTransitionAvailable)
// from "declared but blocked by guards" (ErrTransitionRejected). Use
// IsNoTransitionAvailableError and IsTransitionRejectedError to tell them
// apart.
package statemachine
