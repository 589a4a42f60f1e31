package statemachine

import (
	"context"
	"fmt"
)

// Option configures a Table during construction.
type Option[S, E comparable, D any] func(*Table[S, E, D]) error

// Table is an immutable, concurrency-safe transition table.
// Lookups go through map[from][event][]Transition; the first transition whose
// guards all pass wins, so declaration order expresses priority.
type Table[S, E comparable, D any] struct {
	transitions map[S]map[E][]Transition[S, E, D]
	order       map[S][]E
}

// New builds a Table from the given options.
func New[S, E comparable, D any](opts ...Option[S, E, D]) (*Table[S, E, D], error) {
	t := &Table[S, E, D]{
		transitions: make(map[S]map[E][]Transition[S, E, D]),
		order:       make(map[S][]E),
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	if len(t.transitions) == 0 {
		return nil, ErrEmptyTable
	}
	return t, nil
}

// MustNew is like New but panics on a malformed table.
func MustNew[S, E comparable, D any](opts ...Option[S, E, D]) *Table[S, E, D] {
	t, err := New(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to build transition table: %v", err))
	}
	return t
}

// WithTransition declares one edge.
func WithTransition[S, E comparable, D any](from S, event E, to S, guards ...Guard[S, E, D]) Option[S, E, D] {
	return func(t *Table[S, E, D]) error {
		return t.add(Transition[S, E, D]{From: from, Event: event, To: to, Guards: guards})
	}
}

// WithTransitions declares several edges at once.
func WithTransitions[S, E comparable, D any](defs ...Transition[S, E, D]) Option[S, E, D] {
	return func(t *Table[S, E, D]) error {
		for i, def := range defs {
			if err := t.add(def); err != nil {
				return fmt.Errorf("transition[%d] %v -(%v)-> %v: %w", i, def.From, def.Event, def.To, err)
			}
		}
		return nil
	}
}

func (t *Table[S, E, D]) add(tr Transition[S, E, D]) error {
	for _, g := range tr.Guards {
		if g == nil {
			return ErrNilGuard
		}
	}
	byEvent, ok := t.transitions[tr.From]
	if !ok {
		byEvent = make(map[E][]Transition[S, E, D])
		t.transitions[tr.From] = byEvent
	}
	if _, seen := byEvent[tr.Event]; !seen {
		t.order[tr.From] = append(t.order[tr.From], tr.Event)
	}
	byEvent[tr.Event] = append(byEvent[tr.Event], tr)
	return nil
}

func (t *Table[S, E, D]) Next(ctx context.Context, from S, event E, data D) (S, error) {
	candidates := t.transitions[from][event]
	if len(candidates) == 0 {
		var zero S
		return zero, NewErrNoTransitionAvailable(from, event)
	}
	for _, tr := range candidates {
		if passes(ctx, tr, data) {
			return tr.To, nil
		}
	}
	var zero S
	return zero, NewErrTransitionRejected(from, event)
}

func (t *Table[S, E, D]) Can(ctx context.Context, from S, event E, data D) bool {
	_, err := t.Next(ctx, from, event, data)
	return err == nil
}

func (t *Table[S, E, D]) Events(from S) []E {
	events := t.order[from]
	out := make([]E, len(events))
	copy(out, events)
	return out
}

func passes[S, E comparable, D any](ctx context.Context, tr Transition[S, E, D], data D) bool {
	for _, g := range tr.Guards {
		if !g(ctx, tr.From, tr.Event, data) {
			return false
		}
	}
	return true
}
