package subscription

import "context"

// ExternalEvent identifies the processor event that drives a write.
type ExternalEvent struct {
	ID   string
	Type string
}

// eventClaim is carried by the context of one delivery. The first committed
// WithTenantLock records it; later locks in the same delivery skip it.
type eventClaim struct {
	event   ExternalEvent
	claimed bool
}

type eventClaimKey struct{}

// WithExternalEvent makes the next committed tenant write also record ev in
// the processed-event ledger. The write fails with ErrEventAlreadyApplied when
// ev was recorded before, and a rolled back write releases the claim.
func WithExternalEvent(ctx context.Context, ev ExternalEvent) context.Context {
	if ev.ID == "" {
		return ctx
	}
	return context.WithValue(ctx, eventClaimKey{}, &eventClaim{event: ev})
}

// pendingClaim returns the claim that the current write must record, if any.
func pendingClaim(ctx context.Context) (*eventClaim, bool) {
	c, ok := ctx.Value(eventClaimKey{}).(*eventClaim)
	if !ok || c.claimed {
		return nil, false
	}
	return c, true
}
