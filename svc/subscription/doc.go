// Package subscription implements the tenant subscription lifecycle.
//
// State is derived from the tenant's current Snapshot:
//
//	no_subscription -> trialing -> active <-> cancel_pending -> expired
//
// with active -> active for scheduled plan changes and a reactivation edge
// from every state that always creates a fresh Snapshot. Transitions are
// declared once in a pkg/statemachine table and evaluated inside
// Store.WithTenantLock, so the snapshot write and its AccountHistory entry
// commit together and writers for one tenant never interleave.
//
// Time-based demotions (trial end, end of a canceled cycle) and promotion of
// due ScheduledTransitions happen only in ReconcileIfDue. Reads never mutate.
//
// Usage:
//
//	svc := subscription.NewService(subscription.NewPostgresStore(pool, cfg.LockTimeout), catalog,
//		subscription.WithLogger(log),
//		subscription.WithTrialCancelPolicy(subscription.TrialKeepUntilEnd),
//	)
//	snap, err := svc.ApplySignup(ctx, tenantID, plans.Monthly, false, subscription.Cycle{Start: now}, refs)
package subscription
