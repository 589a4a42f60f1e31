package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists snapshots, scheduled transitions and history.
// Every write happens inside WithTenantLock, which serializes writers per tenant
// and commits the snapshot change and its history entry together.
// When ctx carries an ExternalEvent (see WithExternalEvent) the event id is
// recorded in the same unit of work.
type Store interface {
	WithTenantLock(ctx context.Context, tenantID uuid.UUID, fn func(tx Tx) error) error

	Current(ctx context.Context, tenantID uuid.UUID) (Snapshot, error)
	Snapshots(ctx context.Context, tenantID uuid.UUID) ([]Snapshot, error)
	Pending(ctx context.Context, tenantID uuid.UUID) (ScheduledTransition, error)
	History(ctx context.Context, tenantID uuid.UUID) ([]HistoryEntry, error)
	HasTrialHistory(ctx context.Context, tenantID uuid.UUID) (bool, error)
	// Payments returns payment_succeeded entries with from <= occurred_at < to, oldest first.
	Payments(ctx context.Context, from, to time.Time) ([]HistoryEntry, error)
	// DueTenants lists tenants with a due scheduled transition or an expirable
	// current snapshot, where expirable means canceled or trial with cycle_end <= cutoff.
	DueTenants(ctx context.Context, now, trialCutoff time.Time, limit int) ([]uuid.UUID, error)
}

// Tx is a tenant-scoped unit of work.
type Tx interface {
	// Current returns false when the tenant has no current snapshot.
	Current(ctx context.Context) (Snapshot, bool, error)
	Pending(ctx context.Context) (ScheduledTransition, bool, error)
	HasPayment(ctx context.Context, transactionRef string) (bool, error)
	HasTrialHistory(ctx context.Context) (bool, error)

	// Insert makes s the current snapshot, superseding the previous one.
	Insert(ctx context.Context, s Snapshot) error
	// Update rewrites the current snapshot in place.
	Update(ctx context.Context, s Snapshot) error
	PutPending(ctx context.Context, t ScheduledTransition) error
	DeletePending(ctx context.Context) error
	AppendHistory(ctx context.Context, e HistoryEntry) error
}
