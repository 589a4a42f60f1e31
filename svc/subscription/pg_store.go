package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/adminbilling/pkg/pg"
)

type pgStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore returns a Store backed by the billing schema.
// Tenant locks are row locks on tenant_identities held for one transaction.
func NewPostgresStore(pool *pgxpool.Pool, lockTimeout time.Duration) Store {
	return &pgStore{pool: pool, lockTimeout: lockTimeout}
}

const snapshotColumns = `id, tenant_id, plan_key, is_trial, is_active, is_canceled, is_current,
	cycle_start, cycle_end, next_billing_date, prior_next_billing_date,
	external_subscription_ref, external_transaction_ref, created_at, updated_at`

const pendingColumns = `tenant_id, target_plan_key, effective_at, external_subscription_ref, external_schedule_ref, created_at`

const historyColumns = `id, tenant_id, event_type, plan_key, is_trial, cycle_start, cycle_end,
	was_canceled, external_transaction_ref, amount_cents, occurred_at`

func scanSnapshot(row pgx.Row) (Snapshot, error) {
	var s Snapshot
	err := row.Scan(&s.ID, &s.TenantID, &s.PlanKey, &s.IsTrial, &s.IsActive, &s.IsCanceled, &s.IsCurrent,
		&s.CycleStart, &s.CycleEnd, &s.NextBillingDate, &s.PriorNextBillingDate,
		&s.ExternalSubscriptionRef, &s.ExternalTransactionRef, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func scanPending(row pgx.Row) (ScheduledTransition, error) {
	var t ScheduledTransition
	err := row.Scan(&t.TenantID, &t.TargetPlanKey, &t.EffectiveAt, &t.ExternalSubscriptionRef, &t.ExternalScheduleRef, &t.CreatedAt)
	return t, err
}

func scanHistory(row pgx.Row) (HistoryEntry, error) {
	var e HistoryEntry
	err := row.Scan(&e.ID, &e.TenantID, &e.EventType, &e.PlanKey, &e.IsTrial, &e.CycleStart, &e.CycleEnd,
		&e.WasCanceled, &e.ExternalTransactionRef, &e.AmountCents, &e.OccurredAt)
	return e, err
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *pgStore) WithTenantLock(ctx context.Context, tenantID uuid.UUID, fn func(tx Tx) error) error {
	claim, hasClaim := pendingClaim(ctx)
	err := pg.WithTx(ctx, s.pool, s.lockTimeout, func(tx pgx.Tx) error {
		var locked uuid.UUID
		err := tx.QueryRow(ctx,
			`SELECT identity_id FROM tenant_identities WHERE identity_id = $1 FOR UPDATE`, tenantID,
		).Scan(&locked)
		if pg.IsNotFoundError(err) {
			return ErrUnknownTenant
		}
		if err != nil {
			return err
		}
		if hasClaim {
			if err := claimEvent(ctx, tx, claim.event); err != nil {
				return err
			}
		}
		return fn(&pgTx{db: tx, tenantID: tenantID})
	})
	if err == nil && hasClaim {
		claim.claimed = true
	}
	return lockError(err)
}

// lockError marks lock_timeout expiry and deadlocks so callers can retry.
func lockError(err error) error {
	if pg.IsLockTimeoutError(err) {
		return errors.Join(ErrTenantBusy, err)
	}
	return err
}

// claimEvent inserts the ledger row. A concurrent claim of the same id blocks
// on the primary key until the other transaction ends.
func claimEvent(ctx context.Context, db pg.DBTX, ev ExternalEvent) error {
	tag, err := db.Exec(ctx, `
		INSERT INTO external_events (external_event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (external_event_id) DO NOTHING`, ev.ID, ev.Type)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEventAlreadyApplied
	}
	return nil
}

func (s *pgStore) Current(ctx context.Context, tenantID uuid.UUID) (Snapshot, error) {
	snap, ok, err := (&pgTx{db: s.pool, tenantID: tenantID}).Current(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if !ok {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return snap, nil
}

func (s *pgStore) Snapshots(ctx context.Context, tenantID uuid.UUID) ([]Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotColumns+` FROM subscription_snapshots WHERE tenant_id = $1 ORDER BY created_at, id`, tenantID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSnapshot)
}

func (s *pgStore) Pending(ctx context.Context, tenantID uuid.UUID) (ScheduledTransition, error) {
	t, ok, err := (&pgTx{db: s.pool, tenantID: tenantID}).Pending(ctx)
	if err != nil {
		return ScheduledTransition{}, err
	}
	if !ok {
		return ScheduledTransition{}, ErrNoScheduledTransition
	}
	return t, nil
}

func (s *pgStore) History(ctx context.Context, tenantID uuid.UUID) ([]HistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+historyColumns+` FROM account_history WHERE tenant_id = $1 ORDER BY occurred_at, id`, tenantID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanHistory)
}

func (s *pgStore) HasTrialHistory(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	return (&pgTx{db: s.pool, tenantID: tenantID}).HasTrialHistory(ctx)
}

func (s *pgStore) Payments(ctx context.Context, from, to time.Time) ([]HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+historyColumns+` FROM account_history
		WHERE event_type = 'payment_succeeded' AND occurred_at >= $1 AND occurred_at < $2
		ORDER BY occurred_at, id`, from, to)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanHistory)
}

func (s *pgStore) DueTenants(ctx context.Context, now, trialCutoff time.Time, limit int) ([]uuid.UUID, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id FROM scheduled_transitions WHERE effective_at <= $1
		UNION
		SELECT tenant_id FROM subscription_snapshots
		WHERE is_current AND is_active AND cycle_end IS NOT NULL
		  AND ((is_canceled AND cycle_end <= $1) OR (is_trial AND NOT is_canceled AND cycle_end <= $2))
		LIMIT $3`, now, trialCutoff, lim)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.Row) (uuid.UUID, error) {
		var id uuid.UUID
		err := row.Scan(&id)
		return id, err
	})
}

type pgTx struct {
	db       pg.DBTX
	tenantID uuid.UUID
}

func (tx *pgTx) Current(ctx context.Context) (Snapshot, bool, error) {
	snap, err := scanSnapshot(tx.db.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM subscription_snapshots WHERE tenant_id = $1 AND is_current`, tx.tenantID))
	if pg.IsNotFoundError(err) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (tx *pgTx) Pending(ctx context.Context) (ScheduledTransition, bool, error) {
	t, err := scanPending(tx.db.QueryRow(ctx,
		`SELECT `+pendingColumns+` FROM scheduled_transitions WHERE tenant_id = $1`, tx.tenantID))
	if pg.IsNotFoundError(err) {
		return ScheduledTransition{}, false, nil
	}
	if err != nil {
		return ScheduledTransition{}, false, err
	}
	return t, true, nil
}

func (tx *pgTx) HasPayment(ctx context.Context, ref string) (bool, error) {
	var exists bool
	err := tx.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM account_history
			WHERE tenant_id = $1 AND event_type = 'payment_succeeded' AND external_transaction_ref = $2
		)`, tx.tenantID, ref).Scan(&exists)
	return exists, err
}

func (tx *pgTx) HasTrialHistory(ctx context.Context) (bool, error) {
	var exists bool
	err := tx.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM account_history
			WHERE tenant_id = $1 AND is_trial AND event_type IN ('signup', 'reactivate')
		)`, tx.tenantID).Scan(&exists)
	return exists, err
}

func (tx *pgTx) Insert(ctx context.Context, s Snapshot) error {
	if _, err := tx.db.Exec(ctx, `
		UPDATE subscription_snapshots SET is_current = FALSE, updated_at = $2
		WHERE tenant_id = $1 AND is_current`, tx.tenantID, s.CreatedAt); err != nil {
		return err
	}
	_, err := tx.db.Exec(ctx, `
		INSERT INTO subscription_snapshots (`+snapshotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8, $9, $10, $11, $12, $13, $14)`,
		s.ID, tx.tenantID, s.PlanKey, s.IsTrial, s.IsActive, s.IsCanceled,
		s.CycleStart, s.CycleEnd, s.NextBillingDate, s.PriorNextBillingDate,
		s.ExternalSubscriptionRef, s.ExternalTransactionRef, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (tx *pgTx) Update(ctx context.Context, s Snapshot) error {
	tag, err := tx.db.Exec(ctx, `
		UPDATE subscription_snapshots SET
			plan_key = $3, is_trial = $4, is_active = $5, is_canceled = $6,
			cycle_start = $7, cycle_end = $8, next_billing_date = $9, prior_next_billing_date = $10,
			external_subscription_ref = $11, external_transaction_ref = $12, updated_at = $13
		WHERE id = $1 AND tenant_id = $2`,
		s.ID, tx.tenantID, s.PlanKey, s.IsTrial, s.IsActive, s.IsCanceled,
		s.CycleStart, s.CycleEnd, s.NextBillingDate, s.PriorNextBillingDate,
		s.ExternalSubscriptionRef, s.ExternalTransactionRef, s.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSnapshotNotFound
	}
	return nil
}

func (tx *pgTx) PutPending(ctx context.Context, t ScheduledTransition) error {
	_, err := tx.db.Exec(ctx, `
		INSERT INTO scheduled_transitions (`+pendingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id) DO UPDATE SET
			target_plan_key = EXCLUDED.target_plan_key,
			effective_at = EXCLUDED.effective_at,
			external_subscription_ref = EXCLUDED.external_subscription_ref,
			external_schedule_ref = EXCLUDED.external_schedule_ref,
			created_at = EXCLUDED.created_at`,
		tx.tenantID, t.TargetPlanKey, t.EffectiveAt, t.ExternalSubscriptionRef, t.ExternalScheduleRef, t.CreatedAt,
	)
	return err
}

func (tx *pgTx) DeletePending(ctx context.Context) error {
	_, err := tx.db.Exec(ctx, `DELETE FROM scheduled_transitions WHERE tenant_id = $1`, tx.tenantID)
	return err
}

func (tx *pgTx) AppendHistory(ctx context.Context, e HistoryEntry) error {
	_, err := tx.db.Exec(ctx, `
		INSERT INTO account_history (`+historyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, tx.tenantID, e.EventType, e.PlanKey, e.IsTrial, e.CycleStart, e.CycleEnd,
		e.WasCanceled, e.ExternalTransactionRef, e.AmountCents, e.OccurredAt,
	)
	return err
}
