package subscription

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type tenantRecords struct {
	snapshots []Snapshot
	pending   *ScheduledTransition
	history   []HistoryEntry
}

func (r *tenantRecords) clone() *tenantRecords {
	out := &tenantRecords{
		snapshots: slices.Clone(r.snapshots),
		history:   slices.Clone(r.history),
	}
	if r.pending != nil {
		p := *r.pending
		out.pending = &p
	}
	return out
}

func (r *tenantRecords) current() (Snapshot, bool) {
	for i := len(r.snapshots) - 1; i >= 0; i-- {
		if r.snapshots[i].IsCurrent {
			return r.snapshots[i], true
		}
	}
	return Snapshot{}, false
}

type memoryStore struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID]*tenantRecords
	locks   map[uuid.UUID]*sync.Mutex
	events  map[string]string
}

// NewMemoryStore returns a Store that keeps everything in process memory.
// Writes are staged on a copy and published only when fn succeeds.
func NewMemoryStore() Store {
	return &memoryStore{
		tenants: make(map[uuid.UUID]*tenantRecords),
		locks:   make(map[uuid.UUID]*sync.Mutex),
		events:  make(map[string]string),
	}
}

func (s *memoryStore) tenantLock(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *memoryStore) records(id uuid.UUID) *tenantRecords {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.tenants[id]; ok {
		return r.clone()
	}
	return &tenantRecords{}
}

func (s *memoryStore) WithTenantLock(ctx context.Context, tenantID uuid.UUID, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := s.tenantLock(tenantID)
	l.Lock()
	defer l.Unlock()

	claim, hasClaim := pendingClaim(ctx)
	if hasClaim && s.eventRecorded(claim.event.ID) {
		return ErrEventAlreadyApplied
	}

	tx := &memoryTx{tenantID: tenantID, rec: s.records(tenantID)}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if hasClaim {
		// another tenant's writer may have recorded the id meanwhile
		if _, ok := s.events[claim.event.ID]; ok {
			return ErrEventAlreadyApplied
		}
		s.events[claim.event.ID] = claim.event.Type
		claim.claimed = true
	}
	s.tenants[tenantID] = tx.rec
	return nil
}

func (s *memoryStore) eventRecorded(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.events[id]
	return ok
}

func (s *memoryStore) Current(_ context.Context, tenantID uuid.UUID) (Snapshot, error) {
	cur, ok := s.records(tenantID).current()
	if !ok {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return cur, nil
}

func (s *memoryStore) Snapshots(_ context.Context, tenantID uuid.UUID) ([]Snapshot, error) {
	return s.records(tenantID).snapshots, nil
}

func (s *memoryStore) Pending(_ context.Context, tenantID uuid.UUID) (ScheduledTransition, error) {
	rec := s.records(tenantID)
	if rec.pending == nil {
		return ScheduledTransition{}, ErrNoScheduledTransition
	}
	return *rec.pending, nil
}

func (s *memoryStore) History(_ context.Context, tenantID uuid.UUID) ([]HistoryEntry, error) {
	return s.records(tenantID).history, nil
}

func (s *memoryStore) HasTrialHistory(_ context.Context, tenantID uuid.UUID) (bool, error) {
	return hasTrial(s.records(tenantID).history), nil
}

func (s *memoryStore) Payments(_ context.Context, from, to time.Time) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []HistoryEntry
	for _, rec := range s.tenants {
		for _, e := range rec.history {
			if e.EventType == HistoryPaymentSucceeded && !e.OccurredAt.Before(from) && e.OccurredAt.Before(to) {
				out = append(out, e)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (s *memoryStore) DueTenants(_ context.Context, now, trialCutoff time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []uuid.UUID
	for id, rec := range s.tenants {
		if limit > 0 && len(out) >= limit {
			break
		}
		if rec.pending != nil && rec.pending.Due(now) {
			out = append(out, id)
			continue
		}
		cur, ok := rec.current()
		if ok && expirable(cur, now, trialCutoff) {
			out = append(out, id)
		}
	}
	return out, nil
}

type memoryTx struct {
	tenantID uuid.UUID
	rec      *tenantRecords
}

func (tx *memoryTx) Current(_ context.Context) (Snapshot, bool, error) {
	cur, ok := tx.rec.current()
	return cur, ok, nil
}

func (tx *memoryTx) Pending(_ context.Context) (ScheduledTransition, bool, error) {
	if tx.rec.pending == nil {
		return ScheduledTransition{}, false, nil
	}
	return *tx.rec.pending, true, nil
}

func (tx *memoryTx) HasPayment(_ context.Context, ref string) (bool, error) {
	for _, e := range tx.rec.history {
		if e.EventType == HistoryPaymentSucceeded && e.ExternalTransactionRef == ref {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) HasTrialHistory(_ context.Context) (bool, error) {
	return hasTrial(tx.rec.history), nil
}

func (tx *memoryTx) Insert(_ context.Context, snap Snapshot) error {
	for i := range tx.rec.snapshots {
		tx.rec.snapshots[i].IsCurrent = false
	}
	snap.IsCurrent = true
	tx.rec.snapshots = append(tx.rec.snapshots, snap)
	return nil
}

func (tx *memoryTx) Update(_ context.Context, snap Snapshot) error {
	for i := range tx.rec.snapshots {
		if tx.rec.snapshots[i].ID == snap.ID {
			snap.IsCurrent = tx.rec.snapshots[i].IsCurrent
			tx.rec.snapshots[i] = snap
			return nil
		}
	}
	return ErrSnapshotNotFound
}

func (tx *memoryTx) PutPending(_ context.Context, t ScheduledTransition) error {
	t.TenantID = tx.tenantID
	tx.rec.pending = &t
	return nil
}

func (tx *memoryTx) DeletePending(_ context.Context) error {
	tx.rec.pending = nil
	return nil
}

func (tx *memoryTx) AppendHistory(_ context.Context, e HistoryEntry) error {
	tx.rec.history = append(tx.rec.history, e)
	return nil
}

func hasTrial(history []HistoryEntry) bool {
	for _, e := range history {
		if e.IsTrial && (e.EventType == HistorySignup || e.EventType == HistoryReactivate) {
			return true
		}
	}
	return false
}

// expirable reports whether the current snapshot should be expired by housekeeping.
func expirable(cur Snapshot, now, trialCutoff time.Time) bool {
	if !cur.IsActive || cur.CycleEnd == nil {
		return false
	}
	if cur.IsCanceled {
		return !cur.CycleEnd.After(now)
	}
	return cur.IsTrial && !cur.CycleEnd.After(trialCutoff)
}
