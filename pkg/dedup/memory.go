package dedup

import (
	"context"
	"sync"
	"time"
)

type memoryLedger struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemory returns a process-local Ledger.
func NewMemory() Ledger {
	return &memoryLedger{entries: make(map[string]Entry), now: time.Now}
}

func (l *memoryLedger) Seen(_ context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, ErrEmptyEventID
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[eventID]
	return ok, nil
}

func (l *memoryLedger) Record(_ context.Context, eventID, eventType string) (bool, error) {
	if eventID == "" {
		return false, ErrEmptyEventID
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[eventID]; ok {
		return false, nil
	}
	l.entries[eventID] = Entry{EventID: eventID, EventType: eventType, ReceivedAt: l.now().UTC()}
	return true, nil
}
