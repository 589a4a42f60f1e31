package dedup

import (
	"context"
	"time"
)

// Ledger remembers processed external event ids.
type Ledger interface {
	// Seen reports whether eventID has been recorded.
	Seen(ctx context.Context, eventID string) (bool, error)
	// Record marks eventID as processed. It reports false when it was already recorded.
	Record(ctx context.Context, eventID, eventType string) (bool, error)
}

// Entry is one recorded event.
type Entry struct {
	EventID    string
	EventType  string
	ReceivedAt time.Time
}
