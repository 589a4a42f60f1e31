package dedup

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/adminbilling/pkg/logger"
)

type layered struct {
	primary Ledger
	cache   Ledger
	log     *slog.Logger
}

// NewLayered consults cache before primary and writes through to both.
// Cache failures are logged and ignored; primary decides.
func NewLayered(primary, cache Ledger, log *slog.Logger) Ledger {
	if primary == nil {
		panic("dedup: primary ledger is required")
	}
	if cache == nil {
		return primary
	}
	if log == nil {
		log = logger.Discard()
	}
	return &layered{primary: primary, cache: cache, log: log}
}

func (l *layered) Seen(ctx context.Context, eventID string) (bool, error) {
	if hit, err := l.cache.Seen(ctx, eventID); err == nil && hit {
		return true, nil
	} else if err != nil {
		l.warn(ctx, eventID, err)
	}
	return l.primary.Seen(ctx, eventID)
}

func (l *layered) Record(ctx context.Context, eventID, eventType string) (bool, error) {
	fresh, err := l.primary.Record(ctx, eventID, eventType)
	if err != nil {
		return false, err
	}
	if _, err := l.cache.Record(ctx, eventID, eventType); err != nil {
		l.warn(ctx, eventID, err)
	}
	return fresh, nil
}

func (l *layered) warn(ctx context.Context, eventID string, err error) {
	l.log.WarnContext(ctx, "dedup cache unavailable",
		logger.Component("dedup"),
		logger.ExternalEventID(eventID),
		logger.Error(err),
	)
}
