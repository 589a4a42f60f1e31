package dedup

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/adminbilling/pkg/pg"
)

type pgLedger struct {
	db pg.DBTX
}

// NewPostgres returns a Ledger backed by the external_events table.
// It is the system of record; entries never expire.
func NewPostgres(pool *pgxpool.Pool) Ledger {
	return &pgLedger{db: pool}
}

func (l *pgLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, ErrEmptyEventID
	}
	var exists bool
	err := l.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM external_events WHERE external_event_id = $1)`, eventID,
	).Scan(&exists)
	if err != nil {
		return false, errors.Join(ErrLedger, err)
	}
	return exists, nil
}

func (l *pgLedger) Record(ctx context.Context, eventID, eventType string) (bool, error) {
	if eventID == "" {
		return false, ErrEmptyEventID
	}
	tag, err := l.db.Exec(ctx, `
		INSERT INTO external_events (external_event_id, event_type, received_at)
		VALUES ($1, $2, now())
		ON CONFLICT (external_event_id) DO NOTHING`, eventID, eventType)
	if err != nil {
		return false, errors.Join(ErrLedger, err)
	}
	return tag.RowsAffected() == 1, nil
}
