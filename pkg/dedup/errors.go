package dedup

import "errors"

var (
	ErrEmptyEventID = errors.New("external event id is required")
	ErrLedger       = errors.New("dedup ledger unavailable")
)
