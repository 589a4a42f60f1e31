package plans

import (
	"time"

	"github.com/shopspring/decimal"
)

// Key identifies a plan. There is exactly one plan per key.
type Key string

const (
	Trial     Key = "trial"
	Monthly   Key = "monthly"
	Quarterly Key = "quarterly"
	Annual    Key = "annual"
)

// TrialDays is the fixed length of the free trial.
const TrialDays = 14

// Valid reports whether k is one of the known plan keys.
func (k Key) Valid() bool {
	switch k {
	case Trial, Monthly, Quarterly, Annual:
		return true
	default:
		return false
	}
}

func (k Key) String() string { return string(k) }

// Plan is immutable reference data.
type Plan struct {
	Key              Key
	ExternalPriceRef string // processor price id; empty for the trial
	PriceCents       int64
	DisplayText      string
}

// IsTrial reports whether the plan is the free trial.
func (p Plan) IsTrial() bool { return p.Key == Trial }

// Price returns the price in currency units.
func (p Plan) Price() decimal.Decimal {
	return decimal.New(p.PriceCents, -2)
}

// CycleEnd returns the end of a billing cycle of this plan starting at start.
func (p Plan) CycleEnd(start time.Time) time.Time {
	switch p.Key {
	case Trial:
		return start.AddDate(0, 0, TrialDays)
	case Monthly:
		return start.AddDate(0, 1, 0)
	case Quarterly:
		return start.AddDate(0, 3, 0)
	case Annual:
		return start.AddDate(1, 0, 0)
	default:
		return start
	}
}
