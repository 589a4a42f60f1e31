package checkout

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/dmitrymomot/adminbilling/svc/plans"
)

// ChangeKind tells the reconciler which lifecycle operation a checkout completes.
type ChangeKind string

const (
	KindSignup       ChangeKind = "signup"
	KindReactivation ChangeKind = "reactivation"
	KindPlanChange   ChangeKind = "plan_change"
)

func (k ChangeKind) Valid() bool {
	switch k {
	case KindSignup, KindReactivation, KindPlanChange:
		return true
	default:
		return false
	}
}

// Metadata keys as they appear on processor objects.
const (
	metaTenantID        = "tenant_id"
	metaTenantEmail     = "tenant_email"
	metaPlanKey         = "plan_key"
	metaIsTrial         = "is_trial"
	metaChangeKind      = "change_kind"
	metaScheduledChange = "scheduled_change"
	metaTargetPlan      = "target_plan"
)

// Metadata is the intent attached to checkout sessions, subscriptions and
// schedules. The reconciler classifies events by it, never by local state.
type Metadata struct {
	TenantID    uuid.UUID
	TenantEmail string
	PlanKey     plans.Key
	IsTrial     bool
	ChangeKind  ChangeKind
	// ScheduledChange marks subscription schedules created for a deferred plan change.
	ScheduledChange bool
}

// Encode renders m as processor metadata.
func (m Metadata) Encode() map[string]string {
	out := map[string]string{
		metaTenantID:   m.TenantID.String(),
		metaPlanKey:    string(m.PlanKey),
		metaIsTrial:    strconv.FormatBool(m.IsTrial),
		metaChangeKind: string(m.ChangeKind),
	}
	if m.TenantEmail != "" {
		out[metaTenantEmail] = m.TenantEmail
	}
	if m.ScheduledChange {
		out[metaScheduledChange] = "1"
		out[metaTargetPlan] = string(m.PlanKey)
	}
	return out
}

// DecodeMetadata parses processor metadata written by Encode.
// It fails with ErrMissingMetadata when the object carries none of our keys.
func DecodeMetadata(raw map[string]string) (Metadata, error) {
	if raw[metaTenantID] == "" && raw[metaChangeKind] == "" {
		return Metadata{}, ErrMissingMetadata
	}

	var m Metadata
	id, err := uuid.Parse(raw[metaTenantID])
	if err != nil {
		return Metadata{}, errors.Join(ErrInvalidMetadata, fmt.Errorf("tenant_id: %w", err))
	}
	m.TenantID = id
	m.TenantEmail = raw[metaTenantEmail]

	m.PlanKey = plans.Key(raw[metaPlanKey])
	if m.PlanKey == "" {
		m.PlanKey = plans.Key(raw[metaTargetPlan])
	}
	if !m.PlanKey.Valid() {
		return Metadata{}, errors.Join(ErrInvalidMetadata, fmt.Errorf("plan_key %q", m.PlanKey))
	}

	if v := raw[metaIsTrial]; v != "" {
		if m.IsTrial, err = strconv.ParseBool(v); err != nil {
			return Metadata{}, errors.Join(ErrInvalidMetadata, fmt.Errorf("is_trial: %w", err))
		}
	}

	m.ScheduledChange = raw[metaScheduledChange] == "1"
	m.ChangeKind = ChangeKind(raw[metaChangeKind])
	if m.ChangeKind == "" && m.ScheduledChange {
		m.ChangeKind = KindPlanChange
	}
	if !m.ChangeKind.Valid() {
		return Metadata{}, errors.Join(ErrInvalidMetadata, fmt.Errorf("change_kind %q", m.ChangeKind))
	}
	return m, nil
}
