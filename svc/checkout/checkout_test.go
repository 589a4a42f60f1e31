package checkout_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/adminbilling/pkg/processor"
	"github.com/dmitrymomot/adminbilling/pkg/processor/processortest"
	"github.com/dmitrymomot/adminbilling/pkg/retry"
	"github.com/dmitrymomot/adminbilling/svc/checkout"
	"github.com/dmitrymomot/adminbilling/svc/identity"
	"github.com/dmitrymomot/adminbilling/svc/plans"
	"github.com/dmitrymomot/adminbilling/svc/subscription"
)

type fixture struct {
	checkout checkout.Service
	subs     subscription.Service
	proc     *processortest.Fake
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	catalog, err := plans.NewCatalog(plans.Defaults(plans.Config{
		MonthlyPriceRef:   "price_monthly",
		QuarterlyPriceRef: "price_quarterly",
		AnnualPriceRef:    "price_annual",
	})...)
	require.NoError(t, err)

	subs := subscription.NewService(subscription.NewMemoryStore(), catalog)
	proc := processortest.NewFake()
	svc := checkout.NewService(catalog, subs, proc,
		checkout.Config{SuccessURL: "https://app.test/ok", CancelURL: "https://app.test/cancel"},
		checkout.WithRetrier(retry.New(retry.Config{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
		}, processor.IsTransient)),
	)
	return fixture{checkout: svc, subs: subs, proc: proc}
}

func tenant() identity.Identity {
	return identity.Identity{ID: uuid.New(), Email: "owner@example.com"}
}

func TestBuildCheckout_AttachesMetadata(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	id := tenant()

	req, err := f.checkout.BuildCheckout(ctx, id, plans.Quarterly, true, checkout.KindSignup)
	require.NoError(t, err)
	assert.Equal(t, "price_quarterly", req.PriceRef)
	assert.Equal(t, plans.TrialDays, req.TrialDays)
	assert.Equal(t, "owner@example.com", req.CustomerEmail)
	assert.Empty(t, req.CustomerRef)
	assert.Equal(t, "https://app.test/ok", req.SuccessURL)

	meta, err := checkout.DecodeMetadata(req.Metadata)
	require.NoError(t, err)
	assert.Equal(t, checkout.Metadata{
		TenantID:    id.ID,
		TenantEmail: id.Email,
		PlanKey:     plans.Quarterly,
		IsTrial:     true,
		ChangeKind:  checkout.KindSignup,
	}, meta)

	id.ExternalCustomerRef = "cus_1"
	req, err = f.checkout.BuildCheckout(ctx, id, plans.Annual, false, checkout.KindReactivation)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", req.CustomerRef)
	assert.Empty(t, req.CustomerEmail)
	assert.Zero(t, req.TrialDays)
}

func TestBuildCheckout_TrialPlanUsesMonthlyPrice(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req, err := f.checkout.BuildCheckout(context.Background(), tenant(), plans.Trial, false, checkout.KindSignup)
	require.NoError(t, err)
	assert.Equal(t, "price_monthly", req.PriceRef)
	assert.Equal(t, plans.TrialDays, req.TrialDays)
	assert.Equal(t, "true", req.Metadata["is_trial"])
}

func TestBuildCheckout_TrialOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	id := tenant()

	_, err := f.subs.ApplySignup(ctx, id.ID, plans.Monthly, true, subscription.Cycle{}, subscription.Refs{})
	require.NoError(t, err)
	_, err = f.subs.ApplyCancellation(ctx, id.ID, nil)
	require.NoError(t, err)
	_, err = f.subs.ApplyReactivation(ctx, id.ID, plans.Annual, false, subscription.Refs{}, subscription.Cycle{})
	require.NoError(t, err)

	for _, key := range []plans.Key{plans.Trial, plans.Monthly, plans.Quarterly} {
		_, err = f.checkout.BuildCheckout(ctx, id, key, true, checkout.KindReactivation)
		require.ErrorIs(t, err, checkout.ErrTrialAlreadyUsed, key)
	}
}

func TestBuildCheckout_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	id := tenant()

	_, err := f.checkout.BuildCheckout(ctx, id, plans.Annual, true, checkout.KindSignup)
	require.ErrorIs(t, err, checkout.ErrTrialNotAllowed)

	_, err = f.checkout.BuildCheckout(ctx, id, plans.Key("lifetime"), false, checkout.KindSignup)
	require.ErrorIs(t, err, checkout.ErrInvalidPlan)

	_, err = f.checkout.BuildCheckout(ctx, id, plans.Monthly, false, checkout.ChangeKind("upgrade"))
	require.ErrorIs(t, err, checkout.ErrInvalidChangeKind)

	_, err = f.subs.ApplySignup(ctx, id.ID, plans.Monthly, false, subscription.Cycle{}, subscription.Refs{})
	require.NoError(t, err)
	_, err = f.checkout.BuildCheckout(ctx, id, plans.Monthly, false, checkout.KindReactivation)
	require.ErrorIs(t, err, checkout.ErrAlreadySubscribedToPlan)

	_, err = f.checkout.BuildCheckout(ctx, id, plans.Annual, false, checkout.KindPlanChange)
	require.NoError(t, err)
}

func TestCreateSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("retries transient failures", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.proc.Fail("CreateCheckoutSession", processor.ErrTransient, processor.ErrTransient)

		session, err := f.checkout.CreateSession(ctx, tenant(), plans.Monthly, false, checkout.KindSignup)
		require.NoError(t, err)
		assert.NotEmpty(t, session.URL)
		assert.Equal(t, 3, f.proc.Calls("CreateCheckoutSession"))
		require.Len(t, f.proc.Checkouts, 1)
		assert.Equal(t, "signup", f.proc.Checkouts[0].Metadata["change_kind"])
	})

	t.Run("exhausted retries surface unavailability", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.proc.Fail("CreateCheckoutSession", processor.ErrTransient, processor.ErrTransient, processor.ErrTransient)

		_, err := f.checkout.CreateSession(ctx, tenant(), plans.Monthly, false, checkout.KindSignup)
		require.ErrorIs(t, err, checkout.ErrProcessorUnavailable)
		assert.Equal(t, 3, f.proc.Calls("CreateCheckoutSession"))
	})

	t.Run("permanent failure is not retried", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.proc.Fail("CreateCheckoutSession", processor.ErrRequestFailed)

		_, err := f.checkout.CreateSession(ctx, tenant(), plans.Monthly, false, checkout.KindSignup)
		require.ErrorIs(t, err, checkout.ErrCheckoutFailed)
		assert.Equal(t, 1, f.proc.Calls("CreateCheckoutSession"))
	})
}

func TestDecodeMetadata(t *testing.T) {
	t.Parallel()
	id := uuid.New()

	_, err := checkout.DecodeMetadata(map[string]string{"source": "dashboard"})
	require.ErrorIs(t, err, checkout.ErrMissingMetadata)

	_, err = checkout.DecodeMetadata(map[string]string{"tenant_id": "nope", "change_kind": "signup"})
	require.ErrorIs(t, err, checkout.ErrInvalidMetadata)

	_, err = checkout.DecodeMetadata(map[string]string{"tenant_id": id.String(), "plan_key": "monthly", "change_kind": "signup", "is_trial": "maybe"})
	require.ErrorIs(t, err, checkout.ErrInvalidMetadata)

	scheduled := checkout.Metadata{TenantID: id, PlanKey: plans.Annual, ChangeKind: checkout.KindPlanChange, ScheduledChange: true}.Encode()
	assert.Equal(t, "1", scheduled["scheduled_change"])
	assert.Equal(t, "annual", scheduled["target_plan"])

	meta, err := checkout.DecodeMetadata(map[string]string{"tenant_id": id.String(), "target_plan": "annual", "scheduled_change": "1"})
	require.NoError(t, err)
	assert.Equal(t, checkout.KindPlanChange, meta.ChangeKind)
	assert.Equal(t, plans.Annual, meta.PlanKey)
	assert.True(t, meta.ScheduledChange)
}
