package dashboard_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/adminbilling/pkg/processor"
	"github.com/dmitrymomot/adminbilling/pkg/processor/processortest"
	"github.com/dmitrymomot/adminbilling/svc/dashboard"
	"github.com/dmitrymomot/adminbilling/svc/plans"
	"github.com/dmitrymomot/adminbilling/svc/subscription"
)

var t0 = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	dash dashboard.Service
	subs subscription.Service
	proc *processortest.Fake
	now  *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog, err := plans.NewCatalog(plans.Defaults(plans.Config{
		MonthlyPriceRef:   "price_monthly",
		QuarterlyPriceRef: "price_quarterly",
		AnnualPriceRef:    "price_annual",
	})...)
	require.NoError(t, err)

	f := &fixture{proc: processortest.NewFake()}
	now := t0
	f.now = &now
	clock := func() time.Time { return *f.now }

	f.subs = subscription.NewService(subscription.NewMemoryStore(), catalog, subscription.WithClock(clock))
	f.dash = dashboard.NewService(f.subs, catalog,
		dashboard.WithProcessor(f.proc),
		dashboard.WithProcessorTimeout(time.Second),
		dashboard.WithClock(clock),
	)
	return f
}

func TestProject_NoSubscription(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	tenant := uuid.New()

	v, err := f.dash.Project(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, subscription.StateNoSubscription, v.State)
	assert.False(t, v.IsActive)
	assert.Equal(t, dashboard.SourceLocal, v.Source)
}

func TestProject_TrialDaysRemaining(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	tenant := uuid.New()

	_, err := f.subs.ApplySignup(ctx, tenant, plans.Monthly, true, subscription.Cycle{}, subscription.Refs{})
	require.NoError(t, err)

	*f.now = t0.Add(36 * time.Hour)
	v, err := f.dash.Project(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, subscription.StateTrialing, v.State)
	assert.True(t, v.IsTrial)
	assert.True(t, v.IsActive)
	require.NotNil(t, v.DaysRemaining)
	assert.Equal(t, 13, *v.DaysRemaining)
	assert.NotEmpty(t, v.PlanDisplay)
	assert.Equal(t, dashboard.SourceLocal, v.Source)

	*f.now = t0.AddDate(0, 0, plans.TrialDays+3)
	v, err = f.dash.Project(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 0, *v.DaysRemaining)
	assert.Equal(t, subscription.StateTrialing, v.State, "expiry is housekeeping, not a read side effect")

	cur, err := f.subs.Current(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, cur.IsActive)
}

func TestProject_ScheduledPlanChange(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	tenant := uuid.New()

	snap, err := f.subs.ApplySignup(ctx, tenant, plans.Monthly, false, subscription.Cycle{}, subscription.Refs{})
	require.NoError(t, err)
	_, err = f.subs.ApplyPlanChange(ctx, tenant, plans.Annual, *snap.CycleEnd, subscription.Refs{})
	require.NoError(t, err)

	v, err := f.dash.Project(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, plans.Monthly, v.PlanKey)
	assert.Equal(t, plans.Annual, v.NextPlanKey)
	require.NotNil(t, v.NextPlanEffectiveAt)
	assert.True(t, v.NextPlanEffectiveAt.Equal(*snap.CycleEnd))
	assert.Nil(t, v.DaysRemaining)
}

func TestProject_ProcessorIsSourceOfTruth(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	tenant := uuid.New()

	_, err := f.subs.ApplySignup(ctx, tenant, plans.Monthly, false, subscription.Cycle{},
		subscription.Refs{SubscriptionRef: "sub_1"})
	require.NoError(t, err)

	end := t0.AddDate(0, 1, 2)
	f.proc.PutSubscription(processor.Subscription{
		ID:                "sub_1",
		Status:            processor.StatusActive,
		PriceRef:          "price_monthly",
		CancelAtPeriodEnd: true,
		CurrentPeriodEnd:  end,
	})

	v, err := f.dash.Project(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, dashboard.SourceProcessor, v.Source)
	assert.Equal(t, subscription.StateCancelPending, v.State)
	assert.True(t, v.IsCanceled)
	assert.True(t, v.IsActive)
	assert.Nil(t, v.NextBillingDate)
	require.NotNil(t, v.CycleEnd)
	assert.True(t, v.CycleEnd.Equal(end))

	cur, err := f.subs.Current(ctx, tenant)
	require.NoError(t, err)
	assert.False(t, cur.IsCanceled)
}

func TestProject_FallsBackToLocal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	tenant := uuid.New()

	_, err := f.subs.ApplySignup(ctx, tenant, plans.Quarterly, false, subscription.Cycle{},
		subscription.Refs{SubscriptionRef: "sub_1"})
	require.NoError(t, err)
	f.proc.Fail("GetSubscription", processor.ErrTransient)

	v, err := f.dash.Project(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, dashboard.SourceLocal, v.Source)
	assert.Equal(t, subscription.StateActive, v.State)
	assert.Equal(t, plans.Quarterly, v.PlanKey)
	assert.NotNil(t, v.NextBillingDate)
}

// gatedReader blocks Current until release is closed, then honors ctx.
type gatedReader struct {
	dashboard.SubscriptionReader
	entered chan struct{}
	release chan struct{}
}

func (g *gatedReader) Current(ctx context.Context, tenantID uuid.UUID) (subscription.Snapshot, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	if err := ctx.Err(); err != nil {
		return subscription.Snapshot{}, err
	}
	return g.SubscriptionReader.Current(ctx, tenantID)
}

func TestProject_CanceledCallerDoesNotFailOthers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	tenant := uuid.New()
	_, err := f.subs.ApplySignup(context.Background(), tenant, plans.Monthly, false, subscription.Cycle{}, subscription.Refs{})
	require.NoError(t, err)

	gate := &gatedReader{SubscriptionReader: f.subs, entered: make(chan struct{}, 1), release: make(chan struct{})}
	dash := dashboard.NewService(gate, plans.MustCatalog(plans.Defaults(plans.Config{
		MonthlyPriceRef:   "price_monthly",
		QuarterlyPriceRef: "price_quarterly",
		AnnualPriceRef:    "price_annual",
	})...), dashboard.WithClock(func() time.Time { return t0 }))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := dash.Project(firstCtx, tenant)
		first <- err
	}()
	<-gate.entered

	cancelFirst()
	select {
	case err := <-first:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled caller still waiting on the shared projection")
	}

	second := make(chan error, 1)
	var view dashboard.View
	go func() {
		var err error
		view, err = dash.Project(context.Background(), tenant)
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(gate.release)

	select {
	case err := <-second:
		require.NoError(t, err)
		assert.Equal(t, subscription.StateActive, view.State)
	case <-time.After(time.Second):
		t.Fatal("projection did not finish")
	}
}

func TestReactivationOptions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	tenant := uuid.New()

	opts, err := f.dash.ReactivationOptions(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, opts, 3)
	allowed := map[plans.Key]bool{}
	for _, o := range opts {
		allowed[o.PlanKey] = o.TrialAllowed
		assert.Positive(t, o.PriceCents)
	}
	assert.Equal(t, map[plans.Key]bool{plans.Monthly: true, plans.Quarterly: true, plans.Annual: false}, allowed)

	_, err = f.subs.ApplySignup(ctx, tenant, plans.Monthly, true, subscription.Cycle{}, subscription.Refs{})
	require.NoError(t, err)

	opts, err = f.dash.ReactivationOptions(ctx, tenant)
	require.NoError(t, err)
	for _, o := range opts {
		assert.False(t, o.TrialAllowed, o.PlanKey)
	}
}

func TestRevenue(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	pay := func(ref string, cents int64, at time.Time) {
		t.Helper()
		tenant := uuid.New()
		_, err := f.subs.ApplySignup(ctx, tenant, plans.Monthly, false, subscription.Cycle{}, subscription.Refs{})
		require.NoError(t, err)
		_, applied, err := f.subs.ApplyPaymentConfirmation(ctx, tenant, subscription.Payment{
			TransactionRef: ref,
			AmountCents:    cents,
			PaidAt:         at,
		})
		require.NoError(t, err)
		require.True(t, applied)
	}
	pay("pi_1", 2900, t0.Add(-time.Hour))
	pay("pi_1", 2900, t0.Add(-30*time.Minute))
	pay("pi_free", 0, t0.Add(-20*time.Minute))
	pay("pi_4", 7900, t0.Add(-48*time.Hour))

	day, err := f.dash.Revenue(ctx, dashboard.PeriodDay)
	require.NoError(t, err)
	require.Len(t, day.Points, 24)
	assert.Equal(t, int64(2900), day.TotalCents)
	assert.Equal(t, 1, day.Transactions)
	assert.True(t, decimal.RequireFromString("29").Equal(day.Total))
	assert.Equal(t, "11:00", day.Points[22].Label)
	assert.Equal(t, int64(2900), day.Points[22].AmountCents)

	week, err := f.dash.Revenue(ctx, dashboard.PeriodWeek)
	require.NoError(t, err)
	require.Len(t, week.Points, 7)
	assert.Equal(t, int64(10800), week.TotalCents)
	assert.Equal(t, 2, week.Transactions)
	assert.Equal(t, "Feb 27", week.Points[4].Label)
	assert.Equal(t, int64(7900), week.Points[4].AmountCents)

	month, err := f.dash.Revenue(ctx, dashboard.PeriodMonth)
	require.NoError(t, err)
	assert.Len(t, month.Points, 30)
	assert.Equal(t, int64(10800), month.TotalCents)

	_, err = f.dash.Revenue(ctx, dashboard.Period("year"))
	assert.ErrorIs(t, err, dashboard.ErrInvalidPeriod)
}

func TestParsePeriod(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want dashboard.Period
		err  error
	}{
		{"", dashboard.PeriodDay, nil},
		{"Week", dashboard.PeriodWeek, nil},
		{" month ", dashboard.PeriodMonth, nil},
		{"year", "", dashboard.ErrInvalidPeriod},
	}
	for _, tt := range tests {
		got, err := dashboard.ParsePeriod(tt.in)
		if tt.err != nil {
			assert.ErrorIs(t, err, tt.err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
