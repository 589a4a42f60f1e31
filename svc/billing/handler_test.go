package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/adminbilling/pkg/dedup"
	"github.com/dmitrymomot/adminbilling/pkg/idempotency"
	"github.com/dmitrymomot/adminbilling/pkg/processor"
	"github.com/dmitrymomot/adminbilling/pkg/processor/processortest"
	"github.com/dmitrymomot/adminbilling/pkg/processor/stripeadapter"
	"github.com/dmitrymomot/adminbilling/pkg/ratelimiter"
	"github.com/dmitrymomot/adminbilling/pkg/retry"
	"github.com/dmitrymomot/adminbilling/svc/billing"
	"github.com/dmitrymomot/adminbilling/svc/checkout"
	"github.com/dmitrymomot/adminbilling/svc/dashboard"
	"github.com/dmitrymomot/adminbilling/svc/identity"
	"github.com/dmitrymomot/adminbilling/svc/plans"
	"github.com/dmitrymomot/adminbilling/svc/reconciler"
	"github.com/dmitrymomot/adminbilling/svc/subscription"
)

const ownerEmail = "owner@acme.test"

type apiFixture struct {
	server     http.Handler
	subs       subscription.Service
	identities identity.Service
	proc       *processortest.Fake
}

func newAPI(t *testing.T, opts ...billing.HandlerOption) apiFixture {
	t.Helper()

	catalog, err := plans.NewCatalog(plans.Defaults(plans.Config{
		MonthlyPriceRef:   "price_monthly",
		QuarterlyPriceRef: "price_quarterly",
		AnnualPriceRef:    "price_annual",
	})...)
	require.NoError(t, err)

	parser, err := stripeadapter.NewParser(stripeadapter.Config{WebhookSecret: processortest.WebhookSecret})
	require.NoError(t, err)

	retrier := retry.New(retry.Config{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}, processor.IsTransient)

	proc := processortest.NewFake()
	identities := identity.NewService(identity.NewMemoryStore())
	subs := subscription.NewService(subscription.NewMemoryStore(), catalog)
	checkouts := checkout.NewService(catalog, subs, proc, checkout.Config{
		SuccessURL: "https://app.test/billing/success",
		CancelURL:  "https://app.test/billing",
	}, checkout.WithRetrier(retrier))
	dash := dashboard.NewService(subs, catalog, dashboard.WithProcessor(proc))
	webhooks := reconciler.NewService(parser, dedup.NewMemory(), identities, subs, catalog,
		reconciler.WithProcessor(proc),
		reconciler.WithRetrier(retrier),
	)

	svc := billing.NewService(billing.Deps{
		Subscriptions: subs,
		Identities:    identities,
		Checkout:      checkouts,
		Dashboard:     dash,
		Catalog:       catalog,
		Processor:     proc,
	}, billing.Config{PortalReturnURL: "https://app.test/billing"}, billing.WithRetrier(retrier))

	opts = append([]billing.HandlerOption{billing.WithIdempotency(idempotency.NewMemoryStore())}, opts...)
	h := billing.NewHandler(svc, identities, webhooks, opts...)
	return apiFixture{server: h.Routes(), subs: subs, identities: identities, proc: proc}
}

// subscribe puts the owner on the monthly plan with a processor subscription
// whose period ends in 20 days.
func (f apiFixture) subscribe(t *testing.T) (identity.Identity, time.Time) {
	t.Helper()
	ctx := context.Background()
	tenant, err := f.identities.ResolveOrCreate(ctx, ownerEmail)
	require.NoError(t, err)

	start := time.Now().UTC().Add(-10 * 24 * time.Hour).Truncate(time.Second)
	end := start.Add(30 * 24 * time.Hour)
	_, err = f.subs.ApplySignup(ctx, tenant.ID, plans.Monthly, false,
		subscription.Cycle{Start: start, End: &end},
		subscription.Refs{SubscriptionRef: "sub_1", TransactionRef: "pi_1"},
	)
	require.NoError(t, err)
	f.proc.PutSubscription(processortest.ActiveSubscription("sub_1", "cus_1", "price_monthly", start, end))
	return tenant, end
}

type envelope struct {
	OK        bool            `json:"ok"`
	Data      json.RawMessage `json:"data"`
	ErrorCode string          `json:"error_code"`
	Error     *struct {
		Code    string              `json:"code"`
		Details map[string][]string `json:"details"`
	} `json:"error"`
}

type call struct {
	method string
	path   string
	body   any
	role   billing.Role
	email  string
	key    string
}

func (f apiFixture) do(t *testing.T, c call) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	if c.email == "" {
		c.email = ownerEmail
	}
	if c.role == "" {
		c.role = billing.RoleAdmin
	}
	req.Header.Set(billing.ActorEmailHeader, c.email)
	req.Header.Set(billing.ActorRoleHeader, string(c.role))
	if c.key != "" {
		req.Header.Set(idempotency.Header, c.key)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestRequireRole(t *testing.T) {
	t.Parallel()
	f := newAPI(t)

	t.Run("missing actor", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/api/billing/dashboard", nil)
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		var env envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		assert.False(t, env.OK)
		assert.Equal(t, "UNAUTHENTICATED", env.ErrorCode)
	})

	t.Run("unknown role", func(t *testing.T) {
		t.Parallel()
		rec, env := f.do(t, call{method: http.MethodGet, path: "/api/billing/dashboard", role: "member"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "FORBIDDEN", env.ErrorCode)
	})

	t.Run("revenue is superadmin only", func(t *testing.T) {
		t.Parallel()
		rec, env := f.do(t, call{method: http.MethodGet, path: "/api/billing/revenue?period=week"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "FORBIDDEN", env.ErrorCode)

		rec, env = f.do(t, call{method: http.MethodGet, path: "/api/billing/revenue?period=week", role: billing.RoleSuperadmin})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, env.OK)

		var report dashboard.RevenueReport
		require.NoError(t, json.Unmarshal(env.Data, &report))
		assert.Equal(t, dashboard.PeriodWeek, report.Period)
		assert.Len(t, report.Points, 7)
	})

	t.Run("invalid revenue period", func(t *testing.T) {
		t.Parallel()
		rec, env := f.do(t, call{method: http.MethodGet, path: "/api/billing/revenue?period=year", role: billing.RoleSuperadmin})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", env.ErrorCode)
	})
}

func TestDashboard_NoSubscription(t *testing.T) {
	t.Parallel()
	f := newAPI(t)

	rec, env := f.do(t, call{method: http.MethodGet, path: "/api/billing/dashboard"})
	require.Equal(t, http.StatusOK, rec.Code)

	var view dashboard.View
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, subscription.StateNoSubscription, view.State)
	assert.Equal(t, dashboard.SourceLocal, view.Source)
}

func TestCancelAndUncancel(t *testing.T) {
	t.Parallel()
	f := newAPI(t)
	tenant, end := f.subscribe(t)

	rec, env := f.do(t, call{method: http.MethodPost, path: "/api/billing/uncancel"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOT_CANCELED", env.ErrorCode)

	rec, env = f.do(t, call{method: http.MethodPost, path: "/api/billing/cancel"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got struct {
		State      subscription.State `json:"state"`
		IsCanceled bool               `json:"is_canceled"`
		CycleEnd   *time.Time         `json:"cycle_end"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, subscription.StateCancelPending, got.State)
	assert.True(t, got.IsCanceled)
	require.NotNil(t, got.CycleEnd)
	assert.True(t, end.Equal(*got.CycleEnd))

	sub, ok := f.proc.Subscription("sub_1")
	require.True(t, ok)
	assert.True(t, sub.CancelAtPeriodEnd)

	// second cancel is a no-op
	rec, _ = f.do(t, call{method: http.MethodPost, path: "/api/billing/cancel"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.proc.Calls("SetCancelAtPeriodEnd"))

	rec, env = f.do(t, call{method: http.MethodPost, path: "/api/billing/uncancel"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, subscription.StateActive, got.State)

	cur, err := f.subs.Current(context.Background(), tenant.ID)
	require.NoError(t, err)
	require.NotNil(t, cur.NextBillingDate)
	assert.True(t, end.Equal(*cur.NextBillingDate))
}

func TestMutationsAreRateLimitedPerActor(t *testing.T) {
	t.Parallel()
	bucket, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), ratelimiter.Config{
		Capacity: 2, RefillRate: 1, RefillInterval: time.Hour,
	})
	require.NoError(t, err)
	f := newAPI(t, billing.WithRateLimit(bucket))
	f.subscribe(t)

	for range 2 {
		rec, _ := f.do(t, call{method: http.MethodPost, path: "/api/billing/cancel"})
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec, env := f.do(t, call{method: http.MethodPost, path: "/api/billing/uncancel"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", env.ErrorCode)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// reads are not limited
	rec, _ = f.do(t, call{method: http.MethodGet, path: "/api/billing/dashboard"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = f.do(t, call{method: http.MethodPost, path: "/api/billing/cancel", email: "ops@acme.test"})
	assert.NotEqual(t, http.StatusTooManyRequests, rec.Code, env.ErrorCode)
}

func TestCancel_ProcessorUnavailable(t *testing.T) {
	t.Parallel()
	f := newAPI(t)
	tenant, _ := f.subscribe(t)
	f.proc.Fail("SetCancelAtPeriodEnd", processor.ErrTransient, processor.ErrTransient)

	rec, env := f.do(t, call{method: http.MethodPost, path: "/api/billing/cancel"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "BILLING_BOUNDARY_UNAVAILABLE", env.ErrorCode)

	cur, err := f.subs.Current(context.Background(), tenant.ID)
	require.NoError(t, err)
	assert.False(t, cur.IsCanceled)
}

func TestCancel_IdempotentReplay(t *testing.T) {
	t.Parallel()
	f := newAPI(t)
	f.subscribe(t)

	first, _ := f.do(t, call{method: http.MethodPost, path: "/api/billing/cancel", key: "cancel-1"})
	require.Equal(t, http.StatusOK, first.Code)

	replay, _ := f.do(t, call{method: http.MethodPost, path: "/api/billing/cancel", key: "cancel-1"})
	assert.Equal(t, http.StatusOK, replay.Code)
	assert.Equal(t, "true", replay.Header().Get(idempotency.ReplayedHeader))
	assert.JSONEq(t, first.Body.String(), replay.Body.String())
	assert.Equal(t, 1, f.proc.Calls("SetCancelAtPeriodEnd"))

	rec, env := f.do(t, call{method: http.MethodPost, path: "/api/billing/uncancel", key: "cancel-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "IDEMPOTENCY_KEY_REUSED", env.ErrorCode)

	// keys are scoped per actor
	rec, env = f.do(t, call{method: http.MethodPost, path: "/api/billing/cancel", key: "cancel-1", email: "other@acme.test"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NO_ACTIVE_SUBSCRIPTION", env.ErrorCode)
}

func TestChangePlan(t *testing.T) {
	t.Parallel()

	t.Run("schedules at the period end", func(t *testing.T) {
		t.Parallel()
		f := newAPI(t)
		tenant, end := f.subscribe(t)

		rec, env := f.do(t, call{method: http.MethodPost, path: "/api/billing/change-plan", body: map[string]string{"target_plan": "annual"}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var got struct {
			NextPlanKey plans.Key `json:"next_plan_key"`
			EffectiveAt time.Time `json:"next_plan_effective_at"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, plans.Annual, got.NextPlanKey)
		assert.True(t, end.Equal(got.EffectiveAt))

		require.Len(t, f.proc.PlanChanges, 1)
		assert.Equal(t, "price_annual", f.proc.PlanChanges[0].TargetPriceRef)
		assert.Equal(t, "1", f.proc.PlanChanges[0].Metadata["scheduled_change"])

		pending, err := f.subs.Pending(context.Background(), tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, plans.Annual, pending.TargetPlanKey)
	})

	t.Run("same plan", func(t *testing.T) {
		t.Parallel()
		f := newAPI(t)
		f.subscribe(t)

		rec, env := f.do(t, call{method: http.MethodPost, path: "/api/billing/change-plan", body: map[string]string{"target_plan": "monthly"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "TRANSITION_NOT_ALLOWED", env.ErrorCode)
	})

	t.Run("schedule rejected", func(t *testing.T) {
		t.Parallel()
		f := newAPI(t)
		tenant, _ := f.subscribe(t)
		f.proc.Fail("SchedulePlanChange", processor.ErrRequestFailed)

		rec, env := f.do(t, call{method: http.MethodPost, path: "/api/billing/change-plan", body: map[string]string{"target_plan": "quarterly"}})
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "PLAN_CHANGE_SCHEDULE_FAILED", env.ErrorCode)

		_, err := f.subs.Pending(context.Background(), tenant.ID)
		assert.ErrorIs(t, err, subscription.ErrNoScheduledTransition)
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()
		f := newAPI(t)

		rec, env := f.do(t, call{method: http.MethodPost, path: "/api/billing/change-plan", body: map[string]string{}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", env.ErrorCode)
		require.NotNil(t, env.Error)
		assert.Contains(t, env.Error.Details, "target_plan")

		rec, env = f.do(t, call{method: http.MethodPost, path: "/api/billing/change-plan", body: map[string]string{"target_plan": "weekly"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_TARGET_PLAN", env.ErrorCode)
	})

	t.Run("no subscription", func(t *testing.T) {
		t.Parallel()
		f := newAPI(t)

		rec, env := f.do(t, call{method: http.MethodPost, path: "/api/billing/change-plan", body: map[string]string{"target_plan": "annual"}})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "NO_ACTIVE_SUBSCRIPTION", env.ErrorCode)
	})
}

func TestCheckout(t *testing.T) {
	t.Parallel()

	t.Run("signup", func(t *testing.T) {
		t.Parallel()
		f := newAPI(t)

		rec, env := f.do(t, call{method: http.MethodPost, path: "/api/billing/checkout", body: map[string]any{"plan_key": "monthly", "is_trial": true}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var got struct {
			SessionID string `json:"session_id"`
			URL       string `json:"url"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.NotEmpty(t, got.SessionID)
		assert.Equal(t, "https://checkout.test/"+got.SessionID, got.URL)

		require.Len(t, f.proc.Checkouts, 1)
		req := f.proc.Checkouts[0]
		assert.Equal(t, "price_monthly", req.PriceRef)
		assert.Equal(t, plans.TrialDays, req.TrialDays)
		assert.Equal(t, ownerEmail, req.CustomerEmail)
		assert.Equal(t, "signup", req.Metadata["change_kind"])
	})

	t.Run("already on the plan", func(t *testing.T) {
		t.Parallel()
		f := newAPI(t)
		f.subscribe(t)

		rec, env := f.do(t, call{method: http.MethodPost, path: "/api/billing/checkout", body: map[string]any{"plan_key": "monthly"}})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "ALREADY_SUBSCRIBED", env.ErrorCode)
	})

	t.Run("trial upgrade", func(t *testing.T) {
		t.Parallel()
		f := newAPI(t)
		tenant, err := f.identities.ResolveOrCreate(context.Background(), ownerEmail)
		require.NoError(t, err)
		_, err = f.subs.ApplySignup(context.Background(), tenant.ID, plans.Monthly, true, subscription.Cycle{}, subscription.Refs{SubscriptionRef: "sub_trial"})
		require.NoError(t, err)

		rec, _ := f.do(t, call{method: http.MethodPost, path: "/api/billing/checkout", body: map[string]any{"plan_key": "annual"}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Len(t, f.proc.Checkouts, 1)
		assert.Equal(t, "plan_change", f.proc.Checkouts[0].Metadata["change_kind"])
	})

	t.Run("trial not eligible", func(t *testing.T) {
		t.Parallel()
		f := newAPI(t)

		rec, env := f.do(t, call{method: http.MethodPost, path: "/api/billing/checkout", body: map[string]any{"plan_key": "annual", "is_trial": true}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "TRIAL_NOT_ALLOWED", env.ErrorCode)
		assert.Empty(t, f.proc.Checkouts)
	})

	t.Run("processor down", func(t *testing.T) {
		t.Parallel()
		f := newAPI(t)
		f.proc.Fail("CreateCheckoutSession", processor.ErrTransient, processor.ErrTransient)

		rec, env := f.do(t, call{method: http.MethodPost, path: "/api/billing/checkout", body: map[string]any{"plan_key": "monthly"}})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "PROCESSOR_UNAVAILABLE", env.ErrorCode)
	})
}

func TestPaymentMethodAndPortal(t *testing.T) {
	t.Parallel()

	t.Run("no customer", func(t *testing.T) {
		t.Parallel()
		f := newAPI(t)

		rec, env := f.do(t, call{method: http.MethodGet, path: "/api/billing/payment-method"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "CUSTOMER_NOT_FOUND", env.ErrorCode)

		rec, env = f.do(t, call{method: http.MethodPost, path: "/api/billing/portal"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "CUSTOMER_NOT_FOUND", env.ErrorCode)
	})

	t.Run("customer found by email", func(t *testing.T) {
		t.Parallel()
		f := newAPI(t)
		f.proc.PutCustomer(ownerEmail, "cus_42")
		f.proc.PutCard("cus_42", processor.PaymentMethod{Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030})

		rec, env := f.do(t, call{method: http.MethodGet, path: "/api/billing/payment-method"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"brand":"visa","last4":"4242","exp_month":12,"exp_year":2030}`, string(env.Data))

		tenant, err := f.identities.ResolveOrCreate(context.Background(), ownerEmail)
		require.NoError(t, err)
		assert.Equal(t, "cus_42", tenant.ExternalCustomerRef)

		rec, env = f.do(t, call{method: http.MethodPost, path: "/api/billing/portal"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"url":"https://portal.test/cus_42"}`, string(env.Data))
		assert.Equal(t, []string{"https://app.test/billing"}, f.proc.PortalReturns)
		assert.Equal(t, 1, f.proc.Calls("FindCustomerByEmail"))
	})

	t.Run("portal failure", func(t *testing.T) {
		t.Parallel()
		f := newAPI(t)
		f.proc.PutCustomer(ownerEmail, "cus_42")
		f.proc.Fail("CreatePortalSession", processor.ErrRequestFailed)

		rec, env := f.do(t, call{method: http.MethodPost, path: "/api/billing/portal"})
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "BILLING_PORTAL_UNAVAILABLE", env.ErrorCode)
	})
}

func TestReactivationOptions(t *testing.T) {
	t.Parallel()
	f := newAPI(t)

	rec, env := f.do(t, call{method: http.MethodGet, path: "/api/billing/reactivation-options"})
	require.Equal(t, http.StatusOK, rec.Code)

	var opts []dashboard.ReactivationOption
	require.NoError(t, json.Unmarshal(env.Data, &opts))
	require.Len(t, opts, 3)
	assert.Equal(t, plans.Monthly, opts[0].PlanKey)
	assert.True(t, opts[0].TrialAllowed)
	assert.False(t, opts[2].TrialAllowed)
}

func TestWebhook(t *testing.T) {
	t.Parallel()

	post := func(f apiFixture, payload []byte, sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
		req.Header.Set(billing.SignatureHeader, sig)
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		return rec
	}

	t.Run("invalid signature", func(t *testing.T) {
		t.Parallel()
		f := newAPI(t)
		payload, _ := processortest.SignedEvent(t, "evt_bad", "checkout.session.completed", map[string]any{"id": "cs_1"})

		rec := post(f, payload, "t=1,v1=deadbeef")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("checkout completed creates the subscription", func(t *testing.T) {
		t.Parallel()
		f := newAPI(t)
		tenant, err := f.identities.ResolveOrCreate(context.Background(), ownerEmail)
		require.NoError(t, err)

		payload, sig := processortest.SignedEvent(t, "evt_1", "checkout.session.completed", map[string]any{
			"id":             "cs_1",
			"object":         "checkout.session",
			"customer":       "cus_1",
			"customer_email": ownerEmail,
			"subscription":   "sub_1",
			"payment_intent": "pi_1",
			"amount_total":   2900,
			"metadata": checkout.Metadata{
				TenantID:   tenant.ID,
				PlanKey:    plans.Monthly,
				ChangeKind: checkout.KindSignup,
			}.Encode(),
		})

		rec := post(f, payload, sig)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"received":true,"outcome":"applied"}`, rec.Body.String())

		rec = post(f, payload, sig)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"received":true,"outcome":"duplicate"}`, rec.Body.String())

		_, env := f.do(t, call{method: http.MethodGet, path: "/api/billing/dashboard"})
		var view dashboard.View
		require.NoError(t, json.Unmarshal(env.Data, &view))
		assert.Equal(t, subscription.StateActive, view.State)
		assert.Equal(t, plans.Monthly, view.PlanKey)
	})

	t.Run("unrelated event is acknowledged", func(t *testing.T) {
		t.Parallel()
		f := newAPI(t)
		payload, sig := processortest.SignedEvent(t, "evt_2", "customer.created", map[string]any{"id": "cus_1", "object": "customer"})

		rec := post(f, payload, sig)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"received":true,"outcome":"ignored"}`, rec.Body.String())
	})
}
