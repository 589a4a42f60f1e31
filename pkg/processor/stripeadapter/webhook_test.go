package stripeadapter_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/adminbilling/pkg/processor"
	"github.com/dmitrymomot/adminbilling/pkg/processor/processortest"
	"github.com/dmitrymomot/adminbilling/pkg/processor/stripeadapter"
)

func newParser(t *testing.T) *stripeadapter.Parser {
	t.Helper()
	p, err := stripeadapter.NewParser(stripeadapter.Config{
		WebhookSecret:            processortest.WebhookSecret,
		IgnoreAPIVersionMismatch: true,
	})
	require.NoError(t, err)
	return p
}

func TestNewParser_RequiresSecret(t *testing.T) {
	t.Parallel()
	_, err := stripeadapter.NewParser(stripeadapter.Config{})
	require.ErrorIs(t, err, processor.ErrMissingWebhookKey)
}

func TestParseWebhook_Signature(t *testing.T) {
	t.Parallel()
	p := newParser(t)
	payload, header := processortest.SignedEvent(t, "evt_1", "customer.created", map[string]any{"id": "cus_1"})

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		evt, err := p.ParseWebhook(payload, header)
		require.NoError(t, err)
		assert.Equal(t, "evt_1", evt.ID)
		assert.Equal(t, processor.EventType("customer.created"), evt.Type)
		assert.Nil(t, evt.Checkout)
	})

	t.Run("tampered payload", func(t *testing.T) {
		t.Parallel()
		tampered := append([]byte{}, payload...)
		tampered[len(tampered)-2] = ' '
		_, err := p.ParseWebhook(tampered, header)
		require.ErrorIs(t, err, processor.ErrInvalidSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		t.Parallel()
		_, err := p.ParseWebhook(payload, "")
		require.ErrorIs(t, err, processor.ErrInvalidSignature)
	})
}

func TestParseWebhook_CheckoutCompleted(t *testing.T) {
	t.Parallel()
	p := newParser(t)
	payload, header := processortest.SignedEvent(t, "evt_cs", "checkout.session.completed", map[string]any{
		"id":               "cs_1",
		"customer":         "cus_1",
		"subscription":     map[string]any{"id": "sub_1", "object": "subscription"},
		"customer_details": map[string]any{"email": "owner@example.com"},
		"invoice":          "in_1",
		"amount_total":     2999,
		"metadata":         map[string]string{"tenant_id": "t-1", "plan_key": "monthly"},
	})

	evt, err := p.ParseWebhook(payload, header)
	require.NoError(t, err)
	require.NotNil(t, evt.Checkout)
	assert.Equal(t, "cus_1", evt.Checkout.CustomerRef)
	assert.Equal(t, "sub_1", evt.Checkout.SubscriptionRef)
	assert.Equal(t, "owner@example.com", evt.Checkout.CustomerEmail)
	assert.Equal(t, "in_1", evt.Checkout.PaymentRef)
	assert.Equal(t, int64(2999), evt.Checkout.AmountTotal)
	assert.Equal(t, "monthly", evt.Checkout.Metadata["plan_key"])
}

func TestParseWebhook_InvoicePaid(t *testing.T) {
	t.Parallel()
	p := newParser(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	t.Run("current layout", func(t *testing.T) {
		t.Parallel()
		payload, header := processortest.SignedEvent(t, "evt_in", "invoice.paid", map[string]any{
			"id":          "in_1",
			"customer":    "cus_1",
			"amount_paid": 2999,
			"created":     start.Unix(),
			"parent": map[string]any{
				"subscription_details": map[string]any{
					"subscription": "sub_1",
					"metadata":     map[string]string{"tenant_id": "t-1"},
				},
			},
			"status_transitions": map[string]any{"paid_at": start.Add(time.Hour).Unix()},
			"lines": map[string]any{"data": []any{map[string]any{
				"period":  map[string]any{"start": start.Unix(), "end": end.Unix()},
				"pricing": map[string]any{"price_details": map[string]any{"price": "price_monthly"}},
			}}},
		})

		evt, err := p.ParseWebhook(payload, header)
		require.NoError(t, err)
		require.NotNil(t, evt.Invoice)
		inv := evt.Invoice
		assert.Equal(t, "sub_1", inv.SubscriptionRef)
		assert.Equal(t, "t-1", inv.Metadata["tenant_id"])
		assert.Equal(t, "price_monthly", inv.PriceRef)
		assert.True(t, inv.PeriodEnd.Equal(end))
		assert.True(t, inv.PaidAt.Equal(start.Add(time.Hour)))
		assert.Equal(t, "in_1", inv.TransactionRef())
	})

	t.Run("legacy layout", func(t *testing.T) {
		t.Parallel()
		payload, header := processortest.SignedEvent(t, "evt_in_legacy", "invoice.paid", map[string]any{
			"id":             "in_2",
			"customer":       "cus_1",
			"subscription":   "sub_2",
			"payment_intent": "pi_2",
			"amount_paid":    7999,
			"created":        start.Unix(),
			"lines": map[string]any{"data": []any{map[string]any{
				"period": map[string]any{"start": start.Unix(), "end": end.Unix()},
				"price":  map[string]any{"id": "price_quarterly"},
			}}},
		})

		evt, err := p.ParseWebhook(payload, header)
		require.NoError(t, err)
		inv := evt.Invoice
		assert.Equal(t, "sub_2", inv.SubscriptionRef)
		assert.Equal(t, "pi_2", inv.TransactionRef())
		assert.Equal(t, "price_quarterly", inv.PriceRef)
		assert.True(t, inv.PaidAt.Equal(start), "paid_at falls back to created")
	})
}

func TestParseWebhook_SubscriptionUpdated(t *testing.T) {
	t.Parallel()
	p := newParser(t)
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	payload, header := processortest.SignedEvent(t, "evt_sub", "customer.subscription.updated", map[string]any{
		"id":                   "sub_1",
		"customer":             "cus_1",
		"status":               "active",
		"cancel_at_period_end": true,
		"schedule":             "sub_sched_1",
		"metadata":             map[string]string{"scheduled_change": "1"},
		"items": map[string]any{"data": []any{map[string]any{
			"current_period_start": end.AddDate(0, -1, 0).Unix(),
			"current_period_end":   end.Unix(),
			"price":                map[string]any{"id": "price_annual"},
		}}},
	})

	evt, err := p.ParseWebhook(payload, header)
	require.NoError(t, err)
	require.NotNil(t, evt.Subscription)
	sub := evt.Subscription
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, processor.StatusActive, sub.Status)
	assert.Equal(t, "price_annual", sub.PriceRef)
	assert.Equal(t, "sub_sched_1", sub.ScheduleRef)
	assert.True(t, sub.CurrentPeriodEnd.Equal(end))
}

func TestParseWebhook_MalformedObject(t *testing.T) {
	t.Parallel()
	p := newParser(t)
	payload, header := processortest.SignedEvent(t, "evt_bad", "invoice.paid", map[string]any{
		"id":          "in_1",
		"amount_paid": "not-a-number",
	})
	_, err := p.ParseWebhook(payload, header)
	require.ErrorIs(t, err, processor.ErrMalformedEvent)
}

func TestParseWebhook_InvoicePaymentFailed(t *testing.T) {
	t.Parallel()
	p := newParser(t)
	payload, header := processortest.SignedEvent(t, "evt_fail", "invoice.payment_failed", map[string]any{
		"id":          "in_3",
		"object":      "invoice",
		"customer":    map[string]any{"id": "cus_1", "object": "customer"},
		"amount_due":  2999,
		"amount_paid": 0,
		"payments": map[string]any{"data": []any{map[string]any{
			"id":      "inpay_1",
			"payment": map[string]any{"type": "payment_intent", "payment_intent": "pi_3"},
		}}},
	})

	evt, err := p.ParseWebhook(payload, header)
	require.NoError(t, err)
	require.NotNil(t, evt.Invoice)
	assert.Equal(t, "cus_1", evt.Invoice.CustomerRef)
	assert.Equal(t, int64(2999), evt.Invoice.AmountDue)
	assert.Zero(t, evt.Invoice.AmountPaid)
	assert.Equal(t, "pi_3", evt.Invoice.TransactionRef())
}

func TestParseWebhook_SubscriptionLegacyPeriod(t *testing.T) {
	t.Parallel()
	p := newParser(t)
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	payload, header := processortest.SignedEvent(t, "evt_sub_legacy", "customer.subscription.deleted", map[string]any{
		"id":                   "sub_1",
		"status":               "canceled",
		"current_period_start": end.AddDate(0, -1, 0).Unix(),
		"current_period_end":   end.Unix(),
		"items": map[string]any{"data": []any{map[string]any{
			"price": map[string]any{"id": "price_monthly"},
		}}},
	})

	evt, err := p.ParseWebhook(payload, header)
	require.NoError(t, err)
	require.NotNil(t, evt.Subscription)
	assert.Equal(t, "price_monthly", evt.Subscription.PriceRef)
	assert.True(t, evt.Subscription.CurrentPeriodEnd.Equal(end))
	assert.True(t, evt.Subscription.CurrentPeriodStart.Equal(end.AddDate(0, -1, 0)))
}

func TestParseWebhook_ScheduleCompleted(t *testing.T) {
	t.Parallel()
	p := newParser(t)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	payload, header := processortest.SignedEvent(t, "evt_sched", "subscription_schedule.completed", map[string]any{
		"id":           "sub_sched_1",
		"object":       "subscription_schedule",
		"subscription": "sub_1",
		"customer":     "cus_1",
		"metadata":     map[string]string{"scheduled_change": "1"},
		"current_phase": map[string]any{
			"start_date": start.Unix(),
			"end_date":   start.AddDate(1, 0, 0).Unix(),
		},
	})

	evt, err := p.ParseWebhook(payload, header)
	require.NoError(t, err)
	require.NotNil(t, evt.Subscription)
	sub := evt.Subscription
	assert.Equal(t, "sub_1", sub.ID)
	assert.Equal(t, "sub_sched_1", sub.ScheduleRef)
	assert.Equal(t, "cus_1", sub.CustomerRef)
	assert.True(t, sub.CurrentPeriodEnd.Equal(start.AddDate(1, 0, 0)))
}
