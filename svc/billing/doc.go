// Package billing is the tenant-facing billing API.
//
// Service composes the subscription state machine, the checkout orchestrator
// and the dashboard projector behind the operations an admin performs:
// cancel, uncancel, plan change, checkout, payment method lookup, the billing
// portal and the dashboard reads. Handler exposes them over HTTP:
//
//	POST /api/billing/cancel
//	POST /api/billing/uncancel
//	POST /api/billing/change-plan        {"target_plan": "annual"}
//	POST /api/billing/checkout           {"plan_key": "monthly", "is_trial": true}
//	POST /api/billing/portal
//	GET  /api/billing/payment-method
//	GET  /api/billing/dashboard
//	GET  /api/billing/reactivation-options
//	GET  /api/billing/revenue?period=day|week|month   (superadmin)
//	POST /webhooks/stripe
//
// The caller is identified by the X-Actor-Email and X-Actor-Role headers set
// by the authenticating proxy. Every response uses Envelope; failures carry a
// stable code from the error catalog (see Classify). Mutating routes honor the
// Idempotency-Key header when WithIdempotency is configured and are limited
// per actor when WithRateLimit is.
package billing
