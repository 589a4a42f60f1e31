// Package reconciler applies payment processor webhooks to the subscription
// lifecycle.
//
// Every delivery is verified and parsed by a processor.WebhookParser, checked
// against a dedup.Ledger, classified by the checkout metadata attached to the
// processor objects and routed to exactly one subscription operation:
//
//	checkout.session.completed       signup or reactivation, by change_kind
//	invoice.paid / payment_succeeded payment confirmation
//	invoice.payment_failed           Notifier.PaymentFailed
//	customer.subscription.updated    promotion, cancellation or uncancel
//	subscription_schedule.completed  promotion
//	customer.subscription.deleted    cancellation at the deletion time
//
// Application errors are recorded and acknowledged. Infrastructure failures
// are not recorded and come back wrapped in ErrRetryable so the sender
// redelivers.
package reconciler
