// Package stripeadapter implements the processor boundary on Stripe using
// stripe-go's client API. The *stripe.Client is owned by the Adapter; nothing
// in this package touches the SDK's package-level key.
//
// Webhook objects are decoded into local structs rather than SDK types so
// that events rendered under both older and newer API versions parse: the
// subscription reference on invoices and the billing period on
// subscriptions moved between versions.
package stripeadapter
