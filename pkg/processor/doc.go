// Package processor defines the payment processor boundary used by the
// billing services: the outbound Processor interface, the inbound
// WebhookParser, and vendor-neutral value types.
//
// Vendor adapters live in sub-packages (see processor/stripe). Every adapter
// maps vendor failures onto this package's sentinel errors; callers classify
// them with errors.Is and IsTransient rather than inspecting vendor types.
package processor
