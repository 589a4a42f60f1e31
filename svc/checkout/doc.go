// Package checkout builds hosted checkout sessions and owns the metadata
// schema shared with the webhook reconciler.
//
// A session carries Metadata{TenantID, PlanKey, IsTrial, ChangeKind}. The
// processor copies it onto the resulting subscription, and the reconciler
// decodes it with DecodeMetadata to decide which lifecycle operation to run.
package checkout
