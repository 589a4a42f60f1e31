// Package dashboard builds read-only billing views.
//
// Project composes the current subscription snapshot, the pending plan change
// and, when reachable, the live processor subscription into a View. Nothing in
// this package writes state: time-based demotions belong to
// subscription.Service.ReconcileIfDue, which callers run before reading.
//
// Revenue rolls payment history up into hourly or daily buckets, and
// ReactivationOptions lists the paid plans a tenant may check out next.
package dashboard
