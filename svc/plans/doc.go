// Package plans is the plan catalog: immutable reference data keyed by plan
// key and by processor price reference.
package plans
