// Package sweeper runs subscription housekeeping on a cron schedule.
//
// Reads already reconcile a tenant on access; the sweep covers tenants nobody
// looks at, so due promotions and expiries land close to their boundary. Runs
// never overlap: a tick that fires while the previous sweep is still going is
// skipped.
package sweeper
