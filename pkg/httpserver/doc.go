// Package httpserver runs the billing HTTP surface with graceful shutdown and
// health probes.
//
// Run serves a handler until its context is canceled and then drains
// in-flight requests, bounded by the shutdown timeout, before returning.
// Drain hooks run once the listener is closed:
//
//	srv := httpserver.NewFromConfig(cfg.HTTP,
//		httpserver.WithLogger(log),
//		httpserver.WithDrainHook(func() { <-sweeper.Stop().Done() }),
//	)
//	if err := srv.Run(ctx, router); err != nil {
//		log.Error("server failed", logger.Error(err))
//	}
//
// Liveness and Readiness build the /healthz and /readyz handlers. Readiness
// checks run concurrently so one slow dependency does not hide the others.
package httpserver
