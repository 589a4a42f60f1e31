// Package logger builds log/slog loggers with environment presets and
// context-aware attribute injection.
//
// The JSON or text handler is wrapped so the registered ContextExtractor
// functions run on every record. Request and tenant identifiers stored in
// the context show up without being passed explicitly:
//
//	log := logger.New(
//		logger.WithEnvironment("production", "billingd"),
//		logger.WithContextExtractors(requestid.LoggerExtractor(), logger.TenantExtractor()),
//	)
//	log.InfoContext(logger.WithTenant(ctx, tenantID), "subscription canceled", logger.PlanKey("monthly"))
//
// The attribute helpers (Error, TenantID, ExternalEventID, ...) keep key
// names consistent across packages.
package logger
