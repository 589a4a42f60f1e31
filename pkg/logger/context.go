package logger

import (
	"context"
	"log/slog"
)

type tenantKey struct{}

// WithTenant stores the tenant id in ctx so that TenantExtractor can attach it to records.
func WithTenant(ctx context.Context, tenantID any) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantExtractor returns a ContextExtractor emitting "tenant_id".
func TenantExtractor() ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if v := ctx.Value(tenantKey{}); v != nil {
			return TenantID(v), true
		}
		return slog.Attr{}, false
	}
}
