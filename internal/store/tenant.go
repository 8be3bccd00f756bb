package store

import "context"

type tenantKey struct{}

// WithTenant attaches an opaque tenant token to ctx. Stores pass it through to the
// unit of work unchanged.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// TenantFromContext returns the tenant token, or "" if none is set.
func TenantFromContext(ctx context.Context) string {
	if t, ok := ctx.Value(tenantKey{}).(string); ok {
		return t
	}
	return ""
}
