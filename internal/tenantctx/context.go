// Package tenantctx binds a request to exactly one tenant for the request's
// lifetime. The binding is an immutable value carried in the request context;
// there is no code path that rebinds it to a different tenant mid-request.
package tenantctx

import (
	"context"

	"tenant-service/internal/apperr"
	"tenant-service/internal/model"
)

// RequestContext is the immutable per-request tenant binding: the resolved
// tenant, its schema name, and the caller's role in it.
type RequestContext struct {
	TenantID   uint
	Slug       string
	SchemaName string
	Role       model.Role
}

type ctxKey struct{}

// Bind attaches rc to ctx. Binding is write-once: a second bind for the same
// request fails instead of silently replacing the tenant.
func Bind(ctx context.Context, rc RequestContext) (context.Context, error) {
	if _, ok := FromContext(ctx); ok {
		return ctx, apperr.New(apperr.EForbidden, "tenant context is already bound")
	}
	return context.WithValue(ctx, ctxKey{}, rc), nil
}

// FromContext returns the bound tenant context, if any.
func FromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(ctxKey{}).(RequestContext)
	return rc, ok
}

// MustFromContext returns the bound tenant context or a forbidden error. Data
// access fails closed when no tenant is bound.
func MustFromContext(ctx context.Context) (RequestContext, error) {
	rc, ok := FromContext(ctx)
	if !ok {
		return RequestContext{}, apperr.New(apperr.EForbidden, "no tenant context bound")
	}
	return rc, nil
}
