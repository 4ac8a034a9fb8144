package tenantctx

import (
	"context"

	"tenant-service/internal/apperr"
	"tenant-service/internal/model"
	"tenant-service/internal/registry"
)

// Resolver resolves an authenticated caller to a tenant binding. Resolution
// performs a single membership lookup and fails closed: no membership means
// forbidden, never "all tenants" or "no tenant".
type Resolver struct {
	reg *registry.Registry
}

// NewResolver creates a resolver backed by the partition registry.
func NewResolver(reg *registry.Registry) *Resolver {
	return &Resolver{reg: reg}
}

// Resolve validates that userID is an active member of tenantID and returns
// the context value to bind. A tenant that exists but is not ready yields a
// distinct error so callers can tell "not yet provisioned" from "no access".
func (r *Resolver) Resolve(ctx context.Context, userID, tenantID uint) (RequestContext, error) {
	membership, err := r.reg.GetMembership(ctx, userID, tenantID)
	if err != nil {
		if apperr.ErrCode(err) == apperr.ENotFound {
			return RequestContext{}, apperr.New(apperr.EForbidden, "no membership in this tenant")
		}
		return RequestContext{}, err
	}

	tenant, err := r.reg.GetByID(ctx, tenantID)
	if err != nil {
		return RequestContext{}, err
	}
	if tenant.Status != model.StatusReady {
		return RequestContext{}, apperr.Newf(apperr.ETenantNotReady, "tenant is %s", tenant.Status)
	}

	return RequestContext{
		TenantID:   tenant.ID,
		Slug:       tenant.Slug,
		SchemaName: tenant.SchemaName,
		Role:       membership.Role,
	}, nil
}

// ResolveDefault resolves the caller's default tenant when the request names
// none. A caller with no default tenant is rejected.
func (r *Resolver) ResolveDefault(ctx context.Context, userID uint) (RequestContext, error) {
	memberships, err := r.reg.ListForUser(ctx, userID)
	if err != nil {
		return RequestContext{}, err
	}
	for _, m := range memberships {
		if m.IsDefault {
			return r.Resolve(ctx, userID, m.TenantID)
		}
	}
	return RequestContext{}, apperr.New(apperr.EForbidden, "no default tenant")
}
