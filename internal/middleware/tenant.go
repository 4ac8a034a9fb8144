package middleware

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"tenant-service/internal/apperr"
	"tenant-service/internal/tenantctx"
	"tenant-service/pkg/logger"
	"tenant-service/prometheus"
)

// RequireTenantContext resolves the caller's tenant, verifies membership, and
// binds the immutable tenant context for the remaining lifetime of the
// request. It runs after AuthMiddleware; every data-access call downstream is
// implicitly scoped by the binding. Resolution fails closed.
func RequireTenantContext(resolver *tenantctx.Resolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromEcho(c)

			userID, ok := c.Get("user_id").(uint)
			if !ok {
				log.Error("Failed to get user ID from context")
				prometheus.RecordIsolationDenial("unauthenticated")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required", "code": apperr.EUnauthorized})
			}

			rc, err := resolveTarget(c, resolver, userID)
			if err != nil {
				code := apperr.ErrCode(err)
				switch code {
				case apperr.EForbidden:
					prometheus.RecordIsolationDenial("no_membership")
				case apperr.ETenantNotReady:
					prometheus.RecordIsolationDenial("not_ready")
				default:
					prometheus.RecordError("tenant_resolution_failed")
				}
				log.Warn("Tenant resolution rejected",
					zap.Uint("user_id", userID),
					zap.String("code", code))
				return c.JSON(apperr.HTTPStatus(err), echo.Map{"error": apperr.ErrMessage(err), "code": code})
			}

			ctx, err := tenantctx.Bind(c.Request().Context(), rc)
			if err != nil {
				log.Error("Tenant context rebind attempt", zap.Uint("tenant_id", rc.TenantID))
				prometheus.RecordError("context_rebind")
				return c.JSON(http.StatusForbidden, echo.Map{"error": "tenant context is already bound", "code": apperr.EForbidden})
			}
			c.SetRequest(c.Request().WithContext(ctx))

			c.Set("tenant_id", rc.TenantID)
			c.Set("tenant_slug", rc.Slug)
			c.Set("user_role", string(rc.Role))

			log.Debug("Request bound to tenant",
				zap.Uint("tenant_id", rc.TenantID),
				zap.String("slug", rc.Slug),
				zap.String("role", string(rc.Role)))

			return next(c)
		}
	}
}

// resolveTarget picks the tenant to bind: an explicit :id path parameter when
// present, otherwise the tenant carried in the token, otherwise the user's
// default tenant.
func resolveTarget(c echo.Context, resolver *tenantctx.Resolver, userID uint) (tenantctx.RequestContext, error) {
	ctx := c.Request().Context()

	if param := c.Param("id"); param != "" {
		id, err := strconv.ParseUint(param, 10, 32)
		if err != nil {
			return tenantctx.RequestContext{}, apperr.New(apperr.EInvalid, "invalid tenant ID")
		}
		return resolver.Resolve(ctx, userID, uint(id))
	}

	if tokenTenant, ok := c.Get("token_tenant_id").(uint); ok {
		return resolver.Resolve(ctx, userID, tokenTenant)
	}

	return resolver.ResolveDefault(ctx, userID)
}
