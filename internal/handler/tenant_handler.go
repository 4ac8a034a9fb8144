package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"tenant-service/internal/apperr"
	"tenant-service/internal/model"
	"tenant-service/pkg/logger"
	"tenant-service/prometheus"
)

// CreateTenant registers a tenant and starts asynchronous provisioning. The
// response is 202: the tenant is pending and the caller polls its status.
func CreateTenant(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordTenantOperation("create")

	userID, ok := c.Get("user_id").(uint)
	if !ok {
		prometheus.RecordError("unauthorized_tenant_creation")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	var req struct {
		Name     string `json:"name"`
		Slug     string `json:"slug,omitempty"`
		Settings string `json:"settings,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse tenant creation request", zap.Error(err))
		prometheus.RecordError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())

	tenant, err := prov.Provision(c.Request().Context(), req.Name, req.Slug, userID)
	if err != nil {
		return renderError(c, err)
	}

	log.Info("Tenant provisioning accepted",
		zap.Uint("id", tenant.ID),
		zap.String("slug", tenant.Slug),
		zap.Uint("owner_id", userID))

	return c.JSON(http.StatusAccepted, echo.Map{
		"id":     tenant.ID,
		"slug":   tenant.Slug,
		"status": tenant.Status,
	})
}

// GetTenantStatus returns the lifecycle status of a tenant the caller
// belongs to.
func GetTenantStatus(c echo.Context) error {
	prometheus.RecordTenantOperation("status")

	userID, ok := c.Get("user_id").(uint)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid tenant ID"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	ctx := c.Request().Context()
	if _, err := reg.GetMembership(ctx, userID, uint(id)); err != nil {
		// Membership is required even for status polls; fail closed without
		// revealing whether the tenant exists.
		prometheus.RecordIsolationDenial("no_membership")
		return renderError(c, apperr.New(apperr.EForbidden, "access denied"))
	}

	tenant, err := reg.GetByID(ctx, uint(id))
	if err != nil {
		return renderError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"id":     tenant.ID,
		"slug":   tenant.Slug,
		"status": tenant.Status,
	})
}

// UpdateTenantSettings patches the tenant's free-form settings. Requires a
// managing role within the bound tenant.
func UpdateTenantSettings(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordTenantOperation("settings")

	tenantID, ok := c.Get("tenant_id").(uint)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "no tenant context"})
	}
	roleStr, _ := c.Get("user_role").(string)
	role := model.Role(roleStr)
	if !role.CanManageTenant() {
		prometheus.RecordError("insufficient_role")
		return renderError(c, apperr.New(apperr.EForbidden, "insufficient role"))
	}

	var req struct {
		Settings string `json:"settings"`
	}
	if err := c.Bind(&req); err != nil {
		prometheus.RecordError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	defer prometheus.TrackDBOperation("update")(time.Now())

	tenant, err := reg.UpdateSettings(c.Request().Context(), tenantID, req.Settings)
	if err != nil {
		return renderError(c, err)
	}

	log.Info("Tenant settings updated", zap.Uint("tenant_id", tenant.ID))
	return c.JSON(http.StatusOK, tenant)
}

// ListUserTenants returns all tenants the caller belongs to.
func ListUserTenants(c echo.Context) error {
	prometheus.RecordTenantOperation("list")

	userID, ok := c.Get("user_id").(uint)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	memberships, err := reg.ListForUser(c.Request().Context(), userID)
	if err != nil {
		return renderError(c, err)
	}

	type tenantResponse struct {
		ID        uint               `json:"id"`
		Name      string             `json:"name"`
		Slug      string             `json:"slug"`
		Status    model.TenantStatus `json:"status"`
		Role      model.Role         `json:"role"`
		IsDefault bool               `json:"is_default"`
	}

	response := make([]tenantResponse, 0, len(memberships))
	for _, m := range memberships {
		response = append(response, tenantResponse{
			ID:        m.TenantID,
			Name:      m.Tenant.Name,
			Slug:      m.Tenant.Slug,
			Status:    m.Tenant.Status,
			Role:      m.Role,
			IsDefault: m.IsDefault,
		})
	}

	return c.JSON(http.StatusOK, response)
}

// AddMember adds a user to the bound tenant. Requires a managing role.
func AddMember(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordTenantOperation("add_member")

	tenantID, ok := c.Get("tenant_id").(uint)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "no tenant context"})
	}
	roleStr, _ := c.Get("user_role").(string)
	role := model.Role(roleStr)
	if !role.CanManageTenant() {
		prometheus.RecordError("insufficient_role")
		return renderError(c, apperr.New(apperr.EForbidden, "insufficient role"))
	}

	var req struct {
		UserID uint       `json:"user_id"`
		Role   model.Role `json:"role,omitempty"`
	}
	if err := c.Bind(&req); err != nil || req.UserID == 0 {
		prometheus.RecordError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user_id is required"})
	}
	if req.Role == "" {
		req.Role = model.RoleMember
	}
	if req.Role == model.RoleOwner {
		return renderError(c, apperr.New(apperr.EForbidden, "ownership cannot be granted through membership"))
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())

	membership := model.Membership{
		UserID:   req.UserID,
		TenantID: tenantID,
		Role:     req.Role,
	}
	if err := reg.AddMembership(c.Request().Context(), &membership); err != nil {
		return renderError(c, err)
	}

	log.Info("Member added",
		zap.Uint("tenant_id", tenantID),
		zap.Uint("user_id", req.UserID),
		zap.String("role", string(req.Role)))
	return c.JSON(http.StatusCreated, membership)
}

// RemoveMember removes a user from the bound tenant. Requires a managing
// role; the owner cannot be removed.
func RemoveMember(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordTenantOperation("remove_member")

	tenantID, ok := c.Get("tenant_id").(uint)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "no tenant context"})
	}
	roleStr, _ := c.Get("user_role").(string)
	role := model.Role(roleStr)
	if !role.CanManageTenant() {
		prometheus.RecordError("insufficient_role")
		return renderError(c, apperr.New(apperr.EForbidden, "insufficient role"))
	}

	targetID, err := strconv.ParseUint(c.Param("user_id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user ID"})
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())

	if err := reg.RemoveMembership(c.Request().Context(), uint(targetID), tenantID); err != nil {
		return renderError(c, err)
	}

	log.Info("Member removed", zap.Uint("tenant_id", tenantID), zap.Uint64("user_id", targetID))
	return c.JSON(http.StatusOK, echo.Map{"message": "member removed"})
}

// SetDefaultTenant marks a tenant as the caller's default.
func SetDefaultTenant(c echo.Context) error {
	prometheus.RecordTenantOperation("set_default")

	userID, ok := c.Get("user_id").(uint)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid tenant ID"})
	}

	defer prometheus.TrackDBOperation("update")(time.Now())

	if err := reg.SetDefaultTenant(c.Request().Context(), userID, uint(id)); err != nil {
		return renderError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "default tenant set", "tenant_id": uint(id)})
}
