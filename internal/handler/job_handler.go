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

// RequestExport starts an export job for the tenant in the path. Requires a
// managing role; at most one export per tenant per cooldown window.
func RequestExport(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordTenantOperation("export")

	userID, ok := c.Get("user_id").(uint)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}
	email, _ := c.Get("email").(string)

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid tenant ID"})
	}

	ctx := c.Request().Context()
	membership, err := reg.GetMembership(ctx, userID, uint(id))
	if err != nil {
		prometheus.RecordIsolationDenial("no_membership")
		return renderError(c, apperr.New(apperr.EForbidden, "access denied"))
	}
	if !membership.Role.CanManageTenant() {
		prometheus.RecordError("insufficient_role")
		return renderError(c, apperr.New(apperr.EForbidden, "insufficient role"))
	}

	job, err := orch.RequestExport(ctx, uint(id), userID, email)
	if err != nil {
		return renderError(c, err)
	}

	log.Info("Export requested",
		zap.Uint64("tenant_id", id),
		zap.String("job_id", job.ID),
		zap.Uint("requested_by", userID))

	return c.JSON(http.StatusAccepted, echo.Map{"job_id": job.ID, "status": job.Status})
}

// RequestDeletion starts the deletion job for the tenant in the path. Only
// the owner may delete a tenant, the exact tenant name must be typed as
// confirmation, and a fresh reauthentication token is required.
func RequestDeletion(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordTenantOperation("delete")

	userID, ok := c.Get("user_id").(uint)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}
	email, _ := c.Get("email").(string)

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid tenant ID"})
	}

	var req struct {
		ConfirmationName string `json:"confirmation_name"`
		ReauthToken      string `json:"reauth_token"`
	}
	if err := c.Bind(&req); err != nil {
		prometheus.RecordError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	ctx := c.Request().Context()
	membership, err := reg.GetMembership(ctx, userID, uint(id))
	if err != nil {
		prometheus.RecordIsolationDenial("no_membership")
		return renderError(c, apperr.New(apperr.EForbidden, "access denied"))
	}
	if membership.Role != model.RoleOwner {
		prometheus.RecordError("insufficient_role")
		return renderError(c, apperr.New(apperr.EForbidden, "only the owner can delete a tenant"))
	}

	job, err := orch.RequestDeletion(ctx, uint(id), userID, email, req.ConfirmationName, req.ReauthToken)
	if err != nil {
		return renderError(c, err)
	}

	log.Info("Deletion requested",
		zap.Uint64("tenant_id", id),
		zap.String("job_id", job.ID),
		zap.Uint("requested_by", userID))

	return c.JSON(http.StatusAccepted, echo.Map{"job_id": job.ID, "status": job.Status})
}

// GetJob returns the status of a lifecycle job. Visible to members of the
// job's tenant; deletion jobs stay visible to the requester after the
// memberships are gone.
func GetJob(c echo.Context) error {
	prometheus.RecordTenantOperation("job_status")

	userID, ok := c.Get("user_id").(uint)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	ctx := c.Request().Context()
	job, err := orch.GetJob(ctx, c.Param("id"))
	if err != nil {
		return renderError(c, err)
	}

	if job.RequestedBy != userID {
		if _, err := reg.GetMembership(ctx, userID, job.TenantID); err != nil {
			prometheus.RecordIsolationDenial("no_membership")
			return renderError(c, apperr.New(apperr.EForbidden, "access denied"))
		}
	}

	resp := echo.Map{
		"job_id":   job.ID,
		"kind":     job.Kind,
		"status":   job.Status,
		"progress": job.Progress,
	}
	if job.Status != model.JobProcessing {
		resp["result"] = job.Result
	}
	return c.JSON(http.StatusOK, resp)
}
