package handler

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"tenant-service/internal/apperr"
	"tenant-service/internal/lifecycle"
	"tenant-service/internal/provision"
	"tenant-service/internal/registry"
	"tenant-service/pkg/logger"
	"tenant-service/prometheus"
)

var (
	reg  *registry.Registry
	prov *provision.Provisioner
	orch *lifecycle.Orchestrator
)

// Init wires the handlers to their services. Called once from main before
// routes are registered.
func Init(r *registry.Registry, p *provision.Provisioner, o *lifecycle.Orchestrator) {
	reg = r
	prov = p
	orch = o
}

// renderError maps an error to the control API's error envelope. Validation,
// conflict, not-found, forbidden and rate-limit errors surface their code and
// message; anything internal becomes a generic failure plus the request id as
// correlation identifier, with the cause only in the server logs.
func renderError(c echo.Context, err error) error {
	log := logger.FromEcho(c)
	code := apperr.ErrCode(err)

	if code == apperr.EInternal {
		requestID, _ := c.Get("X-Request-ID").(string)
		log.Error("Internal error", zap.Error(err), zap.String("correlation_id", requestID))
		prometheus.RecordError("internal")
		return c.JSON(apperr.HTTPStatus(err), echo.Map{
			"error":          "an internal error occurred",
			"code":           code,
			"correlation_id": requestID,
		})
	}

	prometheus.RecordError(code)
	return c.JSON(apperr.HTTPStatus(err), echo.Map{
		"error": apperr.ErrMessage(err),
		"code":  code,
	})
}
