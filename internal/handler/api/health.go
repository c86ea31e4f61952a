package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	xhttp "TriggerHub/pkg/http"
	xlogger "TriggerHub/pkg/logger"
)

// HealthCheck probes one infrastructure dependency.
type HealthCheck func(ctx context.Context) error

// HealthEchoHandler serves liveness and readiness probes.
type HealthEchoHandler struct {
	logger *xlogger.Logger
	checks map[string]HealthCheck
}

func NewHealthEchoHandler(logger *xlogger.Logger) *HealthEchoHandler {
	return &HealthEchoHandler{logger: logger, checks: make(map[string]HealthCheck)}
}

// AddCheck registers a named dependency probe.
func (h *HealthEchoHandler) AddCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

func (h *HealthEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Liveness)
	e.GET("/readyz", h.Readiness)
}

// Liveness reports the process is up. No dependency probes.
func (h *HealthEchoHandler) Liveness(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

// Readiness probes every registered dependency and reports per-check
// status. Any failing check yields 503.
func (h *HealthEchoHandler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := make(map[string]string, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed",
				xlogger.String("check", name), xlogger.Error(err))
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	if !healthy {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"status": "degraded",
			"checks": status,
		})
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"status": "ok",
		"checks": status,
	})
}
