package api

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	"TriggerHub/internal/domain/models"
	domrepo "TriggerHub/internal/domain/repository"
	"TriggerHub/internal/registry"
	xhttp "TriggerHub/pkg/http"
	xlogger "TriggerHub/pkg/logger"
	"TriggerHub/pkg/util"
)

// botIDHeader carries the caller identity set by the external auth layer.
// Ownership checks use it exclusively; client-supplied ids are ignored.
const botIDHeader = "X-Bot-ID"

// RegistryEchoHandler exposes condition registration and subscription
// management over Echo.
type RegistryEchoHandler struct {
	logger   *xlogger.Logger
	registry *registry.Registry
	events   domrepo.EventStore
}

func NewRegistryEchoHandler(logger *xlogger.Logger, reg *registry.Registry, events domrepo.EventStore) *RegistryEchoHandler {
	return &RegistryEchoHandler{logger: logger, registry: reg, events: events}
}

func (h *RegistryEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/conditions", h.RegisterCondition)
	g.GET("/conditions/:id/status", h.ConditionStatus)
	g.POST("/subscriptions", h.Subscribe)
	g.DELETE("/subscriptions/:id", h.Unsubscribe)
	g.GET("/subscriptions", h.Subscriptions)
	g.GET("/events", h.Events)
	g.GET("/stats", h.Stats)
}

func (h *RegistryEchoHandler) RegisterCondition(c echo.Context) error {
	raw := &models.RawConditionSpec{}
	if err := c.Bind(raw); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("malformed condition spec"))
	}

	res, err := h.registry.Register(c.Request().Context(), raw)
	if err != nil {
		h.logger.Error("condition registration failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, domainError(err))
	}

	status := "exists"
	if res.Created {
		status = "created"
	}
	body := map[string]interface{}{
		"condition_id": res.Condition.ID,
		"status":       status,
	}
	if res.Created {
		return xhttp.CreatedResponse(c, body)
	}
	return xhttp.SuccessResponse(c, body)
}

func (h *RegistryEchoHandler) ConditionStatus(c echo.Context) error {
	st, err := h.registry.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return xhttp.AppErrorResponse(c, domainError(err))
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *RegistryEchoHandler) Subscribe(c echo.Context) error {
	botID := c.Request().Header.Get(botIDHeader)
	if botID == "" {
		return xhttp.AppErrorResponse(c, xhttp.UnauthorizedError("missing caller identity"))
	}

	req := &models.SubscribeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	sub, err := h.registry.Subscribe(c.Request().Context(), botID, models.BotType(req.BotType), req.ConditionID, req.Config)
	if err != nil {
		h.logger.Error("subscribe failed",
			xlogger.String("bot_id", botID),
			xlogger.String("condition_id", req.ConditionID),
			xlogger.Error(err))
		return xhttp.AppErrorResponse(c, domainError(err))
	}
	return xhttp.CreatedResponse(c, sub)
}

func (h *RegistryEchoHandler) Unsubscribe(c echo.Context) error {
	botID := c.Request().Header.Get(botIDHeader)
	if botID == "" {
		return xhttp.AppErrorResponse(c, xhttp.UnauthorizedError("missing caller identity"))
	}

	if err := h.registry.Unsubscribe(c.Request().Context(), botID, c.Param("id")); err != nil {
		return xhttp.AppErrorResponse(c, domainError(err))
	}
	return xhttp.NoContentResponse(c)
}

func (h *RegistryEchoHandler) Subscriptions(c echo.Context) error {
	botID := c.Request().Header.Get(botIDHeader)
	if botID == "" {
		return xhttp.AppErrorResponse(c, xhttp.UnauthorizedError("missing caller identity"))
	}

	subs, err := h.registry.SubscriptionsFor(c.Request().Context(), botID)
	if err != nil {
		return xhttp.AppErrorResponse(c, domainError(err))
	}
	return xhttp.ListResponse(c, subs, int64(len(subs)))
}

func (h *RegistryEchoHandler) Events(c echo.Context) error {
	req := &models.EventsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	now := time.Now().UTC()
	from := util.ParseTimeDefault(req.From, now.Add(-24*time.Hour))
	to := util.ParseTimeDefault(req.To, now)

	events, err := h.events.Query(c.Request().Context(), req.Symbol, from, to, req.Limit)
	if err != nil {
		h.logger.Error("event query failed", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, domainError(err))
	}
	return xhttp.ListResponse(c, events, int64(len(events)))
}

func (h *RegistryEchoHandler) Stats(c echo.Context) error {
	stats, err := h.registry.Stats(c.Request().Context())
	if err != nil {
		return xhttp.AppErrorResponse(c, domainError(err))
	}
	return xhttp.SuccessResponse(c, stats)
}

// domainError maps the domain taxonomy onto HTTP application errors.
func domainError(err error) *xhttp.AppError {
	switch {
	case errors.Is(err, models.ErrValidation):
		return xhttp.BadRequestError(err.Error())
	case errors.Is(err, models.ErrNotFound):
		return xhttp.NotFoundError(err.Error())
	case errors.Is(err, models.ErrConflict):
		return xhttp.ConflictError(err.Error())
	case errors.Is(err, models.ErrForbidden):
		return xhttp.ForbiddenError(err.Error())
	case errors.Is(err, models.ErrHashCollision):
		return xhttp.ConflictError(err.Error())
	default:
		return xhttp.InternalError("something went wrong").WithError(err)
	}
}
