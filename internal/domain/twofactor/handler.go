package twofactor

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/careportal/portal/internal/platform/apierror"
	"github.com/careportal/portal/internal/platform/auth"
	"github.com/careportal/portal/internal/platform/session"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the enrollment routes on g, expected at /api/2fa.
// loader resolves the user of a session that has none cached yet.
func (h *Handler) RegisterRoutes(g *echo.Group, loader auth.UserLoader) {
	authed := g.Group("", session.Require(), requireUser(loader))
	authed.GET("/status", h.Status)
	authed.POST("/setup", h.Setup)
	authed.POST("/confirm", h.Confirm)
	authed.POST("/cancel", h.Cancel)
	authed.POST("/disable", h.Disable)
}

func requireUser(loader auth.UserLoader) echo.MiddlewareFunc {
	return auth.Require(auth.AuthenticatedGuard, loader)
}

func (h *Handler) Status(c echo.Context) error {
	ctx := c.Request().Context()
	e, err := h.svc.Status(ctx, session.TabIDFromContext(ctx))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, newStatusResponse(e))
}

func (h *Handler) Setup(c echo.Context) error {
	ctx := c.Request().Context()
	e, err := h.svc.Setup(ctx, session.TabIDFromContext(ctx))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, newStatusResponse(e))
}

func (h *Handler) Confirm(c echo.Context) error {
	var req codeRequest
	if err := c.Bind(&req); err != nil {
		return apierror.BadRequest("invalid request body")
	}
	ctx := c.Request().Context()
	if err := h.svc.Confirm(ctx, session.TabIDFromContext(ctx), req.Code); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, statusResponse{State: StateEnabled, TwoFactorEnabled: true})
}

func (h *Handler) Cancel(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.svc.Cancel(ctx, session.TabIDFromContext(ctx)); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, statusResponse{State: StateDisabled})
}

func (h *Handler) Disable(c echo.Context) error {
	var req codeRequest
	if err := c.Bind(&req); err != nil {
		return apierror.BadRequest("invalid request body")
	}
	ctx := c.Request().Context()
	if err := h.svc.Disable(ctx, session.TabIDFromContext(ctx), req.Code); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, statusResponse{State: StateDisabled})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidCode):
		return apierror.BadRequest(err.Error())
	case errors.Is(err, ErrNoUser):
		return apierror.SessionExpired()
	case errors.Is(err, ErrAlreadyEnabled),
		errors.Is(err, ErrNoPendingSetup),
		errors.Is(err, ErrNotEnabled):
		return apierror.Conflict(err.Error())
	}
	return apierror.FromBackend(err)
}
