package emergency

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/careportal/portal/internal/platform/apierror"
	"github.com/careportal/portal/internal/platform/auth"
	"github.com/careportal/portal/internal/platform/session"
	"github.com/careportal/portal/pkg/pagination"
)

type Handler struct {
	svc    *Service
	loader auth.UserLoader
}

func NewHandler(svc *Service, loader auth.UserLoader) *Handler {
	return &Handler{svc: svc, loader: loader}
}

// RegisterRoutes mounts the review queue on g (the /api group). Only
// compliance officers may reach it.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	cg := g.Group("/compliance/emergency-access", session.Require(), auth.Require(auth.ComplianceGuard, h.loader))
	cg.GET("", h.List)
	cg.GET("/:id", h.Get)
	cg.POST("/:id/review", h.Review)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	f := ListFilter{Status: Status(c.QueryParam("status"))}
	items, total, err := h.svc.List(c.Request().Context(), f, p)
	if err != nil {
		return mapError(err)
	}
	if items == nil {
		items = []*AccessRequest{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	r, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Review(c echo.Context) error {
	var rv Review
	if err := c.Bind(&rv); err != nil {
		return apierror.BadRequest("invalid request body")
	}
	ctx := c.Request().Context()
	out, err := h.svc.Review(ctx, auth.UserFromContext(ctx), c.Param("id"), rv)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidID),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidDecision),
		errors.Is(err, ErrNotesRequired),
		errors.Is(err, ErrNotesTooLong):
		return apierror.BadRequest(err.Error())
	case errors.Is(err, ErrNotFound):
		return apierror.NotFound(err.Error())
	case errors.Is(err, ErrNotPending):
		return apierror.Conflict(ErrNotPending.Error())
	}
	return apierror.FromBackend(err)
}
