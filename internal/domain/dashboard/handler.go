package dashboard

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/careportal/portal/internal/platform/apierror"
	"github.com/careportal/portal/internal/platform/auth"
	"github.com/careportal/portal/internal/platform/session"
)

type Handler struct {
	svc    *Service
	loader auth.UserLoader
}

func NewHandler(svc *Service, loader auth.UserLoader) *Handler {
	return &Handler{svc: svc, loader: loader}
}

// RegisterRoutes mounts GET /api/dashboard on g (the /api group).
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/dashboard", h.Get, session.Require(), auth.Require(auth.AuthenticatedGuard, h.loader))
}

func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	user := auth.UserFromContext(ctx)
	if user == nil {
		return apierror.SessionExpired()
	}
	d, err := h.svc.Load(ctx, user)
	if err != nil {
		if errors.Is(err, ErrUnknownRole) {
			return apierror.New(http.StatusForbidden, apierror.CodeForbidden, "No dashboard is available for your role.")
		}
		return apierror.FromBackend(err)
	}
	return c.JSON(http.StatusOK, d)
}
