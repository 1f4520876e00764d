package preferences

import (
	"encoding/json"
	"errors"
	"io"
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

// RegisterRoutes mounts the settings and profile routes on g (the /api group).
func (h *Handler) RegisterRoutes(g *echo.Group) {
	authed := []echo.MiddlewareFunc{session.Require(), auth.Require(auth.AuthenticatedGuard, h.loader)}
	g.GET("/settings/notifications", h.GetNotifications, authed...)
	g.PUT("/settings/notifications", h.PutNotifications, authed...)
	g.PATCH("/settings/notifications", h.ToggleNotification, authed...)
	g.GET("/profile", h.GetProfile, authed...)
	g.PATCH("/profile", h.UpdateProfile, authed...)
	g.POST("/profile/avatar", h.UploadAvatar, authed...)
}

func (h *Handler) GetNotifications(c echo.Context) error {
	s, err := h.svc.NotificationSettings(c.Request().Context())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) PutNotifications(c echo.Context) error {
	var s NotificationSettings
	if err := c.Bind(&s); err != nil {
		return apierror.BadRequest("invalid request body")
	}
	out, err := h.svc.SaveNotificationSettings(c.Request().Context(), s)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ToggleNotification(c echo.Context) error {
	var t Toggle
	if err := c.Bind(&t); err != nil {
		return apierror.BadRequest("invalid request body")
	}
	out, err := h.svc.ToggleNotification(c.Request().Context(), t)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GetProfile(c echo.Context) error {
	p, err := h.svc.Profile(c.Request().Context())
	if err != nil {
		return mapError(err)
	}
	return c.JSONBlob(http.StatusOK, p)
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	var patch map[string]interface{}
	if err := json.NewDecoder(c.Request().Body).Decode(&patch); err != nil || patch == nil {
		return apierror.BadRequest(ErrInvalidProfile.Error())
	}
	ctx := c.Request().Context()
	p, err := h.svc.UpdateProfile(ctx, session.TabIDFromContext(ctx), patch)
	if err != nil {
		return mapError(err)
	}
	return c.JSONBlob(http.StatusOK, p)
}

func (h *Handler) UploadAvatar(c echo.Context) error {
	fh, err := c.FormFile("avatar")
	if err != nil {
		return apierror.BadRequest("an avatar file is required")
	}
	if fh.Size > MaxAvatarSize {
		return mapError(ErrAvatarTooLarge)
	}
	f, err := fh.Open()
	if err != nil {
		return apierror.BadRequest("an avatar file is required")
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, MaxAvatarSize+1))
	if err != nil {
		return apierror.BadRequest("could not read the uploaded file")
	}
	ctx := c.Request().Context()
	p, err := h.svc.UploadAvatar(ctx, session.TabIDFromContext(ctx), fh.Filename, content)
	if err != nil {
		return mapError(err)
	}
	return c.JSONBlob(http.StatusOK, p)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrAvatarTooLarge):
		return apierror.New(http.StatusRequestEntityTooLarge, apierror.CodeTooLarge, err.Error())
	case errors.Is(err, ErrInvalidChannel),
		errors.Is(err, ErrInvalidEvent),
		errors.Is(err, ErrInvalidProfile),
		errors.Is(err, ErrInvalidAvatar):
		return apierror.BadRequest(err.Error())
	}
	return apierror.FromBackend(err)
}
