package identity

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/careportal/portal/internal/platform/apierror"
	"github.com/careportal/portal/internal/platform/auth"
	"github.com/careportal/portal/internal/platform/session"
)

type Handler struct {
	svc      *Service
	sessions *session.Manager
}

func NewHandler(svc *Service, sessions *session.Manager) *Handler {
	return &Handler{svc: svc, sessions: sessions}
}

// RegisterRoutes mounts the auth routes on g, which is expected at /api/auth.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/login", h.Login)
	g.POST("/2fa/verify", h.VerifyTwoFactor)
	g.POST("/refresh", h.Refresh)
	g.POST("/password-reset", h.RequestPasswordReset)
	g.GET("/session", h.TabStatus)

	g.POST("/logout", h.Logout, auth.RequireAuthorization())

	authed := g.Group("", session.Require())
	authed.GET("/me", h.Me)
	authed.GET("/permissions", h.Permissions)
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return apierror.BadRequest("invalid request body")
	}
	tabID := session.TabIDFromContext(c.Request().Context())
	res, err := h.svc.Login(c.Request().Context(), tabID, req.Email, req.Password)
	if err != nil {
		return mapError(err)
	}
	if res.RequiresTwoFactor {
		return c.JSON(http.StatusOK, challengeResponse{RequiresTwoFactor: true, TempToken: res.TempToken})
	}
	return c.JSON(http.StatusOK, newSessionResponse(res.Session, req.ReturnURL))
}

func (h *Handler) VerifyTwoFactor(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return apierror.BadRequest("invalid request body")
	}
	tabID := session.TabIDFromContext(c.Request().Context())
	sess, err := h.svc.VerifyTwoFactor(c.Request().Context(), tabID, req.TempToken, req.Code)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, newSessionResponse(sess, req.ReturnURL))
}

func (h *Handler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.svc.Logout(ctx, session.TabIDFromContext(ctx), auth.TokenFromContext(ctx)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "redirect": apierror.LoginPath})
}

func (h *Handler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return apierror.BadRequest("invalid request body")
	}
	ctx := c.Request().Context()
	tabID := req.TabID
	if tabID == "" {
		tabID = session.TabIDFromContext(ctx)
	}
	_, bearer, _ := auth.ParseAuthorization(c.Request().Header.Get(echo.HeaderAuthorization))

	tokens, err := h.svc.RefreshWith(ctx, tabID, bearer, req.RefreshToken)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, refreshResponse{
		Token:        tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresIn:    tokens.ExpiresIn,
	})
}

func (h *Handler) RequestPasswordReset(c echo.Context) error {
	var req passwordResetRequest
	if err := c.Bind(&req); err != nil {
		return apierror.BadRequest("invalid request body")
	}
	if err := h.svc.RequestPasswordReset(c.Request().Context(), req.Email); err != nil {
		var he *echo.HTTPError
		if errors.As(mapError(err), &he) && he.Code == http.StatusBadRequest {
			return he
		}
		// The answer does not reveal whether the account exists.
		h.svc.logger.Warn().Err(err).Msg("password reset request failed")
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "If an account exists for that email, a reset link has been sent.",
	})
}

func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	u, err := h.svc.CurrentUser(ctx, session.TabIDFromContext(ctx))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) Permissions(c echo.Context) error {
	u, err := h.svc.LoadUser(c)
	if err != nil {
		return mapError(err)
	}
	if u == nil {
		return apierror.SessionExpired()
	}
	return c.JSON(http.StatusOK, permissionsResponse{Role: u.Role, Permissions: u.Permissions()})
}

func (h *Handler) TabStatus(c echo.Context) error {
	ctx := c.Request().Context()
	tabID := session.TabIDFromContext(ctx)
	return c.JSON(http.StatusOK, tabStatusResponse{
		TabID:         tabID,
		Authenticated: session.FromContext(ctx) != nil && h.sessions.IsCurrentTabAuthenticated(ctx, tabID),
	})
}

func newSessionResponse(sess *session.TabSession, returnURL string) sessionResponse {
	redirect := SafeReturnURL(returnURL)
	if redirect == "" {
		redirect = "/dashboard"
		if sess.User != nil {
			redirect = sess.User.Role.DashboardPath()
		}
	}
	return sessionResponse{
		TabID:        sess.TabID,
		Token:        sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		ExpiresIn:    expiresIn(sess),
		User:         sess.User,
		Redirect:     redirect,
	}
}

// SafeReturnURL returns raw if it is a same-site relative path, else "".
func SafeReturnURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.ContainsAny(raw, "\\\r\n\t") {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" {
		return ""
	}
	if u.Path == "/login" || strings.HasPrefix(u.Path, "/login/") {
		return ""
	}
	return raw
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrMissingCredentials),
		errors.Is(err, ErrMissingTempToken),
		errors.Is(err, ErrMissingRefreshToken),
		errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrInvalidCode):
		return apierror.BadRequest(err.Error())
	case errors.Is(err, session.ErrInvalidTabID):
		return apierror.BadRequest("missing or invalid X-Tab-ID header")
	case errors.Is(err, session.ErrNoSession):
		return apierror.SessionExpired()
	}
	return apierror.FromBackend(err)
}
