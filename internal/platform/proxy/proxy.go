// Package proxy relays browser calls under /api/proxy/ to the backend REST
// API with the caller's own bearer credential. Only allow-listed resource
// prefixes are reachable, and role areas of the backend are gated by the
// permission guards when the request belongs to a tab session.
package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/careportal/portal/internal/platform/apiclient"
	"github.com/careportal/portal/internal/platform/apierror"
	"github.com/careportal/portal/internal/platform/auth"
	"github.com/careportal/portal/internal/platform/session"
)

// Prefix is the route prefix the proxy is mounted under.
const Prefix = "/api/proxy/"

const maxRequestBody = 25 << 20

// forwardHeaders are the request headers relayed to the backend besides
// Authorization.
var forwardHeaders = []string{
	echo.HeaderAccept,
	"X-Tab-ID",
	echo.HeaderXRequestID,
}

// Handler relays requests to the backend.
type Handler struct {
	api    *apiclient.Client
	allow  []string
	guards []GuardRule
	loader auth.UserLoader
	logger zerolog.Logger
}

// NewHandler creates a proxy over api. api must not be bound to a tab
// session; the caller's bearer is forwarded instead.
func NewHandler(api *apiclient.Client, logger zerolog.Logger) *Handler {
	return &Handler{api: api, allow: DefaultAllowList(), guards: DefaultGuards(), logger: logger}
}

// WithLoader sets the loader guards use for a tab session without a cached
// user.
func (h *Handler) WithLoader(loader auth.UserLoader) *Handler {
	h.loader = loader
	return h
}

// RegisterRoutes mounts the proxy on e for every method.
func (h *Handler) RegisterRoutes(e *echo.Echo, m ...echo.MiddlewareFunc) {
	e.Any(Prefix+"*", h.Relay, m...)
}

// Relay forwards one request and copies the backend's answer back.
func (h *Handler) Relay(c echo.Context) error {
	req := c.Request()
	target := strings.TrimPrefix(req.URL.Path, strings.TrimSuffix(Prefix, "/"))
	target = strings.TrimPrefix(target, "/")

	if !Allowed(target, h.allow) {
		h.logger.Warn().
			Str("path", req.URL.Path).
			Str("tab_id", req.Header.Get("X-Tab-ID")).
			Msg("proxy path rejected")
		return apierror.New(http.StatusForbidden, apierror.CodeForbidden, "This resource is not available through the portal.")
	}

	// A bare bearer without a tab session is authorized by the backend alone.
	if g, ok := GuardFor(target, h.guards); ok && session.FromContext(req.Context()) != nil {
		return auth.Require(g, h.loader)(h.forward)(c)
	}
	return h.forward(c)
}

func (h *Handler) forward(c echo.Context) error {
	req := c.Request()
	scheme, token, ok := auth.ParseAuthorization(req.Header.Get(echo.HeaderAuthorization))
	if !ok || scheme != auth.SchemeBearer {
		return apierror.New(http.StatusUnauthorized, apierror.CodeUnauthorized, "A bearer token is required.")
	}

	opts := []apiclient.RequestOption{
		apiclient.WithHeader(echo.HeaderAuthorization, auth.SchemeBearer+" "+token),
	}
	for _, name := range forwardHeaders {
		if v := req.Header.Get(name); v != "" {
			opts = append(opts, apiclient.WithHeader(name, v))
		}
	}

	var (
		payload     []byte
		contentType string
	)
	if req.Method != http.MethodGet && req.Method != http.MethodHead && req.Body != nil {
		b, err := io.ReadAll(io.LimitReader(req.Body, maxRequestBody))
		if err != nil {
			return err
		}
		payload = b
		contentType = req.Header.Get(echo.HeaderContentType)
	}

	path := escapedTarget(req)
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}

	resp, err := h.api.DoRaw(req.Context(), req.Method, path, payload, contentType, opts...)
	if err != nil {
		var httpErr *apiclient.HTTPError
		if errors.As(err, &httpErr) {
			return relay(c, httpErr.StatusCode, httpErr.Body, "")
		}
		h.logger.Error().Err(err).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Msg("proxy upstream failed")
		return apierror.New(http.StatusBadGateway, apierror.CodeBadGateway, "The service is temporarily unavailable. Please try again.")
	}
	return relay(c, resp.StatusCode, resp.Body, resp.Header.Get(echo.HeaderContentType))
}

// relay writes JSON answers through unchanged and wraps anything else in
// an error object carrying the text and status.
func relay(c echo.Context, status int, body []byte, contentType string) error {
	if len(body) == 0 {
		return c.NoContent(status)
	}
	if isJSON(contentType, body) {
		return c.Blob(status, echo.MIMEApplicationJSONCharsetUTF8, body)
	}
	return c.JSON(status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": strings.TrimSpace(string(body)),
			"status":  status,
		},
	})
}

func isJSON(contentType string, body []byte) bool {
	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		return err == nil && (mt == "application/json" || strings.HasSuffix(mt, "+json"))
	}
	return json.Valid(body)
}

func escapedTarget(req *http.Request) string {
	p := strings.TrimPrefix(req.URL.EscapedPath(), strings.TrimSuffix(Prefix, "/"))
	return strings.TrimPrefix(p, "/")
}
