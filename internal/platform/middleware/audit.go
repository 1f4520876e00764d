package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/careportal/portal/internal/platform/auth"
	"github.com/careportal/portal/internal/platform/hipaa"
)

const recordTimeout = 3 * time.Second

// auditPrefixes are the routes whose requests reach backend resources.
var auditPrefixes = []string{
	"/api/proxy/",
	"/api/dashboard",
	"/api/profile",
	"/api/compliance/",
}

// Audit records who touched which backend resource and with what outcome.
// Every audited request is logged; when recorder is non-nil the entry is
// also persisted. Requests to PHI-bearing resources log at warn when they
// fail, so denied access stands out.
func Audit(logger zerolog.Logger, recorder hipaa.Recorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = http.StatusInternalServerError
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				}
			}

			target := backendPath(path)
			ctx := req.Context()
			entry := &hipaa.AccessEntry{
				UserID:     auth.UserIDFromContext(ctx),
				Method:     req.Method,
				Path:       path,
				Resource:   hipaa.ResourceOf(target),
				Action:     httpMethodToAction(req.Method),
				PHI:        hipaa.IsPHIPath(target),
				StatusCode: status,
				RemoteIP:   c.RealIP(),
				UserAgent:  req.UserAgent(),
				RecordedAt: time.Now().UTC(),
			}
			if roles := auth.RolesFromContext(ctx); len(roles) > 0 {
				entry.Role = roles[0]
			}
			entry.RequestID, _ = c.Get("request_id").(string)
			entry.TabID, _ = c.Get("tab_id").(string)

			if recorder != nil {
				rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
				if recErr := recorder.RecordAccess(rctx, entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
				cancel()
			}

			evt := logger.Info()
			if entry.PHI && status >= 400 {
				evt = logger.Warn()
			}
			evt.
				Str("type", "hipaa_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("role", entry.Role).
				Str("tab_id", entry.TabID).
				Str("resource", entry.Resource).
				Str("action", entry.Action).
				Bool("phi", entry.PHI).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.RemoteIP).
				Int("status", entry.StatusCode).
				Msg("resource_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	for _, p := range auditPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// backendPath maps a portal route to the backend resource it serves.
func backendPath(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/proxy/"):
		return strings.TrimPrefix(path, "/api/proxy/")
	case strings.HasPrefix(path, "/api/compliance/emergency-access"):
		return "emergency-access/"
	case strings.HasPrefix(path, "/api/profile"):
		return "users/profile/"
	}
	return strings.TrimPrefix(path, "/api/")
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}
