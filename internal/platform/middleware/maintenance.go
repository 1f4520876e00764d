package middleware

import (
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/labstack/echo/v4"

	"github.com/careportal/portal/internal/platform/apierror"
)

// MaintenanceSwitch toggles maintenance mode at runtime.
type MaintenanceSwitch struct {
	on atomic.Bool
}

func NewMaintenanceSwitch(on bool) *MaintenanceSwitch {
	s := &MaintenanceSwitch{}
	s.on.Store(on)
	return s
}

func (s *MaintenanceSwitch) Set(on bool) { s.on.Store(on) }
func (s *MaintenanceSwitch) On() bool    { return s.on.Load() }

// Maintenance answers 503 to everything except health checks while the
// switch is on.
func Maintenance(s *MaintenanceSwitch) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !s.On() || strings.HasPrefix(c.Request().URL.Path, "/health") {
				return next(c)
			}
			c.Response().Header().Set("Retry-After", "300")
			return apierror.New(http.StatusServiceUnavailable, apierror.CodeUnavailable,
				"The portal is undergoing scheduled maintenance. Please try again shortly.")
		}
	}
}
