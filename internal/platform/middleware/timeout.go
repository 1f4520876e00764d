package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/careportal/portal/internal/platform/apierror"
)

// RequestTimeout sets a deadline on each request context. When it passes
// before the handler returns, a 504 envelope is sent. Uploads under
// /api/proxy/ are excluded since they stream large bodies.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 || isUpload(c.Request()) {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return apierror.New(http.StatusGatewayTimeout, apierror.CodeTimeout, "The request timed out.")
				}
				return ctx.Err()
			}
		}
	}
}

func isUpload(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/proxy/") &&
		strings.HasPrefix(r.Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm)
}
