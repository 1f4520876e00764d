package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/careportal/portal/internal/platform/apierror"
	"github.com/careportal/portal/internal/platform/errorreport"
)

// Recovery turns a panic into a 500 carrying a diagnostic id that support
// can look up in the error reporter. reporter may be nil.
func Recovery(logger zerolog.Logger, reporter *errorreport.Reporter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					var stack [4096]byte
					n := runtime.Stack(stack[:], false)
					rid, _ := c.Get("request_id").(string)

					logger.Error().
						Str("request_id", rid).
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", string(stack[:n])).
						Msg("panic recovered")

					diag := rid
					if reporter != nil {
						diag = reporter.Capture(c.Request().Context(), fmt.Errorf("panic: %v", r), c.Request())
					}
					err = echo.NewHTTPError(http.StatusInternalServerError, apierror.Body{
						Code:         apierror.CodeInternal,
						Message:      "Something went wrong",
						DiagnosticID: diag,
					})
				}
			}()
			return next(c)
		}
	}
}
