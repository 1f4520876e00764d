// Package apierror renders every error the portal returns to the browser in
// one envelope: {"error":{"code":..., "message":...}}.
package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/careportal/portal/internal/platform/apiclient"
)

// Error codes understood by the front end.
const (
	CodeBadRequest     = "bad_request"
	CodeUnauthorized   = "unauthorized"
	CodeSessionExpired = "session_expired"
	CodeForbidden      = "forbidden"
	CodeNotFound       = "not_found"
	CodeConflict       = "conflict"
	CodeTooLarge       = "payload_too_large"
	CodeRateLimited    = "rate_limited"
	CodeUnavailable    = "maintenance"
	CodeTimeout        = "timeout"
	CodeBadGateway     = "bad_gateway"
	CodeInternal       = "internal_error"
)

// LoginPath is where the front end sends a user whose session is gone.
const LoginPath = "/login"

// Body is the content of the error envelope.
type Body struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Redirect     string `json:"redirect,omitempty"`
	DiagnosticID string `json:"diagnostic_id,omitempty"`
}

// Envelope wraps Body under "error".
type Envelope struct {
	Error Body `json:"error"`
}

// New returns an *echo.HTTPError carrying a Body.
func New(status int, code, message string) *echo.HTTPError {
	return echo.NewHTTPError(status, Body{Code: code, Message: message})
}

func BadRequest(message string) *echo.HTTPError {
	return New(http.StatusBadRequest, CodeBadRequest, message)
}

func NotFound(message string) *echo.HTTPError {
	return New(http.StatusNotFound, CodeNotFound, message)
}

func Conflict(message string) *echo.HTTPError {
	return New(http.StatusConflict, CodeConflict, message)
}

// SessionExpired tells the front end to drop the tab's credentials and go to
// the login page.
func SessionExpired() *echo.HTTPError {
	return echo.NewHTTPError(http.StatusUnauthorized, Body{
		Code:     CodeSessionExpired,
		Message:  "Your session has expired. Please sign in again.",
		Redirect: LoginPath,
	})
}

// FromBackend maps an error from a backend call to the response the browser
// should see. Errors it does not recognise are returned unchanged.
func FromBackend(err error) error {
	if err == nil {
		return nil
	}
	var (
		de      *apiclient.DisplayError
		httpErr *apiclient.HTTPError
	)
	switch {
	case errors.Is(err, apiclient.ErrSessionExpired):
		return SessionExpired()
	case errors.As(err, &de):
		return New(de.StatusCode, codeFor(de.StatusCode), de.Message)
	case errors.As(err, &httpErr):
		return New(http.StatusBadGateway, CodeBadGateway, "The service is temporarily unavailable. Please try again.")
	case errors.Is(err, context.DeadlineExceeded):
		return New(http.StatusGatewayTimeout, CodeTimeout, "The request timed out.")
	}
	return err
}

func codeFor(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return CodeBadRequest
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusTooManyRequests:
		return CodeRateLimited
	case http.StatusServiceUnavailable:
		return CodeUnavailable
	case http.StatusGatewayTimeout:
		return CodeTimeout
	case http.StatusBadGateway:
		return CodeBadGateway
	}
	if status >= 500 {
		return CodeInternal
	}
	return CodeBadRequest
}

// CaptureFunc reports an unexpected error and returns the diagnostic id
// the user can quote to support. errorreport.Reporter.Capture satisfies it.
type CaptureFunc func(ctx context.Context, err error, req *http.Request) string

// Handler is the echo HTTPErrorHandler of the server. Errors that are not
// HTTP errors are unexpected: they are passed to capture, when set, and the
// response carries its diagnostic id.
func Handler(logger zerolog.Logger, capture CaptureFunc) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		err = FromBackend(err)
		status := http.StatusInternalServerError
		body := Body{Code: CodeInternal, Message: "Something went wrong"}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			switch m := he.Message.(type) {
			case Body:
				body = m
			case string:
				body = Body{Code: codeFor(status), Message: m}
			default:
				body = Body{Code: codeFor(status), Message: http.StatusText(status)}
			}
		} else {
			req := c.Request()
			if capture != nil {
				body.DiagnosticID = capture(req.Context(), err, req)
			}
			logger.Error().Err(err).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("diagnostic_id", body.DiagnosticID).
				Msg("unhandled error")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, Envelope{Error: body})
		}
		if err != nil {
			logger.Error().Err(err).Msg("failed to write error response")
		}
	}
}
