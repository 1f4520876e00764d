package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/careportal/portal/internal/platform/apiclient"
	"github.com/careportal/portal/internal/platform/apierror"
	"github.com/careportal/portal/internal/platform/auth"
)

const (
	// HeaderTabID carries the tab identifier in both directions.
	HeaderTabID = "X-Tab-ID"
	// HeaderSessionToken returns a server-side refreshed access token so the
	// tab can replace its copy.
	HeaderSessionToken = "X-Session-Token"
)

type ctxKey string

const (
	tabIDKey   ctxKey = "tab_id"
	sessionKey ctxKey = "tab_session"
)

// WithTabID stores the tab id on ctx.
func WithTabID(ctx context.Context, tabID string) context.Context {
	return context.WithValue(ctx, tabIDKey, tabID)
}

// TabIDFromContext returns the tab id resolved by Middleware.
func TabIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(tabIDKey).(string)
	return id
}

// WithSession stores s and its user on ctx.
func WithSession(ctx context.Context, s *TabSession) context.Context {
	ctx = context.WithValue(ctx, sessionKey, s)
	if s != nil {
		ctx = WithTabID(ctx, s.TabID)
		ctx = auth.WithUser(ctx, s.User)
	}
	return ctx
}

// FromContext returns the authenticated tab session, or nil.
func FromContext(ctx context.Context) *TabSession {
	s, _ := ctx.Value(sessionKey).(*TabSession)
	return s
}

// Middleware resolves the tab of every request. The tab id comes from the
// X-Tab-ID header or the tab_id query parameter; a request without one is
// assigned a fresh id, echoed back in X-Tab-ID. The stored session is only
// attached when the request's Authorization credential matches the tab's
// access token, or the token a refresh replaced within the last few seconds.
// Outbound calls always use the tab's current token.
func Middleware(m *Manager, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			tabID := req.Header.Get(HeaderTabID)
			if tabID == "" {
				tabID = c.QueryParam("tab_id")
			}
			if !ValidTabID(tabID) {
				tabID = uuid.NewString()
			}
			c.Response().Header().Set(HeaderTabID, tabID)
			c.Set("tab_id", tabID)

			ctx := WithTabID(req.Context(), tabID)

			if _, token, ok := auth.ParseAuthorization(req.Header.Get(echo.HeaderAuthorization)); ok {
				s, err := m.GetTabSession(ctx, tabID)
				switch {
				case err == nil:
					if s.Accepts(token, m.now()) {
						ctx = WithSession(ctx, s)
					}
				case errors.Is(err, ErrNoSession):
				default:
					logger.Warn().Err(err).Str("tab_id", tabID).Msg("tab session lookup failed")
				}
			}

			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

// Client binds api to the authenticated tab session of c. Without one, api
// is returned unbound and calls go out without a credential. A token
// refreshed during the call is returned to the browser in X-Session-Token.
func Client(c echo.Context, m *Manager, api *apiclient.Client) *apiclient.Client {
	s := FromContext(c.Request().Context())
	if s == nil {
		return api
	}
	var mu sync.Mutex
	return api.WithTokens(m.TokenSource(s.TabID), func(token string) {
		mu.Lock()
		c.Response().Header().Set(HeaderSessionToken, token)
		mu.Unlock()
	})
}

// BindClient stores a tab-bound copy of api on every request context, for
// repositories that read it back with apiclient.FromContext. It must run
// after Middleware.
func BindClient(m *Manager, api *apiclient.Client) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			bound := Client(c, m, api)
			c.SetRequest(c.Request().WithContext(apiclient.WithClient(c.Request().Context(), bound)))
			return next(c)
		}
	}
}

// Require rejects requests that are not authenticated as a tab session with
// the session-expired envelope, sending the browser back to login.
func Require() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if FromContext(c.Request().Context()) == nil {
				return apierror.SessionExpired()
			}
			return next(c)
		}
	}
}
