package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
	userKey      contextKey = "user"
	tokenKey     contextKey = "bearer_token"
)

// Authorization schemes accepted from the browser. The backend itself is
// addressed with SchemeSession.
const (
	SchemeBearer  = "Bearer"
	SchemeSession = "Session"
)

// Claims is the subset of the backend-issued JWT the portal reads.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	TabID  string `json:"tab_id"`
}

// TokenParser reads backend-issued tokens. With a signing key the signature
// is verified; without one the claims are only decoded, since the backend
// remains the authority that validates every call.
type TokenParser struct {
	signingKey []byte
}

func NewTokenParser(signingKey []byte) *TokenParser {
	return &TokenParser{signingKey: signingKey}
}

// Parse decodes token claims. Opaque (non-JWT) tokens return an error.
func (p *TokenParser) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	if len(p.signingKey) == 0 {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("decode token: %w", err)
		}
		return claims, nil
	}

	t, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return p.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !t.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// Expiry returns the token's exp claim, if it has one.
func (p *TokenParser) Expiry(token string) (time.Time, bool) {
	claims, err := p.Parse(token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// ParseAuthorization splits an Authorization header into scheme and
// credential. Only Bearer and Session schemes are accepted.
func ParseAuthorization(header string) (scheme, token string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	token = strings.TrimSpace(parts[1])
	if token == "" {
		return "", "", false
	}
	switch {
	case strings.EqualFold(parts[0], SchemeBearer):
		return SchemeBearer, token, true
	case strings.EqualFold(parts[0], SchemeSession):
		return SchemeSession, token, true
	}
	return "", "", false
}

// RequireAuthorization rejects requests without a Bearer or Session
// credential and stores the credential in the request context.
func RequireAuthorization() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			_, token, ok := ParseAuthorization(header)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}
			ctx := context.WithValue(c.Request().Context(), tokenKey, token)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// WithUser stores the user and derived identity values on ctx.
func WithUser(ctx context.Context, u *User) context.Context {
	if u == nil {
		return ctx
	}
	ctx = context.WithValue(ctx, userKey, u)
	ctx = context.WithValue(ctx, UserIDKey, u.ID)
	ctx = context.WithValue(ctx, UserRolesKey, []string{string(u.Role)})
	return ctx
}

func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userKey).(*User)
	return u
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

// TokenFromContext returns the credential accepted by RequireAuthorization.
func TokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}
