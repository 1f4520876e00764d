package identity

import (
	"errors"

	"github.com/careportal/portal/internal/platform/auth"
	"github.com/careportal/portal/internal/platform/session"
)

var (
	// ErrInvalidCode means a two-factor code is not six digits.
	ErrInvalidCode = errors.New("verification code must be 6 digits")
	// ErrMissingCredentials means email or password was empty.
	ErrMissingCredentials = errors.New("email and password are required")
	// ErrMissingTempToken means a 2FA verification had no temp token.
	ErrMissingTempToken = errors.New("temp_token is required")
	// ErrMissingRefreshToken means a refresh had nothing to exchange.
	ErrMissingRefreshToken = errors.New("refresh_token is required")
	// ErrInvalidEmail means a password reset was requested without an email.
	ErrInvalidEmail = errors.New("a valid email is required")
)

// TokenResponse is the backend's answer to login, 2FA verification and
// refresh.
type TokenResponse struct {
	Token             string     `json:"token"`
	RefreshToken      string     `json:"refresh_token"`
	ExpiresIn         int        `json:"expires_in"`
	User              *auth.User `json:"user,omitempty"`
	RequiresTwoFactor bool       `json:"requires_two_factor"`
	TempToken         string     `json:"temp_token,omitempty"`
}

func (t *TokenResponse) tokens() session.Tokens {
	return session.Tokens{
		AccessToken:  t.Token,
		RefreshToken: t.RefreshToken,
		ExpiresIn:    t.ExpiresIn,
	}
}

// LoginResult is either an established session or a pending 2FA challenge.
type LoginResult struct {
	Session           *session.TabSession
	RequiresTwoFactor bool
	TempToken         string
}

type loginRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	ReturnURL string `json:"return_url"`
}

type verifyRequest struct {
	TempToken string `json:"temp_token"`
	Code      string `json:"code"`
	ReturnURL string `json:"return_url"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	TabID        string `json:"tabId"`
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

// sessionResponse is returned to the browser after login or 2FA
// verification. The browser keeps token for its Authorization header.
type sessionResponse struct {
	TabID        string     `json:"tab_id"`
	Token        string     `json:"token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresIn    int        `json:"expires_in,omitempty"`
	User         *auth.User `json:"user"`
	Redirect     string     `json:"redirect"`
}

type challengeResponse struct {
	RequiresTwoFactor bool   `json:"requires_two_factor"`
	TempToken         string `json:"temp_token"`
}

type refreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type permissionsResponse struct {
	Role        auth.Role          `json:"role"`
	Permissions auth.PermissionSet `json:"permissions"`
}

type tabStatusResponse struct {
	TabID         string `json:"tab_id"`
	Authenticated bool   `json:"authenticated"`
}
