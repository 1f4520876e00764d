// Package identity is the portal's auth provider: login with optional
// two-factor challenge, logout, token refresh, password reset and the
// current-user lookup, all backed by the REST backend and tracked per tab.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/careportal/portal/internal/platform/auth"
	"github.com/careportal/portal/internal/platform/session"
)

type Service struct {
	repo     Repository
	sessions *session.Manager
	logger   zerolog.Logger
}

func NewService(repo Repository, sessions *session.Manager, logger zerolog.Logger) *Service {
	return &Service{repo: repo, sessions: sessions, logger: logger}
}

// Login authenticates against the backend. When the account has two-factor
// authentication the result carries a temp token and no session is created.
func (s *Service) Login(ctx context.Context, tabID, email, password string) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	resp, err := s.repo.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if resp.RequiresTwoFactor {
		if resp.TempToken == "" {
			return nil, fmt.Errorf("login: two-factor challenge without temp token")
		}
		return &LoginResult{RequiresTwoFactor: true, TempToken: resp.TempToken}, nil
	}
	sess, err := s.establish(ctx, tabID, resp)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Session: sess}, nil
}

// VerifyTwoFactor completes a challenged login.
func (s *Service) VerifyTwoFactor(ctx context.Context, tabID, tempToken, code string) (*session.TabSession, error) {
	if tempToken == "" {
		return nil, ErrMissingTempToken
	}
	if !auth.ValidOTP(code) {
		return nil, ErrInvalidCode
	}
	resp, err := s.repo.VerifyTwoFactor(ctx, tempToken, code)
	if err != nil {
		return nil, err
	}
	return s.establish(ctx, tabID, resp)
}

func (s *Service) establish(ctx context.Context, tabID string, resp *TokenResponse) (*session.TabSession, error) {
	if resp.Token == "" {
		return nil, fmt.Errorf("login: backend returned no token")
	}
	// A nil user is loaded lazily by LoadUser on the tab's next guarded request.
	sess, err := s.sessions.Init(ctx, tabID, resp.tokens(), resp.User)
	if err != nil {
		return nil, err
	}
	if sess.User != nil {
		s.logger.Info().Str("tab_id", tabID).Str("user_id", sess.User.ID).Str("role", sess.User.Role.String()).Msg("login")
	}
	return sess, nil
}

// Logout ends the session of the tab. bearer is the credential the browser
// presented; it is forwarded so the backend can invalidate it. The local
// session is cleared even if the backend call fails, but only when the
// request was authenticated as that tab.
func (s *Service) Logout(ctx context.Context, tabID, bearer string) error {
	sess := session.FromContext(ctx)
	refreshToken := ""
	if sess != nil {
		refreshToken = sess.RefreshToken
	}
	if err := s.repo.Logout(ctx, bearer, refreshToken); err != nil {
		s.logger.Warn().Err(err).Str("tab_id", tabID).Msg("backend logout failed")
	}
	if sess == nil {
		return nil
	}
	if err := s.sessions.ClearTabSession(ctx, sess.TabID); err != nil {
		return err
	}
	s.logger.Info().Str("tab_id", sess.TabID).Msg("logout")
	return nil
}

// RefreshToken refreshes the tab's session on demand.
func (s *Service) RefreshToken(ctx context.Context, tabID string) (*session.TabSession, error) {
	return s.sessions.Refresh(ctx, tabID, "")
}

// RefreshWith exchanges refreshToken for a new pair. When tabID names a
// session holding that refresh token the session is updated; otherwise the
// exchange is passed through without server-side state.
func (s *Service) RefreshWith(ctx context.Context, tabID, accessToken, refreshToken string) (session.Tokens, error) {
	if refreshToken == "" {
		return session.Tokens{}, ErrMissingRefreshToken
	}
	if session.ValidTabID(tabID) {
		if sess, err := s.sessions.GetTabSession(ctx, tabID); err == nil && sess.RefreshToken == refreshToken {
			sess, err = s.sessions.Refresh(ctx, tabID, sess.AccessToken)
			if err != nil {
				return session.Tokens{}, err
			}
			return session.Tokens{
				AccessToken:  sess.AccessToken,
				RefreshToken: sess.RefreshToken,
				ExpiresIn:    expiresIn(sess),
			}, nil
		}
	}
	resp, err := s.repo.Refresh(ctx, accessToken, refreshToken)
	if err != nil {
		return session.Tokens{}, err
	}
	return resp.tokens(), nil
}

// RefreshSession implements session.Refresher.
func (s *Service) RefreshSession(ctx context.Context, sess *session.TabSession) (session.Tokens, *auth.User, error) {
	resp, err := s.repo.Refresh(ctx, sess.AccessToken, sess.RefreshToken)
	if err != nil {
		return session.Tokens{}, nil, err
	}
	if resp.Token == "" {
		return session.Tokens{}, nil, fmt.Errorf("refresh: backend returned no token")
	}
	return resp.tokens(), resp.User, nil
}

// RequestPasswordReset asks the backend to email a reset link.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return ErrInvalidEmail
	}
	return s.repo.RequestPasswordReset(ctx, email)
}

// DisableTwoFactor turns 2FA off with a fresh code and updates the cached
// user of the tab.
func (s *Service) DisableTwoFactor(ctx context.Context, tabID, code string) error {
	if !auth.ValidOTP(code) {
		return ErrInvalidCode
	}
	if err := s.repo.DisableTwoFactor(ctx, code); err != nil {
		return err
	}
	return s.SetTwoFactorFlag(ctx, tabID, false)
}

// SetTwoFactorFlag updates two_factor_enabled on the tab's cached user.
func (s *Service) SetTwoFactorFlag(ctx context.Context, tabID string, enabled bool) error {
	sess, err := s.sessions.GetTabSession(ctx, tabID)
	if err != nil || sess.User == nil {
		return nil
	}
	u := *sess.User
	u.TwoFactorEnabled = enabled
	return s.sessions.UpdateUser(ctx, tabID, &u)
}

// CurrentUser re-fetches the user from the backend and replaces the copy
// cached in the tab session.
func (s *Service) CurrentUser(ctx context.Context, tabID string) (*auth.User, error) {
	u, err := s.repo.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.UpdateUser(ctx, tabID, u); err != nil && !errors.Is(err, session.ErrNoSession) {
		s.logger.Warn().Err(err).Str("tab_id", tabID).Msg("could not cache user")
	}
	return u, nil
}

// LoadUser implements auth.UserLoader for guards reached by a tab whose
// session has no cached user yet.
func (s *Service) LoadUser(c echo.Context) (*auth.User, error) {
	sess := session.FromContext(c.Request().Context())
	if sess == nil {
		return nil, nil
	}
	if sess.User != nil {
		return sess.User, nil
	}
	return s.CurrentUser(c.Request().Context(), sess.TabID)
}

func expiresIn(sess *session.TabSession) int {
	if sess.ExpiresAt.IsZero() {
		return 0
	}
	base := sess.CreatedAt
	if sess.RefreshedAt != nil {
		base = *sess.RefreshedAt
	}
	secs := int(sess.ExpiresAt.Sub(base).Seconds())
	if secs < 0 {
		return 0
	}
	return secs
}
