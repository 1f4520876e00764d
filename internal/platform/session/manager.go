// Package session keeps one authentication session per browser tab. The
// browser sends its tab identifier in X-Tab-ID on every request, so two
// tabs of the same browser can be logged in as different users at once.
// Nothing here is keyed by cookie.
package session

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/careportal/portal/internal/platform/auth"
)

var (
	// ErrNoSession means the tab has no active session.
	ErrNoSession = errors.New("session: no active tab session")
	// ErrInvalidTabID means the tab identifier is malformed.
	ErrInvalidTabID = errors.New("session: invalid tab id")
	// ErrNoRefresher means Refresh was called before SetRefresher.
	ErrNoRefresher = errors.New("session: no refresher configured")
)

const (
	refreshTimeout = 15 * time.Second
	// previousTokenGrace is how long the access token replaced by a refresh
	// still authenticates requests the browser sent before it saw the new one.
	previousTokenGrace = 30 * time.Second
)

var tabIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

// ValidTabID reports whether id can be used as a tab identifier.
func ValidTabID(id string) bool {
	return tabIDPattern.MatchString(id)
}

// Tokens is a token pair issued by the backend.
type Tokens struct {
	AccessToken  string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// TabSession is the server-side state of one tab.
type TabSession struct {
	TabID        string     `json:"tab_id"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresAt    time.Time  `json:"expires_at"`
	User         *auth.User `json:"user,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	RefreshedAt  *time.Time `json:"refreshed_at,omitempty"`

	PreviousAccessToken string     `json:"previous_access_token,omitempty"`
	PreviousValidUntil  *time.Time `json:"previous_valid_until,omitempty"`
}

// Accepts reports whether token authenticates as this session at now: the
// current access token, or the one it replaced while still in grace.
func (s *TabSession) Accepts(token string, now time.Time) bool {
	if token == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(s.AccessToken), []byte(token)) == 1 {
		return true
	}
	if s.PreviousAccessToken == "" || s.PreviousValidUntil == nil || now.After(*s.PreviousValidUntil) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.PreviousAccessToken), []byte(token)) == 1
}

// AccessExpired reports whether the access token is past its expiry.
func (s *TabSession) AccessExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Refresher exchanges a session's refresh token for a new token pair. The
// returned user may be nil when the backend does not include one.
type Refresher interface {
	RefreshSession(ctx context.Context, s *TabSession) (Tokens, *auth.User, error)
}

// RefresherFunc is a function adapter for Refresher.
type RefresherFunc func(ctx context.Context, s *TabSession) (Tokens, *auth.User, error)

func (f RefresherFunc) RefreshSession(ctx context.Context, s *TabSession) (Tokens, *auth.User, error) {
	return f(ctx, s)
}

// Manager owns the lifecycle of tab sessions: Init on login, Refresh on
// token expiry, ClearTabSession on logout or failed refresh.
type Manager struct {
	store     Store
	maxAge    time.Duration
	parser    *auth.TokenParser
	refresher Refresher
	group     singleflight.Group
	logger    zerolog.Logger
	now       func() time.Time
}

// NewManager creates a Manager. maxAge bounds the lifetime of a tab session
// from login regardless of refreshes.
func NewManager(store Store, maxAge time.Duration, parser *auth.TokenParser, logger zerolog.Logger) *Manager {
	if parser == nil {
		parser = auth.NewTokenParser(nil)
	}
	return &Manager{
		store:  store,
		maxAge: maxAge,
		parser: parser,
		logger: logger,
		now:    time.Now,
	}
}

// SetRefresher installs the backend refresh call. It must be called before
// the server starts handling requests.
func (m *Manager) SetRefresher(r Refresher) {
	m.refresher = r
}

func tabKey(tabID string) string { return "tab:" + tabID }

// Init establishes the session for tabID, replacing any previous one.
func (m *Manager) Init(ctx context.Context, tabID string, tokens Tokens, user *auth.User) (*TabSession, error) {
	if !ValidTabID(tabID) {
		return nil, ErrInvalidTabID
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("session: init %s: empty access token", tabID)
	}
	now := m.now().UTC()
	s := &TabSession{
		TabID:        tabID,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    m.expiry(tokens, now),
		User:         user,
		CreatedAt:    now,
	}
	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	m.logger.Debug().Str("tab_id", tabID).Msg("tab session initialized")
	return s, nil
}

func (m *Manager) expiry(tokens Tokens, now time.Time) time.Time {
	if tokens.ExpiresIn > 0 {
		return now.Add(time.Duration(tokens.ExpiresIn) * time.Second)
	}
	if exp, ok := m.parser.Expiry(tokens.AccessToken); ok {
		return exp.UTC()
	}
	return now.Add(m.maxAge)
}

func (m *Manager) save(ctx context.Context, s *TabSession) error {
	remaining := s.CreatedAt.Add(m.maxAge).Sub(m.now())
	if remaining <= 0 {
		_ = m.store.Delete(ctx, tabKey(s.TabID))
		return ErrNoSession
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := m.store.Set(ctx, tabKey(s.TabID), data, remaining); err != nil {
		return fmt.Errorf("session: save %s: %w", s.TabID, err)
	}
	return nil
}

// GetTabSession returns the session of tabID or ErrNoSession.
func (m *Manager) GetTabSession(ctx context.Context, tabID string) (*TabSession, error) {
	if !ValidTabID(tabID) {
		return nil, ErrInvalidTabID
	}
	data, err := m.store.Get(ctx, tabKey(tabID))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("session: load %s: %w", tabID, err)
	}
	var s TabSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", tabID, err)
	}
	return &s, nil
}

// IsCurrentTabAuthenticated reports whether tabID holds a usable session: a
// live access token, or an expired one that can still be refreshed.
func (m *Manager) IsCurrentTabAuthenticated(ctx context.Context, tabID string) bool {
	s, err := m.GetTabSession(ctx, tabID)
	if err != nil {
		return false
	}
	return !s.AccessExpired(m.now()) || s.RefreshToken != ""
}

// ClearTabSession removes the session of tabID. Other tabs are untouched.
func (m *Manager) ClearTabSession(ctx context.Context, tabID string) error {
	if !ValidTabID(tabID) {
		return ErrInvalidTabID
	}
	if err := m.store.Delete(ctx, tabKey(tabID)); err != nil {
		return fmt.Errorf("session: clear %s: %w", tabID, err)
	}
	m.logger.Debug().Str("tab_id", tabID).Msg("tab session cleared")
	return nil
}

// UpdateUser replaces the cached user of tabID wholesale.
func (m *Manager) UpdateUser(ctx context.Context, tabID string, user *auth.User) error {
	s, err := m.GetTabSession(ctx, tabID)
	if err != nil {
		return err
	}
	s.User = user
	return m.save(ctx, s)
}

// Refresh exchanges the refresh token of tabID for a new pair. Concurrent
// callers for the same tab share one backend call. When stale is non-empty
// and the stored access token already differs from it, another caller has
// refreshed in the meantime and the stored session is returned as is.
func (m *Manager) Refresh(ctx context.Context, tabID, stale string) (*TabSession, error) {
	if m.refresher == nil {
		return nil, ErrNoRefresher
	}
	v, err, _ := m.group.Do(tabID, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		s, err := m.GetTabSession(rctx, tabID)
		if err != nil {
			return nil, err
		}
		if stale != "" && s.AccessToken != stale {
			return s, nil
		}
		if s.RefreshToken == "" {
			return nil, ErrNoSession
		}

		tokens, user, err := m.refresher.RefreshSession(rctx, s)
		if err != nil {
			return nil, fmt.Errorf("session: refresh %s: %w", tabID, err)
		}
		now := m.now().UTC()
		graceUntil := now.Add(previousTokenGrace)
		s.PreviousAccessToken = s.AccessToken
		s.PreviousValidUntil = &graceUntil
		s.AccessToken = tokens.AccessToken
		if tokens.RefreshToken != "" {
			s.RefreshToken = tokens.RefreshToken
		}
		s.ExpiresAt = m.expiry(tokens, now)
		s.RefreshedAt = &now
		if user != nil {
			s.User = user
		}
		if err := m.save(rctx, s); err != nil {
			return nil, err
		}
		m.logger.Debug().Str("tab_id", tabID).Msg("tab session refreshed")
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*TabSession), nil
}

// TokenSource binds the manager to one tab for outbound API calls.
func (m *Manager) TokenSource(tabID string) *TabTokens {
	return &TabTokens{m: m, tabID: tabID}
}

// TabTokens supplies the access token of one tab to the API client.
type TabTokens struct {
	m     *Manager
	tabID string
}

func (t *TabTokens) TabID() string { return t.tabID }

// Token returns the current access token, or "" when the tab has no session.
func (t *TabTokens) Token(ctx context.Context) (string, error) {
	s, err := t.m.GetTabSession(ctx, t.tabID)
	if errors.Is(err, ErrNoSession) || errors.Is(err, ErrInvalidTabID) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return s.AccessToken, nil
}

// Refresh obtains a new access token to replace stale.
func (t *TabTokens) Refresh(ctx context.Context, stale string) (string, error) {
	s, err := t.m.Refresh(ctx, t.tabID, stale)
	if err != nil {
		return "", err
	}
	return s.AccessToken, nil
}

// Expire tears the tab session down after an unrecoverable 401.
func (t *TabTokens) Expire(ctx context.Context) error {
	if !ValidTabID(t.tabID) {
		return nil
	}
	return t.m.ClearTabSession(ctx, t.tabID)
}
