// Package twofactor drives two-factor enrollment: setup issues a secret and
// QR code, confirm enables the factor with the first code, cancel abandons
// a pending setup and disable turns the factor off with a fresh code.
package twofactor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/careportal/portal/internal/platform/auth"
)

// PendingTTL bounds how long a started setup waits for its first code.
const PendingTTL = 10 * time.Minute

// Account reads and updates the user's two-factor state on the backend and
// in the tab session. identity.Service implements it.
type Account interface {
	CurrentUser(ctx context.Context, tabID string) (*auth.User, error)
	DisableTwoFactor(ctx context.Context, tabID, code string) error
	SetTwoFactorFlag(ctx context.Context, tabID string, enabled bool) error
}

type Service struct {
	repo    Repository
	pending PendingStore
	account Account
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository, pending PendingStore, account Account, logger zerolog.Logger) *Service {
	return &Service{repo: repo, pending: pending, account: account, logger: logger, now: time.Now}
}

// user loads the backend's current record of the tab's user. The copy cached
// in the session can be stale when another tab changed the factor.
func (s *Service) user(ctx context.Context, tabID string) (*auth.User, error) {
	u, err := s.account.CurrentUser(ctx, tabID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNoUser
	}
	return u, nil
}

// Status reports the state of the tab's user. The secret and QR code are
// included while a setup is pending so the page can be reloaded.
func (s *Service) Status(ctx context.Context, tabID string) (*Enrollment, error) {
	u, err := s.user(ctx, tabID)
	if err != nil {
		return nil, err
	}
	if u.TwoFactorEnabled {
		return &Enrollment{UserID: u.ID, State: StateEnabled}, nil
	}
	e, err := s.pending.Get(ctx, u.ID)
	if errors.Is(err, ErrNoPendingSetup) {
		return &Enrollment{UserID: u.ID, State: StateDisabled}, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Setup moves the user from disabled to pending_setup. Calling it again while
// pending issues a new secret.
func (s *Service) Setup(ctx context.Context, tabID string) (*Enrollment, error) {
	u, err := s.user(ctx, tabID)
	if err != nil {
		return nil, err
	}
	if u.TwoFactorEnabled {
		return nil, ErrAlreadyEnabled
	}
	res, err := s.repo.Setup(ctx)
	if err != nil {
		return nil, err
	}
	e := &Enrollment{
		UserID:    u.ID,
		State:     StatePendingSetup,
		Secret:    res.Secret,
		QRCode:    res.QRCode,
		StartedAt: s.now().UTC(),
	}
	if err := s.pending.Save(ctx, e, PendingTTL); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID).Msg("two-factor setup started")
	return e, nil
}

// Confirm enables two-factor authentication with the first code from the
// authenticator app. A malformed code is rejected before any state is read.
func (s *Service) Confirm(ctx context.Context, tabID, code string) error {
	if !auth.ValidOTP(code) {
		return ErrInvalidCode
	}
	u, err := s.user(ctx, tabID)
	if err != nil {
		return err
	}
	if u.TwoFactorEnabled {
		return ErrAlreadyEnabled
	}
	if _, err := s.pending.Get(ctx, u.ID); err != nil {
		return err
	}
	if err := s.repo.Confirm(ctx, code); err != nil {
		return err
	}
	if err := s.pending.Delete(ctx, u.ID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", u.ID).Msg("could not discard pending enrollment")
	}
	if err := s.account.SetTwoFactorFlag(ctx, tabID, true); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", u.ID).Msg("two-factor enabled")
	return nil
}

// Cancel abandons a pending setup.
func (s *Service) Cancel(ctx context.Context, tabID string) error {
	u, err := s.user(ctx, tabID)
	if err != nil {
		return err
	}
	if _, err := s.pending.Get(ctx, u.ID); err != nil {
		return err
	}
	return s.pending.Delete(ctx, u.ID)
}

// Disable turns two-factor authentication off. A fresh code is required.
func (s *Service) Disable(ctx context.Context, tabID, code string) error {
	if !auth.ValidOTP(code) {
		return ErrInvalidCode
	}
	u, err := s.user(ctx, tabID)
	if err != nil {
		return err
	}
	if !u.TwoFactorEnabled {
		return ErrNotEnabled
	}
	if err := s.account.DisableTwoFactor(ctx, tabID, code); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", u.ID).Msg("two-factor disabled")
	return nil
}
