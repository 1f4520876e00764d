package preferences

import (
	"bytes"
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/careportal/portal/internal/platform/auth"
)

// UserCache refreshes the tab's cached user after a profile change.
type UserCache interface {
	CurrentUser(ctx context.Context, tabID string) (*auth.User, error)
}

type Service struct {
	repo   Repository
	users  UserCache
	logger zerolog.Logger
}

// NewService creates the preferences service. users may be nil.
func NewService(repo Repository, users UserCache, logger zerolog.Logger) *Service {
	return &Service{repo: repo, users: users, logger: logger}
}

func (s *Service) NotificationSettings(ctx context.Context) (NotificationSettings, error) {
	return s.repo.GetNotificationSettings(ctx)
}

// SaveNotificationSettings replaces the whole settings map.
func (s *Service) SaveNotificationSettings(ctx context.Context, settings NotificationSettings) (NotificationSettings, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return s.repo.SaveNotificationSettings(ctx, settings)
}

// ToggleNotification changes one preference: the current map is fetched,
// changed locally and saved back whole.
func (s *Service) ToggleNotification(ctx context.Context, t Toggle) (NotificationSettings, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	current, err := s.repo.GetNotificationSettings(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		current = NotificationSettings{}
	}
	current.Set(t.Channel, t.Event, t.Enabled)
	return s.repo.SaveNotificationSettings(ctx, current)
}

func (s *Service) Profile(ctx context.Context) (Profile, error) {
	return s.repo.GetProfile(ctx)
}

// UpdateProfile relays patch without its read-only fields and refreshes
// the tab's cached user.
func (s *Service) UpdateProfile(ctx context.Context, tabID string, patch map[string]interface{}) (Profile, error) {
	if patch == nil {
		return nil, ErrInvalidProfile
	}
	for _, f := range readOnlyProfileFields {
		delete(patch, f)
	}
	p, err := s.repo.UpdateProfile(ctx, patch)
	if err != nil {
		return nil, err
	}
	s.refreshUser(ctx, tabID)
	return p, nil
}

// UploadAvatar checks the picture by its content, not its declared type,
// before sending it to the backend.
func (s *Service) UploadAvatar(ctx context.Context, tabID, filename string, content []byte) (Profile, error) {
	if len(content) == 0 {
		return nil, ErrInvalidAvatar
	}
	if len(content) > MaxAvatarSize {
		return nil, ErrAvatarTooLarge
	}
	if !avatarTypes[http.DetectContentType(content)] {
		return nil, ErrInvalidAvatar
	}
	p, err := s.repo.UploadAvatar(ctx, filename, bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	s.refreshUser(ctx, tabID)
	return p, nil
}

func (s *Service) refreshUser(ctx context.Context, tabID string) {
	if s.users == nil || tabID == "" {
		return
	}
	if _, err := s.users.CurrentUser(ctx, tabID); err != nil {
		s.logger.Warn().Err(err).Str("tab_id", tabID).Msg("failed to refresh cached user after profile update")
	}
}
