package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/careportal/portal/internal/platform/apiclient"
	"github.com/careportal/portal/internal/platform/auth"
)

// Service dispatches dashboard loads to the provider of the user's role.
type Service struct {
	providers map[auth.Role]DashboardDataProvider
	api       *apiclient.Client
	logger    zerolog.Logger
}

// NewService registers providers by role. Superadmins see the admin
// dashboard unless a superadmin provider is registered. api is the
// fallback client used when the request carries no tab-bound one.
func NewService(api *apiclient.Client, logger zerolog.Logger, providers ...DashboardDataProvider) *Service {
	s := &Service{providers: map[auth.Role]DashboardDataProvider{}, api: api, logger: logger}
	for _, p := range providers {
		s.providers[p.Role()] = p
	}
	if _, ok := s.providers[auth.RoleSuperadmin]; !ok {
		if admin, ok := s.providers[auth.RoleAdmin]; ok {
			s.providers[auth.RoleSuperadmin] = admin
		}
	}
	return s
}

// Provider returns the provider registered for role.
func (s *Service) Provider(role auth.Role) (DashboardDataProvider, bool) {
	p, ok := s.providers[role]
	return p, ok
}

func (s *Service) Load(ctx context.Context, user *auth.User) (*Dashboard, error) {
	p, ok := s.Provider(user.Role)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownRole, user.Role)
	}
	start := time.Now()
	d, err := p.Load(ctx, apiclient.FromContext(ctx, s.api), user)
	if err != nil {
		return nil, err
	}
	d.Role = user.Role
	s.logger.Debug().
		Str("user_id", user.ID).
		Str("role", user.Role.String()).
		Int("widgets", len(d.Widgets)).
		Int("failed", len(d.Errors)).
		Dur("latency", time.Since(start)).
		Msg("dashboard loaded")
	return d, nil
}
