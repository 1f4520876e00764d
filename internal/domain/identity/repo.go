package identity

import (
	"context"

	"github.com/careportal/portal/internal/platform/auth"
)

// Repository is the identity surface of the REST backend. Calls that need the
// tab's credential pick it up from the request-scoped API client.
type Repository interface {
	Login(ctx context.Context, email, password string) (*TokenResponse, error)
	VerifyTwoFactor(ctx context.Context, tempToken, code string) (*TokenResponse, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	Refresh(ctx context.Context, accessToken, refreshToken string) (*TokenResponse, error)
	RequestPasswordReset(ctx context.Context, email string) error
	DisableTwoFactor(ctx context.Context, code string) error
	CurrentUser(ctx context.Context) (*auth.User, error)
}
