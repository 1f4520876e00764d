package identity

import (
	"context"
	"fmt"

	"github.com/careportal/portal/internal/platform/apiclient"
	"github.com/careportal/portal/internal/platform/auth"
	"github.com/careportal/portal/internal/platform/endpoints"
)

type identityRepoAPI struct {
	api       *apiclient.Client
	endpoints *endpoints.Registry
}

// NewRepoAPI returns a Repository backed by the REST backend.
func NewRepoAPI(api *apiclient.Client, reg *endpoints.Registry) Repository {
	return &identityRepoAPI{api: api, endpoints: reg}
}

func (r *identityRepoAPI) client(ctx context.Context) *apiclient.Client {
	return apiclient.FromContext(ctx, r.api)
}

func (r *identityRepoAPI) path(key string) (string, error) {
	return r.endpoints.Resolve(key, nil)
}

func (r *identityRepoAPI) tokenCall(ctx context.Context, key string, body interface{}, fallback string, opts ...apiclient.RequestOption) (*TokenResponse, error) {
	p, err := r.path(key)
	if err != nil {
		return nil, err
	}
	resp, err := r.client(ctx).Post(ctx, p, body, append(opts, apiclient.SkipAuth())...)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(fallback); err != nil {
		return nil, err
	}
	var out TokenResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *identityRepoAPI) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	return r.tokenCall(ctx, endpoints.AuthLogin,
		map[string]string{"email": email, "password": password},
		"Login failed. Please check your credentials.")
}

func (r *identityRepoAPI) VerifyTwoFactor(ctx context.Context, tempToken, code string) (*TokenResponse, error) {
	return r.tokenCall(ctx, endpoints.AuthVerifyTwoFactor,
		map[string]string{"temp_token": tempToken, "code": code},
		"Verification failed. Please try again.")
}

func (r *identityRepoAPI) Refresh(ctx context.Context, accessToken, refreshToken string) (*TokenResponse, error) {
	var opts []apiclient.RequestOption
	if accessToken != "" {
		opts = append(opts, apiclient.WithHeader("Authorization", auth.SchemeSession+" "+accessToken))
	}
	return r.tokenCall(ctx, endpoints.AuthRefresh,
		map[string]string{"refresh_token": refreshToken},
		"Session refresh failed.", opts...)
}

func (r *identityRepoAPI) Logout(ctx context.Context, accessToken, refreshToken string) error {
	p, err := r.path(endpoints.AuthLogout)
	if err != nil {
		return err
	}
	var body interface{}
	if refreshToken != "" {
		body = map[string]string{"refresh_token": refreshToken}
	}
	// A tab-bound client replaces this header with the session's own token.
	var opts []apiclient.RequestOption
	if accessToken != "" {
		opts = append(opts, apiclient.WithHeader("Authorization", auth.SchemeSession+" "+accessToken))
	}
	resp, err := r.client(ctx).Post(ctx, p, body, opts...)
	if err != nil {
		return err
	}
	return resp.Err("Logout failed.")
}

func (r *identityRepoAPI) RequestPasswordReset(ctx context.Context, email string) error {
	p, err := r.path(endpoints.AuthPasswordReset)
	if err != nil {
		return err
	}
	resp, err := r.client(ctx).Post(ctx, p, map[string]string{"email": email}, apiclient.SkipAuth())
	if err != nil {
		return err
	}
	return resp.Err("Password reset request failed.")
}

func (r *identityRepoAPI) DisableTwoFactor(ctx context.Context, code string) error {
	p, err := r.path(endpoints.TwoFactorDisable)
	if err != nil {
		return err
	}
	resp, err := r.client(ctx).Post(ctx, p, map[string]string{"code": code})
	if err != nil {
		return err
	}
	return resp.Err("Could not disable two-factor authentication.")
}

func (r *identityRepoAPI) CurrentUser(ctx context.Context) (*auth.User, error) {
	p, err := r.path(endpoints.AuthMe)
	if err != nil {
		return nil, err
	}
	resp, err := r.client(ctx).Get(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := resp.Err("Could not load your profile."); err != nil {
		return nil, err
	}
	var u auth.User
	if err := resp.Decode(&u); err != nil {
		return nil, fmt.Errorf("decode current user: %w", err)
	}
	return &u, nil
}
