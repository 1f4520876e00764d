package twofactor

import (
	"context"

	"github.com/careportal/portal/internal/platform/apiclient"
	"github.com/careportal/portal/internal/platform/endpoints"
)

type twoFactorRepoAPI struct {
	api       *apiclient.Client
	endpoints *endpoints.Registry
}

func NewRepoAPI(api *apiclient.Client, reg *endpoints.Registry) Repository {
	return &twoFactorRepoAPI{api: api, endpoints: reg}
}

func (r *twoFactorRepoAPI) Setup(ctx context.Context) (*SetupResult, error) {
	p, err := r.endpoints.Resolve(endpoints.TwoFactorSetup, nil)
	if err != nil {
		return nil, err
	}
	resp, err := apiclient.FromContext(ctx, r.api).Post(ctx, p, nil)
	if err != nil {
		return nil, err
	}
	if err := resp.Err("Could not start two-factor setup."); err != nil {
		return nil, err
	}
	var out SetupResult
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *twoFactorRepoAPI) Confirm(ctx context.Context, code string) error {
	p, err := r.endpoints.Resolve(endpoints.TwoFactorConfirm, nil)
	if err != nil {
		return err
	}
	resp, err := apiclient.FromContext(ctx, r.api).Post(ctx, p, codeRequest{Code: code})
	if err != nil {
		return err
	}
	return resp.Err("The verification code was not accepted.")
}
