package preferences

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/careportal/portal/internal/platform/apiclient"
	"github.com/careportal/portal/internal/platform/endpoints"
)

type preferencesRepoAPI struct {
	api       *apiclient.Client
	endpoints *endpoints.Registry
}

func NewRepoAPI(api *apiclient.Client, reg *endpoints.Registry) Repository {
	return &preferencesRepoAPI{api: api, endpoints: reg}
}

func (r *preferencesRepoAPI) client(ctx context.Context) *apiclient.Client {
	return apiclient.FromContext(ctx, r.api)
}

// get retries idempotent reads on transient backend failures.
func (r *preferencesRepoAPI) get(ctx context.Context, path string) (*apiclient.Response, error) {
	return apiclient.WithRetry(ctx, apiclient.DefaultRetryPolicy, func(ctx context.Context) (*apiclient.Response, error) {
		return r.client(ctx).Get(ctx, path)
	})
}

func (r *preferencesRepoAPI) GetNotificationSettings(ctx context.Context) (NotificationSettings, error) {
	p, err := r.endpoints.Resolve(endpoints.NotificationSettings, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.get(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := resp.Err("Could not load notification settings."); err != nil {
		return nil, err
	}
	out := NotificationSettings{}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *preferencesRepoAPI) SaveNotificationSettings(ctx context.Context, s NotificationSettings) (NotificationSettings, error) {
	p, err := r.endpoints.Resolve(endpoints.NotificationSettings, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client(ctx).Put(ctx, p, s)
	if err != nil {
		return nil, err
	}
	if err := resp.Err("Could not save notification settings."); err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return s, nil
	}
	out := NotificationSettings{}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *preferencesRepoAPI) GetProfile(ctx context.Context) (Profile, error) {
	p, err := r.endpoints.Resolve(endpoints.Profile, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.get(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := resp.Err("Could not load your profile."); err != nil {
		return nil, err
	}
	return profileBody(resp.Body)
}

func (r *preferencesRepoAPI) UpdateProfile(ctx context.Context, patch map[string]interface{}) (Profile, error) {
	p, err := r.endpoints.Resolve(endpoints.Profile, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client(ctx).Patch(ctx, p, patch)
	if err != nil {
		return nil, err
	}
	if err := resp.Err("Could not update your profile."); err != nil {
		return nil, err
	}
	return profileBody(resp.Body)
}

func (r *preferencesRepoAPI) UploadAvatar(ctx context.Context, filename string, content io.Reader) (Profile, error) {
	p, err := r.endpoints.Resolve(endpoints.ProfileAvatar, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client(ctx).Upload(ctx, p, apiclient.File{Field: "avatar", Name: filename, Content: content}, nil)
	if err != nil {
		return nil, err
	}
	if err := resp.Err("Could not upload your picture."); err != nil {
		return nil, err
	}
	return profileBody(resp.Body)
}

func profileBody(b []byte) (Profile, error) {
	if !json.Valid(b) {
		return nil, errors.New("preferences: backend returned an invalid profile")
	}
	return Profile(b), nil
}
