package emergency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/careportal/portal/internal/platform/apiclient"
	"github.com/careportal/portal/internal/platform/endpoints"
	"github.com/careportal/portal/pkg/pagination"
)

type emergencyRepoAPI struct {
	api       *apiclient.Client
	endpoints *endpoints.Registry
}

func NewRepoAPI(api *apiclient.Client, reg *endpoints.Registry) Repository {
	return &emergencyRepoAPI{api: api, endpoints: reg}
}

func (r *emergencyRepoAPI) client(ctx context.Context) *apiclient.Client {
	return apiclient.FromContext(ctx, r.api)
}

func (r *emergencyRepoAPI) List(ctx context.Context, f ListFilter, p pagination.Params) ([]*AccessRequest, int, error) {
	path, err := r.endpoints.Resolve(endpoints.EmergencyAccessList, nil)
	if err != nil {
		return nil, 0, err
	}
	q := p.Query()
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	resp, err := r.client(ctx).Get(ctx, path, apiclient.WithQuery(q))
	if err != nil {
		return nil, 0, err
	}
	if err := resp.Err("Could not load emergency access requests."); err != nil {
		return nil, 0, err
	}
	var page pagination.BackendPage
	if err := resp.Decode(&page); err != nil {
		return nil, 0, err
	}
	var items []*AccessRequest
	if err := json.Unmarshal(page.Results, &items); err != nil {
		return nil, 0, fmt.Errorf("decode emergency access requests: %w", err)
	}
	return items, page.Count, nil
}

func (r *emergencyRepoAPI) GetByID(ctx context.Context, id string) (*AccessRequest, error) {
	path, err := r.endpoints.Resolve(endpoints.EmergencyAccessDetail, map[string]string{"id": id})
	if err != nil {
		return nil, err
	}
	resp, err := r.client(ctx).Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := resp.Err("Could not load the emergency access request."); err != nil {
		return nil, err
	}
	var out AccessRequest
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *emergencyRepoAPI) Review(ctx context.Context, id string, rv Review) (*AccessRequest, error) {
	path, err := r.endpoints.Resolve(endpoints.EmergencyAccessReview, map[string]string{"id": id})
	if err != nil {
		return nil, err
	}
	resp, err := r.client(ctx).Post(ctx, path, rv)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusConflict:
		return nil, ErrNotPending
	}
	if err := resp.Err("The review could not be recorded."); err != nil {
		return nil, err
	}
	var out AccessRequest
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
