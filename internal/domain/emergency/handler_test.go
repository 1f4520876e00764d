package emergency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/careportal/portal/internal/platform/apiclient"
	"github.com/careportal/portal/internal/platform/auth"
	"github.com/careportal/portal/internal/platform/endpoints"
	"github.com/careportal/portal/internal/platform/session"
	"github.com/careportal/portal/pkg/pagination"
)

func withUser(req *http.Request, u *auth.User) *http.Request {
	return req.WithContext(session.WithSession(req.Context(), &session.TabSession{TabID: "tab-12345678", AccessToken: "acc", User: u}))
}

func TestHandler_ReviewConflict(t *testing.T) {
	done := pending("5")
	done.Status = StatusRejected
	h := NewHandler(NewService(newMockRepo(done), zerolog.Nop()), nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/compliance/emergency-access/5/review", strings.NewReader(`{"decision":"approve"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(withUser(req, officer), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("5")

	var he *echo.HTTPError
	if err := h.Review(c); !errors.As(err, &he) || he.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}

func TestHandler_Routes(t *testing.T) {
	h := NewHandler(NewService(newMockRepo(pending("1")), zerolog.Nop()), nil)
	e := echo.New()
	h.RegisterRoutes(e.Group("/api"))

	tests := []struct {
		name   string
		user   *auth.User
		status int
	}{
		{"compliance officer", officer, http.StatusOK},
		{"provider denied", &auth.User{ID: "dr", Role: auth.RoleProvider}, http.StatusForbidden},
		{"no session", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/compliance/emergency-access?status=pending", nil)
			if tt.user != nil {
				req = withUser(req, tt.user)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_ListPaginates(t *testing.T) {
	repo := newMockRepo(pending("1"))
	h := NewHandler(NewService(repo, zerolog.Nop()), nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/compliance/emergency-access?page=2&page_size=10", nil)
	rec := httptest.NewRecorder()
	if err := h.List(e.NewContext(withUser(req, officer), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.lastParams.Limit != 10 || repo.lastParams.Offset != 10 {
		t.Errorf("unexpected params %+v", repo.lastParams)
	}
	var body struct {
		Total int `json:"total"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 {
		t.Errorf("expected total 1, got %d", body.Total)
	}
}

func TestRepoAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/emergency-access/requests/":
			if r.URL.Query().Get("status") != "pending" || r.URL.Query().Get("page") != "1" {
				t.Errorf("unexpected query %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"count":1,"next":null,"results":[{"id":"9","status":"pending","patient_id":"p"}]}`))
		case r.Method == http.MethodGet && r.URL.Path == "/emergency-access/requests/9/":
			_, _ = w.Write([]byte(`{"id":"9","status":"pending"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/emergency-access/requests/9/review/":
			_, _ = w.Write([]byte(`{"id":"9","status":"approved"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"Not found."}`))
		}
	}))
	defer srv.Close()

	repo := NewRepoAPI(apiclient.New(srv.URL), endpoints.Default())
	svc := NewService(repo, zerolog.Nop())
	ctx := context.Background()

	items, total, err := svc.List(ctx, ListFilter{Status: StatusPending}, pagination.Params{Limit: 20})
	if err != nil || total != 1 || len(items) != 1 || items[0].ID != "9" {
		t.Fatalf("list: %v %d %v", items, total, err)
	}
	out, err := svc.Review(ctx, officer, "9", Review{Decision: DecisionApprove})
	if err != nil || out.Status != StatusApproved {
		t.Fatalf("review: %+v %v", out, err)
	}
	if _, err := svc.Get(ctx, "404"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
