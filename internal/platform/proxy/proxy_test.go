package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/careportal/portal/internal/platform/apiclient"
	"github.com/careportal/portal/internal/platform/auth"
	"github.com/careportal/portal/internal/platform/session"
)

type captured struct {
	method string
	path   string
	query  string
	body   string
	header http.Header
}

func newBackend(t *testing.T, status int, contentType, body string) (*httptest.Server, *captured, *int32) {
	t.Helper()
	var hits int32
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		b, _ := io.ReadAll(r.Body)
		*got = captured{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, body: string(b), header: r.Header.Clone()}
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, got, &hits
}

func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	e := echo.New()
	h.RegisterRoutes(e)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func httpErrorCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestRelay_ForwardsRequest(t *testing.T) {
	srv, got, _ := newBackend(t, http.StatusCreated, "application/json", `{"id":7}`)
	h := NewHandler(apiclient.New(srv.URL), zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/proxy/patient/records/?page=2&sort=-date", strings.NewReader(`{"note":"x"}`))
	req.Header.Set("Authorization", "Bearer tok-1")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tab-ID", "tab-12345678")
	req.Header.Set("X-Request-ID", "req-9")
	req.Header.Set("Cookie", "sid=secret")
	rec := serve(h, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `{"id":7}` {
		t.Errorf("JSON must be relayed verbatim, got %s", rec.Body.String())
	}
	if got.method != http.MethodPost || got.path != "/patient/records/" || got.query != "page=2&sort=-date" {
		t.Errorf("unexpected upstream request %+v", got)
	}
	if got.body != `{"note":"x"}` {
		t.Errorf("unexpected body %q", got.body)
	}
	if got.header.Get("Authorization") != "Bearer tok-1" {
		t.Errorf("bearer not forwarded: %q", got.header.Get("Authorization"))
	}
	if got.header.Get("X-Tab-ID") != "tab-12345678" || got.header.Get("X-Request-ID") != "req-9" {
		t.Errorf("curated headers missing: %v", got.header)
	}
	if got.header.Get("Cookie") != "" {
		t.Error("cookies must not be forwarded")
	}
}

func TestRelay_GetSendsNoBody(t *testing.T) {
	srv, got, _ := newBackend(t, http.StatusOK, "application/json", `[]`)
	h := NewHandler(apiclient.New(srv.URL), zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/proxy/consent/status/", strings.NewReader("ignored"))
	req.Header.Set("Authorization", "Bearer tok")
	rec := serve(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got.body != "" {
		t.Errorf("GET must not forward a body, got %q", got.body)
	}
}

func TestRelay_RejectsPaths(t *testing.T) {
	srv, _, hits := newBackend(t, http.StatusOK, "application/json", `{}`)
	h := NewHandler(apiclient.New(srv.URL), zerolog.Nop())

	for _, path := range []string{
		"/api/proxy/billing/invoices",
		"/api/proxy/patient/../admin/users/",
		"/api/proxy/",
	} {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer tok")
		c := e.NewContext(req, httptest.NewRecorder())
		if code := httpErrorCode(t, h.Relay(c)); code != http.StatusForbidden {
			t.Errorf("%s: expected 403, got %d", path, code)
		}
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Errorf("rejected paths must not reach the backend, got %d calls", *hits)
	}
}

func TestRelay_RequiresBearer(t *testing.T) {
	srv, _, hits := newBackend(t, http.StatusOK, "application/json", `{}`)
	h := NewHandler(apiclient.New(srv.URL), zerolog.Nop())

	for _, header := range []string{"", "Session tok", "Basic dXNlcg==", "Bearer "} {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/api/proxy/patient/records/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		c := e.NewContext(req, httptest.NewRecorder())
		if code := httpErrorCode(t, h.Relay(c)); code != http.StatusUnauthorized {
			t.Errorf("%q: expected 401, got %d", header, code)
		}
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Error("unauthenticated calls must not reach the backend")
	}
}

func TestRelay_WrapsNonJSON(t *testing.T) {
	srv, _, _ := newBackend(t, http.StatusNotFound, "text/html", "<h1>Not Found</h1>\n")
	h := NewHandler(apiclient.New(srv.URL), zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/proxy/provider/patients/99/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := serve(h, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
			Status  int    `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Message != "<h1>Not Found</h1>" || body.Error.Status != http.StatusNotFound {
		t.Errorf("unexpected wrapper %+v", body)
	}
}

func TestRelay_RelaysUpstream5xx(t *testing.T) {
	srv, _, _ := newBackend(t, http.StatusServiceUnavailable, "application/json", `{"detail":"down"}`)
	h := NewHandler(apiclient.New(srv.URL), zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/proxy/admin/users/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := serve(h, req)

	if rec.Code != http.StatusServiceUnavailable || rec.Body.String() != `{"detail":"down"}` {
		t.Errorf("unexpected relay %d %s", rec.Code, rec.Body.String())
	}
}

func TestRelay_TransportFailure(t *testing.T) {
	h := NewHandler(apiclient.New("http://127.0.0.1:1"), zerolog.Nop())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/proxy/patient/records/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	c := e.NewContext(req, httptest.NewRecorder())

	if code := httpErrorCode(t, h.Relay(c)); code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", code)
	}
}

func TestRelay_NoContent(t *testing.T) {
	srv, got, _ := newBackend(t, http.StatusNoContent, "", "")
	h := NewHandler(apiclient.New(srv.URL), zerolog.Nop())

	req := httptest.NewRequest(http.MethodDelete, "/api/proxy/users/notifications/4/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := serve(h, req)

	if rec.Code != http.StatusNoContent || got.method != http.MethodDelete {
		t.Errorf("unexpected relay %d (%s)", rec.Code, got.method)
	}
}

func TestAllowed(t *testing.T) {
	allow := DefaultAllowList()
	tests := []struct {
		target string
		want   bool
	}{
		{"patient/records/", true},
		{"emergency-access/requests/", true},
		{"auth/me/", true},
		{"billing/invoices", false},
		{"", false},
		{"patient/../admin/", false},
		{"patientx/", false},
		{"/patient/records/", false},
		{"patient\\records", false},
		{"http://evil/patient/", false},
	}
	for _, tt := range tests {
		if got := Allowed(tt.target, allow); got != tt.want {
			t.Errorf("Allowed(%q) = %v, want %v", tt.target, got, tt.want)
		}
	}
}

func TestGuardFor(t *testing.T) {
	rules := DefaultGuards()
	tests := []struct {
		target string
		guard  string
		found  bool
	}{
		{"admin/users/", "admin", true},
		{"provider/patients/", "provider", true},
		{"researcher/studies/", "research", true},
		{"caregiver/patients/", "caregiver", true},
		{"patient/records/", "clinical", true},
		{"consent/", "patient", true},
		{"compliance/reports/", "compliance", true},
		{"users/me/", "", false},
		{"auth/me/", "", false},
	}
	for _, tt := range tests {
		g, ok := GuardFor(tt.target, rules)
		if ok != tt.found || g.Name != tt.guard {
			t.Errorf("GuardFor(%q) = %q, %v; want %q, %v", tt.target, g.Name, ok, tt.guard, tt.found)
		}
	}
}

func withSession(req *http.Request, role auth.Role) *http.Request {
	s := &session.TabSession{TabID: "tab-aaaaaaaa", AccessToken: "tok", User: &auth.User{ID: "u-1", Role: role}}
	return req.WithContext(session.WithSession(req.Context(), s))
}

func TestRelay_GuardsRoleAreas(t *testing.T) {
	tests := []struct {
		name   string
		role   auth.Role
		path   string
		status int
		title  string
	}{
		{"patient in admin area", auth.RolePatient, "/api/proxy/admin/users/", http.StatusForbidden, "Administrative Access Required"},
		{"patient in provider area", auth.RolePatient, "/api/proxy/provider/patients/", http.StatusForbidden, "Provider Access Required"},
		{"compliance in patient area", auth.RoleCompliance, "/api/proxy/patient/records/", http.StatusForbidden, "Clinical Access Required"},
		{"provider in researcher area", auth.RoleProvider, "/api/proxy/researcher/studies/", http.StatusForbidden, "Research Access Required"},
		{"patient in patient area", auth.RolePatient, "/api/proxy/patient/records/", http.StatusOK, ""},
		{"admin in admin area", auth.RoleAdmin, "/api/proxy/admin/users/", http.StatusOK, ""},
		{"caregiver in caregiver area", auth.RoleCaregiver, "/api/proxy/caregiver/patients/", http.StatusOK, ""},
		{"superadmin anywhere", auth.RoleSuperadmin, "/api/proxy/consent/", http.StatusOK, ""},
		{"unguarded prefix", auth.RolePatient, "/api/proxy/users/me/", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, hits := newBackend(t, http.StatusOK, "application/json", `{}`)
			h := NewHandler(apiclient.New(srv.URL), zerolog.Nop())

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Authorization", "Bearer tok")
			rec := httptest.NewRecorder()
			if err := h.Relay(echo.New().NewContext(withSession(req, tt.role), rec)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if tt.status != http.StatusForbidden {
				if atomic.LoadInt32(hits) != 1 {
					t.Errorf("expected the call to be forwarded, got %d calls", *hits)
				}
				return
			}
			if atomic.LoadInt32(hits) != 0 {
				t.Error("a denied call must not reach the backend")
			}
			var body map[string]auth.DeniedPanel
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"].Title != tt.title || body["error"].Code != "access_denied" {
				t.Errorf("unexpected panel %+v", body["error"])
			}
		})
	}
}

func TestRelay_BareBearerSkipsGuards(t *testing.T) {
	srv, _, hits := newBackend(t, http.StatusForbidden, "application/json", `{"detail":"forbidden"}`)
	h := NewHandler(apiclient.New(srv.URL), zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/proxy/admin/users/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	if err := h.Relay(echo.New().NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(hits) != 1 || rec.Code != http.StatusForbidden {
		t.Errorf("expected the backend to decide, got %d calls and status %d", *hits, rec.Code)
	}
}
