package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func TestParseAuthorization(t *testing.T) {
	tests := []struct {
		header     string
		wantScheme string
		wantToken  string
		wantOK     bool
	}{
		{"Bearer abc", SchemeBearer, "abc", true},
		{"bearer abc", SchemeBearer, "abc", true},
		{"Session xyz", SchemeSession, "xyz", true},
		{"Bearer", "", "", false},
		{"Bearer ", "", "", false},
		{"Basic dXNlcjpwYXNz", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		scheme, token, ok := ParseAuthorization(tt.header)
		if scheme != tt.wantScheme || token != tt.wantToken || ok != tt.wantOK {
			t.Errorf("ParseAuthorization(%q) = %q, %q, %v", tt.header, scheme, token, ok)
		}
	}
}

func TestRequireAuthorization_MissingHeader(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := RequireAuthorization()(okHandler)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestRequireAuthorization_InvalidFormat(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Token abc123")
	c := e.NewContext(req, httptest.NewRecorder())

	err := RequireAuthorization()(okHandler)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestRequireAuthorization_StoresToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	c := e.NewContext(req, httptest.NewRecorder())

	var got string
	err := RequireAuthorization()(func(c echo.Context) error {
		got = TokenFromContext(c.Request().Context())
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "tok-1" {
		t.Errorf("expected tok-1, got %q", got)
	}
}

func TestTokenParser_Unverified(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
		UserID:           "u-1",
		Role:             "provider",
	}, []byte("some-backend-key"))

	p := NewTokenParser(nil)
	claims, err := p.Parse(tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.UserID != "u-1" || claims.Role != "provider" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	got, ok := p.Expiry(tok)
	if !ok || !got.Equal(exp) {
		t.Errorf("expected expiry %v, got %v (%v)", exp, got, ok)
	}
}

func TestTokenParser_VerifiedRejectsWrongKey(t *testing.T) {
	tok := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}, []byte("other-key"))

	if _, err := NewTokenParser(testSigningKey).Parse(tok); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestTokenParser_VerifiedAcceptsValid(t *testing.T) {
	tok := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		UserID:           "u-2",
	}, testSigningKey)

	claims, err := NewTokenParser(testSigningKey).Parse(tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.UserID != "u-2" {
		t.Errorf("got %q", claims.UserID)
	}
}

func TestTokenParser_OpaqueToken(t *testing.T) {
	if _, ok := NewTokenParser(nil).Expiry("not-a-jwt"); ok {
		t.Error("opaque token should have no expiry")
	}
}

func TestWithUser_SetsIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := WithUser(req.Context(), &User{ID: "u-9", Role: RoleCaregiver})

	if UserIDFromContext(ctx) != "u-9" {
		t.Error("user id not set")
	}
	roles := RolesFromContext(ctx)
	if len(roles) != 1 || roles[0] != "caregiver" {
		t.Errorf("unexpected roles %v", roles)
	}
	if UserFromContext(ctx) == nil {
		t.Error("user not set")
	}
}
