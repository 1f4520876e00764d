package apiclient

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestExtractMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"detail first", `{"detail":"Invalid credentials","message":"other"}`, "Invalid credentials"},
		{"nested error message", `{"error":{"message":"Account locked"},"message":"other"}`, "Account locked"},
		{"message", `{"message":"Try again"}`, "Try again"},
		{"string error", `{"error":"nope"}`, "nope"},
		{"field errors", `{"non_field_errors":["Email not verified"]}`, "Email not verified"},
		{"empty detail skipped", `{"detail":"  ","message":"fallthrough"}`, "fallthrough"},
		{"non-string detail", `{"detail":{"x":1}}`, "fallback"},
		{"not json", `<html>oops</html>`, "fallback"},
		{"empty", ``, "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractMessage([]byte(tt.body), "fallback"); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResponseErr(t *testing.T) {
	ok := &Response{StatusCode: http.StatusOK}
	if err := ok.Err("x"); err != nil {
		t.Fatalf("2xx must not be an error: %v", err)
	}

	bad := &Response{StatusCode: http.StatusForbidden, Body: []byte(`{"detail":"denied"}`)}
	var de *DisplayError
	if err := bad.Err("x"); !errors.As(err, &de) || de.StatusCode != http.StatusForbidden || de.Message != "denied" {
		t.Fatalf("unexpected error %#v", err)
	}
}

func TestFromContext(t *testing.T) {
	fallback := New("http://a.invalid")
	bound := New("http://b.invalid")

	if FromContext(context.Background(), fallback) != fallback {
		t.Error("expected fallback")
	}
	if FromContext(WithClient(context.Background(), bound), fallback) != bound {
		t.Error("expected bound client")
	}
}
