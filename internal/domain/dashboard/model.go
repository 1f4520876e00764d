package dashboard

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/careportal/portal/internal/platform/auth"
)

// ErrUnknownRole means no provider is registered for the user's role.
var ErrUnknownRole = errors.New("no dashboard for role")

// Dashboard is the data behind one role dashboard. Widgets holds the raw
// backend payload per widget; a widget that failed to load is absent from
// Widgets and present in Errors.
type Dashboard struct {
	Role        auth.Role                  `json:"role"`
	Title       string                     `json:"title"`
	User        UserSummary                `json:"user"`
	Widgets     map[string]json.RawMessage `json:"widgets"`
	Errors      map[string]string          `json:"errors,omitempty"`
	GeneratedAt time.Time                  `json:"generated_at"`
}

type UserSummary struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// Widget is one backend call feeding a dashboard panel.
type Widget struct {
	Name     string
	Endpoint string
	// Params limits list endpoints, e.g. page_size.
	Params map[string]string
	// Feature, when set, hides the widget unless the flag is on.
	Feature string
}
