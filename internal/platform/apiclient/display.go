package apiclient

import (
	"encoding/json"
	"strings"
)

// DisplayError is a 4xx backend answer reduced to a message fit for the UI.
type DisplayError struct {
	StatusCode int
	Message    string
}

func (e *DisplayError) Error() string { return e.Message }

// Err returns nil for a 2xx response and a *DisplayError otherwise.
func (r *Response) Err(fallback string) error {
	if r.OK() {
		return nil
	}
	return &DisplayError{StatusCode: r.StatusCode, Message: ExtractMessage(r.Body, fallback)}
}

// ExtractMessage picks the human-readable message out of a backend error
// body. Fields are tried in order: detail, error.message, message. A string
// "error" field and the first entry of a DRF-style field error list are
// accepted before falling back.
func ExtractMessage(body []byte, fallback string) string {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return fallback
	}

	if msg := stringField(env, "detail"); msg != "" {
		return msg
	}
	if raw, ok := env["error"]; ok {
		var nested map[string]json.RawMessage
		if json.Unmarshal(raw, &nested) == nil {
			if msg := stringField(nested, "message"); msg != "" {
				return msg
			}
		}
	}
	if msg := stringField(env, "message"); msg != "" {
		return msg
	}
	if msg := stringField(env, "error"); msg != "" {
		return msg
	}
	if raw, ok := env["non_field_errors"]; ok {
		var list []string
		if json.Unmarshal(raw, &list) == nil && len(list) > 0 && strings.TrimSpace(list[0]) != "" {
			return list[0]
		}
	}
	return fallback
}

func stringField(m map[string]json.RawMessage, key string) string {
	raw, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}
