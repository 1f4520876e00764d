package twofactor

import (
	"errors"
	"time"
)

// State is the two-factor lifecycle of one user.
type State string

const (
	StateDisabled     State = "disabled"
	StatePendingSetup State = "pending_setup"
	StateEnabled      State = "enabled"
)

var (
	ErrAlreadyEnabled = errors.New("two-factor authentication is already enabled")
	ErrNoPendingSetup = errors.New("no two-factor setup is in progress")
	ErrNotEnabled     = errors.New("two-factor authentication is not enabled")
	ErrInvalidCode    = errors.New("verification code must be 6 digits")
	ErrNoUser         = errors.New("no user for this session")
)

// Enrollment is the transient setup state of a user. Only pending
// enrollments are stored; enabled and disabled are read off the user.
type Enrollment struct {
	UserID    string    `json:"user_id"`
	State     State     `json:"state"`
	Secret    string    `json:"secret,omitempty"`
	QRCode    string    `json:"qr_code,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// SetupResult is the backend's answer to a setup request. QRCode is either
// an otpauth:// URI or a data URL of the rendered image.
type SetupResult struct {
	Secret string `json:"secret"`
	QRCode string `json:"qr_code"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type statusResponse struct {
	State            State  `json:"state"`
	TwoFactorEnabled bool   `json:"two_factor_enabled"`
	Secret           string `json:"secret,omitempty"`
	QRCode           string `json:"qr_code,omitempty"`
}

func newStatusResponse(e *Enrollment) statusResponse {
	return statusResponse{
		State:            e.State,
		TwoFactorEnabled: e.State == StateEnabled,
		Secret:           e.Secret,
		QRCode:           e.QRCode,
	}
}
