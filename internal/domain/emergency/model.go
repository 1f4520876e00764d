package emergency

import (
	"errors"
	"regexp"
	"time"
)

// Status is the lifecycle state of a break-glass access request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
	StatusRevoked  Status = "revoked"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusExpired, StatusRevoked:
		return true
	}
	return false
}

// Decision is a compliance officer's verdict on a pending request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

var (
	ErrInvalidID       = errors.New("invalid request id")
	ErrInvalidStatus   = errors.New("status filter must be one of pending, approved, rejected, expired, revoked")
	ErrInvalidDecision = errors.New("decision must be approve or reject")
	ErrNotesRequired   = errors.New("notes are required when rejecting a request")
	ErrNotesTooLong    = errors.New("notes must be at most 2000 characters")
	ErrNotPending      = errors.New("request has already been reviewed")
	ErrNotFound        = errors.New("emergency access request not found")
)

const maxNotesLength = 2000

var idPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// AccessRequest is an emergency ("break-glass") request by a clinician to
// see a patient's records outside their normal grant.
type AccessRequest struct {
	ID              string     `json:"id"`
	RequesterID     string     `json:"requester_id"`
	RequesterName   string     `json:"requester_name,omitempty"`
	RequesterRole   string     `json:"requester_role,omitempty"`
	PatientID       string     `json:"patient_id"`
	PatientName     string     `json:"patient_name,omitempty"`
	Reason          string     `json:"reason"`
	Status          Status     `json:"status"`
	RequestedAt     time.Time  `json:"requested_at"`
	AccessExpiresAt *time.Time `json:"access_expires_at,omitempty"`
	ReviewedBy      string     `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes     string     `json:"review_notes,omitempty"`
}

// Review is the body of a review submission.
type Review struct {
	Decision Decision `json:"decision"`
	Notes    string   `json:"notes"`
}

// ListFilter narrows a request listing.
type ListFilter struct {
	Status Status
}
