package emergency

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/careportal/portal/internal/platform/auth"
	"github.com/careportal/portal/internal/platform/middleware"
	"github.com/careportal/portal/pkg/pagination"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) List(ctx context.Context, f ListFilter, p pagination.Params) ([]*AccessRequest, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, ErrInvalidStatus
	}
	return s.repo.List(ctx, f, p)
}

func (s *Service) Get(ctx context.Context, id string) (*AccessRequest, error) {
	if !idPattern.MatchString(id) {
		return nil, ErrInvalidID
	}
	return s.repo.GetByID(ctx, id)
}

// Review approves or rejects a pending request on behalf of reviewer.
// Rejections must carry notes.
func (s *Service) Review(ctx context.Context, reviewer *auth.User, id string, r Review) (*AccessRequest, error) {
	if !idPattern.MatchString(id) {
		return nil, ErrInvalidID
	}
	r.Decision = Decision(strings.ToLower(strings.TrimSpace(string(r.Decision))))
	if r.Decision != DecisionApprove && r.Decision != DecisionReject {
		return nil, ErrInvalidDecision
	}
	r.Notes = middleware.CleanText(r.Notes)
	if r.Decision == DecisionReject && r.Notes == "" {
		return nil, ErrNotesRequired
	}
	if utf8.RuneCountInString(r.Notes) > maxNotesLength {
		return nil, ErrNotesTooLong
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusPending {
		return nil, fmt.Errorf("%w (status %s)", ErrNotPending, current.Status)
	}

	out, err := s.repo.Review(ctx, id, r)
	if err != nil {
		return nil, err
	}

	evt := s.logger.Warn().
		Str("type", "break_glass_review").
		Str("request_id", id).
		Str("decision", string(r.Decision)).
		Str("patient_id", current.PatientID).
		Str("requester_id", current.RequesterID)
	if reviewer != nil {
		evt = evt.Str("reviewer_id", reviewer.ID)
	}
	evt.Msg("emergency access reviewed")
	return out, nil
}
