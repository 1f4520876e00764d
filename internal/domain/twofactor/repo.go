package twofactor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/careportal/portal/internal/platform/session"
)

// Repository is the enrollment surface of the REST backend.
type Repository interface {
	Setup(ctx context.Context) (*SetupResult, error)
	Confirm(ctx context.Context, code string) error
}

// PendingStore keeps enrollments that are waiting for their first code.
type PendingStore interface {
	Get(ctx context.Context, userID string) (*Enrollment, error)
	Save(ctx context.Context, e *Enrollment, ttl time.Duration) error
	Delete(ctx context.Context, userID string) error
}

type pendingStore struct {
	store session.Store
}

// NewPendingStore keeps pending enrollments in the tab session store, so
// they share its Redis or memory backend.
func NewPendingStore(store session.Store) PendingStore {
	return &pendingStore{store: store}
}

func pendingKey(userID string) string { return "2fa:" + userID }

func (p *pendingStore) Get(ctx context.Context, userID string) (*Enrollment, error) {
	data, err := p.store.Get(ctx, pendingKey(userID))
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrNoPendingSetup
	}
	if err != nil {
		return nil, fmt.Errorf("load pending enrollment: %w", err)
	}
	var e Enrollment
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode pending enrollment: %w", err)
	}
	return &e, nil
}

func (p *pendingStore) Save(ctx context.Context, e *Enrollment, ttl time.Duration) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := p.store.Set(ctx, pendingKey(e.UserID), data, ttl); err != nil {
		return fmt.Errorf("save pending enrollment: %w", err)
	}
	return nil
}

func (p *pendingStore) Delete(ctx context.Context, userID string) error {
	return p.store.Delete(ctx, pendingKey(userID))
}
