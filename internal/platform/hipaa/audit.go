package hipaa

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccessEntry is one audited request against a backend resource.
type AccessEntry struct {
	ID         uuid.UUID `json:"id"`
	UserID     string    `json:"user_id"`
	Role       string    `json:"role"`
	TabID      string    `json:"tab_id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Resource   string    `json:"resource"`
	Action     string    `json:"action"` // read, create, update, delete
	PHI        bool      `json:"phi"`
	StatusCode int       `json:"status_code"`
	RequestID  string    `json:"request_id"`
	RemoteIP   string    `json:"remote_ip"`
	UserAgent  string    `json:"user_agent"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Recorder persists access entries.
type Recorder interface {
	RecordAccess(ctx context.Context, e *AccessEntry) error
}

// RecorderFunc is a function adapter for Recorder.
type RecorderFunc func(ctx context.Context, e *AccessEntry) error

func (f RecorderFunc) RecordAccess(ctx context.Context, e *AccessEntry) error {
	return f(ctx, e)
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS portal_access_audit (
    id          UUID PRIMARY KEY,
    user_id     TEXT NOT NULL DEFAULT '',
    role        TEXT NOT NULL DEFAULT '',
    tab_id      TEXT NOT NULL DEFAULT '',
    method      TEXT NOT NULL,
    path        TEXT NOT NULL,
    resource    TEXT NOT NULL DEFAULT '',
    action      TEXT NOT NULL,
    phi         BOOLEAN NOT NULL DEFAULT FALSE,
    status_code INTEGER NOT NULL,
    request_id  TEXT NOT NULL DEFAULT '',
    remote_ip   TEXT NOT NULL DEFAULT '',
    user_agent  TEXT NOT NULL DEFAULT '',
    recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS portal_access_audit_user_idx
    ON portal_access_audit (user_id, recorded_at DESC)`

// PGRecorder writes access entries to the portal_access_audit table.
type PGRecorder struct {
	pool *pgxpool.Pool
}

func NewPGRecorder(pool *pgxpool.Pool) *PGRecorder {
	return &PGRecorder{pool: pool}
}

// EnsureSchema creates the audit table if it does not exist.
func (r *PGRecorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("hipaa audit: create schema: %w", err)
	}
	return nil
}

// RecordAccess inserts e, filling in ID and RecordedAt when unset.
func (r *PGRecorder) RecordAccess(ctx context.Context, e *AccessEntry) error {
	prepare(e)

	const query = `
		INSERT INTO portal_access_audit (
			id, user_id, role, tab_id, method, path, resource, action, phi,
			status_code, request_id, remote_ip, user_agent, recorded_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

	_, err := r.pool.Exec(ctx, query,
		e.ID, e.UserID, e.Role, e.TabID, e.Method, e.Path, e.Resource, e.Action, e.PHI,
		e.StatusCode, e.RequestID, e.RemoteIP, e.UserAgent, e.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("hipaa audit: insert: %w", err)
	}
	return nil
}

// Recent returns the latest entries, newest first. An empty userID returns
// entries of every user.
func (r *PGRecorder) Recent(ctx context.Context, userID string, limit int) ([]AccessEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	const query = `
		SELECT id, user_id, role, tab_id, method, path, resource, action, phi,
			status_code, request_id, remote_ip, user_agent, recorded_at
		FROM portal_access_audit
		WHERE $1 = '' OR user_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("hipaa audit: query: %w", err)
	}
	defer rows.Close()

	var out []AccessEntry
	for rows.Next() {
		var e AccessEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Role, &e.TabID, &e.Method, &e.Path, &e.Resource,
			&e.Action, &e.PHI, &e.StatusCode, &e.RequestID, &e.RemoteIP, &e.UserAgent, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("hipaa audit: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func prepare(e *AccessEntry) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
}
