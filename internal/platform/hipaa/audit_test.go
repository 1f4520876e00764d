package hipaa

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestPrepare(t *testing.T) {
	e := &AccessEntry{Method: "GET", Path: "patient/records/"}
	prepare(e)
	if e.ID == uuid.Nil {
		t.Error("expected generated id")
	}
	if e.RecordedAt.IsZero() {
		t.Error("expected recorded_at to be set")
	}

	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	id := uuid.New()
	e = &AccessEntry{ID: id, RecordedAt: fixed}
	prepare(e)
	if e.ID != id || !e.RecordedAt.Equal(fixed) {
		t.Error("existing values must be kept")
	}
}

func TestRecorderFunc(t *testing.T) {
	var got *AccessEntry
	var r Recorder = RecorderFunc(func(_ context.Context, e *AccessEntry) error {
		got = e
		return nil
	})
	_ = r.RecordAccess(context.Background(), &AccessEntry{Path: "consent/status/"})
	if got == nil || got.Path != "consent/status/" {
		t.Fatalf("unexpected entry %+v", got)
	}
}

func TestPGRecorder_RoundTrip(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	r := NewPGRecorder(pool)
	if err := r.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	user := "test-" + uuid.NewString()
	e := &AccessEntry{UserID: user, Method: "GET", Path: "patient/records/", Resource: "patient", Action: "read", PHI: true, StatusCode: 200}
	if err := r.RecordAccess(ctx, e); err != nil {
		t.Fatalf("record: %v", err)
	}
	entries, err := r.Recent(ctx, user, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != e.ID || !entries[0].PHI {
		t.Fatalf("unexpected entries %+v", entries)
	}
}
