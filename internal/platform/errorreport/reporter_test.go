package errorreport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
)

const testDSN = "https://abc123@o1.ingest.example.com/42"

// recordingTransport keeps events in memory instead of posting them.
type recordingTransport struct {
	mu      sync.Mutex
	events  []*sentry.Event
	flushes int
	flushOK bool
}

func (t *recordingTransport) Configure(sentry.ClientOptions) {}

func (t *recordingTransport) SendEvent(ev *sentry.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, ev)
}

func (t *recordingTransport) Flush(time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushes++
	return t.flushOK
}

func (t *recordingTransport) Close() {}

func (t *recordingTransport) sent() []*sentry.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*sentry.Event(nil), t.events...)
}

func newTestReporter(t *testing.T) (*Reporter, *recordingTransport) {
	t.Helper()
	tr := &recordingTransport{flushOK: true}
	r, err := newReporter(testDSN, "test", tr, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return r, tr
}

func TestNew_RejectsBadDSN(t *testing.T) {
	for _, bad := range []string{"not a url", "https://host/1"} {
		if _, err := New(bad, "test", zerolog.Nop()); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestScrubHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("Cookie", "a=b")
	h.Set("X-Tab-ID", "tab-1234567")
	h.Set("X-Session-Token", "fresh")
	h.Set("Accept", "application/json")

	got := ScrubHeaders(h)
	for _, name := range []string{"Authorization", "Cookie", "X-Tab-Id", "X-Session-Token"} {
		if got[name] != redacted {
			t.Errorf("%s not redacted: %q", name, got[name])
		}
	}
	if got["Accept"] != "application/json" {
		t.Errorf("Accept should pass, got %q", got["Accept"])
	}
}

func TestScrubURL(t *testing.T) {
	u, _ := url.Parse("https://user:pw@portal.example.com/reset?token=abc&email=a%40b.c&page=2")
	got := ScrubURL(u)
	if strings.Contains(got, "abc") || strings.Contains(got, "a%40b.c") || strings.Contains(got, "pw") {
		t.Errorf("sensitive values leaked: %s", got)
	}
	if !strings.Contains(got, "page=2") {
		t.Errorf("non-sensitive params must be kept: %s", got)
	}
}

func TestCapture_LogOnly(t *testing.T) {
	r, err := New("", "test", zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Enabled() {
		t.Error("reporter without DSN must not be enabled")
	}
	id := r.Capture(context.Background(), errors.New("boom"), nil)
	if len(id) != 32 {
		t.Errorf("unexpected diagnostic id %q", id)
	}
	if err := r.Close(context.Background()); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestCapture_SendsScrubbedEvent(t *testing.T) {
	r, tr := newTestReporter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/profile?ssn=123-45-6789&page=2", nil)
	req.Header.Set("Authorization", "Session tok")
	req.Header.Set("X-Tab-ID", "tab-aaaaaaaa")
	req.Header.Set("Cookie", "portal=1")
	ctx := WithRequestID(context.Background(), "req-1")
	id := r.Capture(ctx, errors.New("boom"), req)

	events := tr.sent()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	ev := events[0]
	if string(ev.EventID) != id {
		t.Errorf("diagnostic id %q does not match event %q", id, ev.EventID)
	}
	if ev.Environment != "test" {
		t.Errorf("got environment %q", ev.Environment)
	}
	if ev.Request == nil {
		t.Fatal("expected request on event")
	}
	if strings.Contains(ev.Request.URL+ev.Request.QueryString, "6789") {
		t.Errorf("query not scrubbed: %+v", ev.Request)
	}
	if !strings.Contains(ev.Request.QueryString, "page=2") {
		t.Errorf("non-sensitive params must be kept: %q", ev.Request.QueryString)
	}
	for name, v := range ev.Request.Headers {
		if scrubbedHeaders[http.CanonicalHeaderKey(name)] && v != redacted {
			t.Errorf("%s not scrubbed: %q", name, v)
		}
	}
	if ev.Request.Cookies != "" {
		t.Errorf("cookies must be dropped, got %q", ev.Request.Cookies)
	}
	if ev.Tags["request_id"] != "req-1" {
		t.Error("request id tag missing")
	}
}

func TestCapture_ConcurrentRequestsKeepOwnTags(t *testing.T) {
	r, tr := newTestReporter(t)

	var wg sync.WaitGroup
	for _, rid := range []string{"req-a", "req-b", "req-c"} {
		wg.Add(1)
		go func(rid string) {
			defer wg.Done()
			r.Capture(WithRequestID(context.Background(), rid), errors.New(rid), nil)
		}(rid)
	}
	wg.Wait()

	for _, ev := range tr.sent() {
		if len(ev.Exception) == 0 || ev.Exception[0].Value != ev.Tags["request_id"] {
			t.Errorf("event tagged %q carries the wrong error", ev.Tags["request_id"])
		}
	}
}

func TestClose_Flushes(t *testing.T) {
	r, tr := newTestReporter(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := r.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if tr.flushes != 1 {
		t.Errorf("expected one flush, got %d", tr.flushes)
	}
}

func TestClose_ReportsUndeliveredEvents(t *testing.T) {
	r, tr := newTestReporter(t)
	tr.flushOK = false
	if err := r.Close(context.Background()); !errors.Is(err, ErrFlushTimeout) {
		t.Fatalf("expected ErrFlushTimeout, got %v", err)
	}
}

func TestCapture_AfterCloseOnlyLogs(t *testing.T) {
	r, tr := newTestReporter(t)
	_ = r.Close(context.Background())

	id := r.Capture(context.Background(), errors.New("late"), httptest.NewRequest(http.MethodGet, "/api/profile", nil))
	if len(id) != 32 {
		t.Errorf("expected a diagnostic id, got %q", id)
	}
	if n := len(tr.sent()); n != 0 {
		t.Errorf("no event may be sent after close, got %d", n)
	}
}
