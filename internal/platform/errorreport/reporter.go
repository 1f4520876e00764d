// Package errorreport sends server errors to Sentry. Credentials and PHI are
// scrubbed from every event before it leaves the process; without a DSN
// events are only logged.
package errorreport

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careportal/portal/internal/platform/hipaa"
)

const (
	flushTimeout = 5 * time.Second
	redacted     = "[redacted]"
)

// ErrFlushTimeout is returned by Close when queued events were not
// delivered in time.
var ErrFlushTimeout = errors.New("errorreport: flush timed out")

// scrubbedHeaders are never forwarded. Keys are canonical.
var scrubbedHeaders = map[string]bool{
	"Authorization":   true,
	"Cookie":          true,
	"Set-Cookie":      true,
	"X-Tab-Id":        true,
	"X-Session-Token": true,
}

// Reporter captures errors. The zero value is not usable; call New.
type Reporter struct {
	hub    *sentry.Hub
	logger zerolog.Logger
	closed atomic.Bool
}

// New creates a Reporter. An empty dsn yields a log-only reporter.
func New(dsn, env string, logger zerolog.Logger) (*Reporter, error) {
	return newReporter(dsn, env, nil, logger)
}

func newReporter(dsn, env string, transport sentry.Transport, logger zerolog.Logger) (*Reporter, error) {
	r := &Reporter{logger: logger}
	if dsn == "" {
		return r, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env,
		Transport:   transport,
		BeforeSend:  scrubEvent,
	})
	if err != nil {
		return nil, err
	}
	r.hub = sentry.NewHub(client, sentry.NewScope())
	return r, nil
}

// Enabled reports whether events are sent to a collector.
func (r *Reporter) Enabled() bool {
	return r != nil && r.hub != nil
}

// Capture records err and returns the diagnostic id shown to the user. req
// may be nil. After Close events are only logged.
func (r *Reporter) Capture(ctx context.Context, err error, req *http.Request) string {
	rid, _ := ctx.Value(requestIDKey{}).(string)

	var id string
	if r.Enabled() && !r.closed.Load() {
		hub := r.hub.Clone()
		hub.ConfigureScope(func(scope *sentry.Scope) {
			if req != nil {
				scope.SetRequest(req)
			}
			if rid != "" {
				scope.SetTag("request_id", rid)
			}
		})
		if eid := hub.CaptureException(err); eid != nil {
			id = string(*eid)
		}
	}
	if id == "" {
		id = strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	r.logger.Error().Err(err).
		Str("diagnostic_id", id).
		Str("request_id", rid).
		Msg("error captured")
	return id
}

type requestIDKey struct{}

// WithRequestID tags events captured with ctx with the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// Close stops sending events and waits for queued ones to be delivered, or
// for ctx to end. It is safe to call more than once.
func (r *Reporter) Close(ctx context.Context) error {
	if !r.Enabled() || r.closed.Swap(true) {
		return nil
	}
	timeout := flushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !r.hub.Flush(timeout) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrFlushTimeout
	}
	return nil
}

// scrubEvent strips credentials, the tab id and PHI-bearing query values
// from ev before it is sent.
func scrubEvent(ev *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if req := ev.Request; req != nil {
		req.Cookies = ""
		req.Data = ""
		req.Env = nil
		req.Headers = scrubHeaderMap(req.Headers)
		req.QueryString = scrubQuery(req.QueryString)
		if u, err := url.Parse(req.URL); err == nil {
			req.URL = ScrubURL(u)
		}
	}
	ev.User.Email = ""
	ev.User.IPAddress = ""
	ev.User.Username = ""
	return ev
}

// ScrubHeaders flattens h, redacting credentials and the tab id.
func ScrubHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return scrubHeaderMap(out)
}

func scrubHeaderMap(h map[string]string) map[string]string {
	for name := range h {
		if scrubbedHeaders[http.CanonicalHeaderKey(name)] {
			h[name] = redacted
		}
	}
	return h
}

// ScrubURL returns u as a string with sensitive query values redacted.
func ScrubURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	cp := *u
	cp.User = nil
	cp.RawQuery = scrubQuery(cp.RawQuery)
	return cp.String()
}

func scrubQuery(raw string) string {
	if raw == "" {
		return ""
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return redacted
	}
	for name := range q {
		if hipaa.IsSensitiveParam(name) {
			q[name] = []string{redacted}
		}
	}
	return q.Encode()
}
