// Package apiclient is the outbound HTTP client for the portal's REST
// backend. A Client bound to a TokenSource attaches the tab's session token
// to every request and recovers from an expired token by refreshing it once
// and replaying the request.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrSessionExpired is returned when the backend rejected the session and it
// could not be refreshed. The tab session has been torn down by then.
var ErrSessionExpired = errors.New("apiclient: session expired")

const (
	defaultTimeout  = 30 * time.Second
	maxResponseBody = 10 << 20

	headerTabID = "X-Tab-ID"
)

// TokenSource supplies the session credential of the tab a call runs on
// behalf of.
type TokenSource interface {
	TabID() string
	// Token returns the current access token, or "" when there is none.
	Token(ctx context.Context) (string, error)
	// Refresh replaces stale with a new access token.
	Refresh(ctx context.Context, stale string) (string, error)
	// Expire discards the session after an unrecoverable 401.
	Expire(ctx context.Context) error
}

// HTTPError is a 5xx answer from the backend.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("apiclient: %s %s: server returned %d", e.Method, e.Path, e.StatusCode)
}

// Response is any backend answer below 500. Callers inspect StatusCode
// themselves; a 4xx is not an error at this layer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v interface{}) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("apiclient: empty response body (status %d)", r.StatusCode)
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("apiclient: decode response: %w", err)
	}
	return nil
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client talks to the backend REST API. The zero-token Client returned by
// New only makes unauthenticated calls; use WithTokens to bind it to a tab.
type Client struct {
	baseURL   string
	http      *http.Client
	logger    zerolog.Logger
	tokens    TokenSource
	onRefresh func(token string)
}

// New creates a Client for the backend rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the backend root the client was created with.
func (c *Client) BaseURL() string { return c.baseURL }

// WithTokens returns a copy of c that authenticates as ts. onRefresh, when
// non-nil, is called with the new access token after a successful refresh.
func (c *Client) WithTokens(ts TokenSource, onRefresh func(token string)) *Client {
	cp := *c
	cp.tokens = ts
	cp.onRefresh = onRefresh
	return &cp
}

type requestOptions struct {
	skipAuth bool
	query    url.Values
	header   http.Header
}

// RequestOption adjusts a single call.
type RequestOption func(*requestOptions)

// SkipAuth sends the request without the session credential.
func SkipAuth() RequestOption {
	return func(o *requestOptions) { o.skipAuth = true }
}

// WithQuery appends q to the request URL.
func WithQuery(q url.Values) RequestOption {
	return func(o *requestOptions) {
		if o.query == nil {
			o.query = url.Values{}
		}
		for k, vs := range q {
			for _, v := range vs {
				o.query.Add(k, v)
			}
		}
	}
}

// WithHeader sets an extra request header.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.header == nil {
			o.header = http.Header{}
		}
		o.header.Set(key, value)
	}
}

func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, opts...)
}

func (c *Client) Post(ctx context.Context, path string, body interface{}, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body, opts...)
}

func (c *Client) Put(ctx context.Context, path string, body interface{}, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, body, opts...)
}

func (c *Client) Patch(ctx context.Context, path string, body interface{}, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, path, body, opts...)
}

func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, opts...)
}

// Do sends a request with a JSON-encoded body. A nil body sends none.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}, opts ...RequestOption) (*Response, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("apiclient: encode %s %s: %w", method, path, err)
		}
		payload = b
	}
	contentType := ""
	if payload != nil {
		contentType = "application/json"
	}
	return c.send(ctx, method, path, payload, contentType, opts)
}

// DoRaw sends payload unchanged with the given content type. It is meant
// for relaying a browser request whose body the portal does not interpret.
func (c *Client) DoRaw(ctx context.Context, method, path string, payload []byte, contentType string, opts ...RequestOption) (*Response, error) {
	return c.send(ctx, method, path, payload, contentType, opts)
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, contentType string, opts []RequestOption) (*Response, error) {
	var o requestOptions
	for _, fn := range opts {
		fn(&o)
	}

	target, err := c.url(path, o.query)
	if err != nil {
		return nil, err
	}

	authed := !o.skipAuth && c.tokens != nil
	token := ""
	if authed {
		token, err = c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("apiclient: load session token: %w", err)
		}
	}

	resp, err := c.roundTrip(ctx, method, target, path, payload, contentType, token, o.header)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || !authed {
		return resp, err
	}

	if token == "" {
		c.expire(ctx, "no session token")
		return nil, ErrSessionExpired
	}
	fresh, err := c.tokens.Refresh(ctx, token)
	if err != nil || fresh == "" {
		c.logger.Info().Err(err).Str("tab_id", c.tokens.TabID()).Msg("session refresh failed")
		c.expire(ctx, "refresh failed")
		return nil, ErrSessionExpired
	}
	if c.onRefresh != nil && fresh != token {
		c.onRefresh(fresh)
	}

	resp, err = c.roundTrip(ctx, method, target, path, payload, contentType, fresh, o.header)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.expire(ctx, "rejected after refresh")
		return nil, ErrSessionExpired
	}
	return resp, nil
}

func (c *Client) expire(ctx context.Context, reason string) {
	if err := c.tokens.Expire(ctx); err != nil {
		c.logger.Warn().Err(err).Str("tab_id", c.tokens.TabID()).Msg("failed to clear expired session")
		return
	}
	c.logger.Info().Str("tab_id", c.tokens.TabID()).Str("reason", reason).Msg("session expired")
}

func (c *Client) url(path string, q url.Values) (string, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return "", fmt.Errorf("apiclient: absolute URL %q not allowed", path)
	}
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(q) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + q.Encode()
	}
	return u, nil
}

func (c *Client) roundTrip(ctx context.Context, method, target, path string, payload []byte, contentType, token string, extra http.Header) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, vs := range extra {
		req.Header[k] = append([]string(nil), vs...)
	}
	if token != "" {
		req.Header.Set("Authorization", "Session "+token)
	}
	if c.tokens != nil && c.tokens.TabID() != "" {
		req.Header.Set(headerTabID, c.tokens.TabID())
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apiclient: %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("apiclient: read %s %s: %w", method, path, err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", res.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("backend call")

	if !validateStatus(res.StatusCode) {
		return nil, &HTTPError{Method: method, Path: path, StatusCode: res.StatusCode, Body: data}
	}
	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: data}, nil
}

// validateStatus decides which statuses come back as a Response.
func validateStatus(status int) bool {
	return status < http.StatusInternalServerError
}
