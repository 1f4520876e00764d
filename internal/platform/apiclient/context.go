package apiclient

import "context"

type ctxKey struct{}

// WithClient stores a request-scoped client, typically one bound to the
// caller's tab, on ctx.
func WithClient(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the client stored by WithClient, or fallback.
func FromContext(ctx context.Context, fallback *Client) *Client {
	if c, ok := ctx.Value(ctxKey{}).(*Client); ok && c != nil {
		return c
	}
	return fallback
}
