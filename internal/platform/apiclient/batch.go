package apiclient

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"
)

const batchConcurrency = 8

// Call describes one request of a Batch.
type Call struct {
	Method  string
	Path    string
	Body    interface{}
	Options []RequestOption
}

// Result is the outcome of one Call.
type Result struct {
	Response *Response
	Err      error
}

// Batch issues calls concurrently and returns their results in input order.
// A failing call does not cancel the others.
func (c *Client) Batch(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))

	var g errgroup.Group
	g.SetLimit(batchConcurrency)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			method := call.Method
			if method == "" {
				method = http.MethodGet
			}
			resp, err := c.Do(ctx, method, call.Path, call.Body, call.Options...)
			results[i] = Result{Response: resp, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
