package apiclient

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// RetryPolicy configures WithRetry. Delays double from BaseDelay up to
// MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is used for idempotent background reads.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    5 * time.Second,
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// WithRetry runs fn until it succeeds or the policy is exhausted. 5xx errors,
// transport errors and 429 responses are retried; every other 4xx response
// is returned immediately, as are ErrSessionExpired and context errors.
func WithRetry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (*Response, error)) (*Response, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		resp *Response
		err  error
	)
	for attempt := 1; ; attempt++ {
		resp, err = fn(ctx)
		if !retryable(resp, err) || attempt >= attempts {
			return resp, err
		}

		wait := p.delay(attempt)
		if ra := retryAfter(resp); ra > 0 && (p.MaxDelay == 0 || ra <= p.MaxDelay) {
			wait = ra
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func retryable(resp *Response, err error) bool {
	if err != nil {
		if errors.Is(err, ErrSessionExpired) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		return true
	}
	return resp != nil && resp.StatusCode == http.StatusTooManyRequests
}

func retryAfter(resp *Response) time.Duration {
	if resp == nil {
		return 0
	}
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
