// Package httpclient wraps outbound HTTP calls to weather and mail providers
// with a circuit breaker and bounded retries on 429 and 5xx responses.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/sony/gobreaker/v2"
)

// ErrUnavailable is returned when retries are exhausted or the breaker is open.
var ErrUnavailable = errors.New("upstream unavailable")

// RetryPolicy bounds how often and how long the client retries.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy starts at 200ms and caps at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    200 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// Client is an *http.Client guarded by a gobreaker circuit breaker.
type Client struct {
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	policy    RetryPolicy
	userAgent string
	sleep     func(context.Context, time.Duration) bool
}

// Option configures a Client.
type Option func(*Client)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithSleepFunc replaces the wait between retries. Tests pass a no-op.
func WithSleepFunc(fn func(context.Context, time.Duration) bool) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New builds a Client whose breaker is named after the upstream it guards.
// The breaker opens after more than five consecutive failures and probes again
// after 30 seconds.
func New(name string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		client: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
		policy: DefaultRetryPolicy(),
		sleep:  retry.SleepWithContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends req, retrying 429 and 5xx responses and transport errors. Any other
// response is returned as-is and the caller closes its body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
	}

	var lastErr error
	attempts := 1 + c.policy.MaxRetries
	for attempt := range attempts {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("status %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var retryAfter string
		if resp != nil {
			retryAfter = resp.Header.Get("Retry-After")
			_ = resp.Body.Close()
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		if attempt < attempts-1 && !c.sleep(req.Context(), c.backoff(attempt, retryAfter)) {
			return nil, req.Context().Err()
		}
	}

	return nil, fmt.Errorf("%w: %s %s: %w", ErrUnavailable, req.Method, req.URL.Host, lastErr)
}

// State reports the breaker state, e.g. "closed" or "open".
func (c *Client) State() string {
	return c.breaker.State().String()
}

// backoff honors a Retry-After header in seconds, otherwise returns a jittered
// exponential wait in [MinWait, min(MaxWait, MinWait*2^attempt)].
func (c *Client) backoff(attempt int, retryAfter string) time.Duration {
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
		return min(time.Duration(secs)*time.Second, c.policy.MaxWait)
	}

	ceiling := min(c.policy.MinWait<<attempt, c.policy.MaxWait)
	if ceiling <= c.policy.MinWait {
		return c.policy.MinWait
	}
	return c.policy.MinWait + time.Duration(rand.Int64N(int64(ceiling-c.policy.MinWait)))
}
