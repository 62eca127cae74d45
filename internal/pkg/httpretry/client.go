// Package httpretry wraps an HTTP client with bounded retries for the
// engine's outbound calls, such as lead webhooks and provider gateways.
// Transport errors and transient statuses (429, 5xx) retry with jittered
// exponential backoff; client errors and context cancellation do not.
package httpretry

import (
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"
)

// Doer executes one HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client retries a wrapped Doer with jittered exponential backoff.
type Client struct {
	doer    Doer
	retries int
	base    time.Duration
	max     time.Duration
}

// New wraps doer with up to retries additional attempts after the first.
// A nil doer falls back to an http.Client with a 30s timeout; retries <= 0
// falls back to 3.
func New(doer Doer, retries int) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 30 * time.Second}
	}
	if retries <= 0 {
		retries = 3
	}
	return &Client{
		doer:    doer,
		retries: retries,
		base:    time.Second,
		max:     30 * time.Second,
	}
}

// Do executes the request. The final attempt's response comes back as-is,
// even for a retryable status, so the caller can read the body. Requests
// with a body must set GetBody (http.NewRequest does) or retries after the
// first send will fail.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retries; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: rewind request body: %w", err)
				}
				req.Body = body
			}

			wait := c.backoff(attempt)
			log.Printf("[HTTPRetry] Attempt %d/%d for %s %s in %s", attempt, c.retries, req.Method, req.URL.Host, wait)
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := c.doer.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}

		if !retryableStatus(resp.StatusCode) || attempt == c.retries {
			return resp, nil
		}

		// Drain so the connection can be reused for the retry.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: status %d from %s", resp.StatusCode, req.URL.Host)
	}

	return nil, lastErr
}

// backoff returns a full-jitter delay for the given attempt, capped at
// c.max and floored at 100ms.
func (c *Client) backoff(attempt int) time.Duration {
	ceiling := c.base << uint(attempt-1)
	if ceiling > c.max || ceiling <= 0 {
		ceiling = c.max
	}
	wait := time.Duration(rand.Float64() * float64(ceiling))
	if wait < 100*time.Millisecond {
		wait = 100 * time.Millisecond
	}
	return wait
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
