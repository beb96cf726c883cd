// Package httpretry provides an HTTP client wrapper with automatic retry
// logic for resilient calls to external APIs. Callers choose between the
// default exponential-backoff-with-jitter policy and a fixed backoff
// schedule (used for providers that document exact retry windows).
package httpretry

import (
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// HTTPDoer is the interface for executing HTTP requests.
// *http.Client and *RetryClient both satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryPolicy controls which responses are retried and how long to wait
// between attempts.
type RetryPolicy struct {
	// MaxRetries is the number of retry attempts after the initial request.
	MaxRetries int
	// Schedule, when non-empty, gives the exact wait before retry N
	// (clamped to the last entry when attempts exceed its length) and
	// disables exponential backoff.
	Schedule []time.Duration
	// BaseDelay/MaxDelay shape the exponential policy when Schedule is empty.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// RetryStatuses overrides the default retryable set
	// (429, 500, 502, 503, 504) when non-nil.
	RetryStatuses map[int]bool
}

// RetryClient wraps an HTTPDoer with a RetryPolicy.
type RetryClient struct {
	client HTTPDoer
	policy RetryPolicy
}

// NewRetryClient creates a RetryClient with the default exponential policy.
// If client is nil, a default http.Client with 30s timeout is used.
func NewRetryClient(client HTTPDoer, maxRetries int) *RetryClient {
	return NewRetryClientWithPolicy(client, RetryPolicy{MaxRetries: maxRetries})
}

// NewRetryClientWithPolicy creates a RetryClient with an explicit policy.
func NewRetryClientWithPolicy(client HTTPDoer, policy RetryPolicy) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = 3
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 1 * time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	return &RetryClient{client: client, policy: policy}
}

// Do executes the request, retrying on retryable status codes and on
// transient network errors. It never retries after context cancellation,
// and on the final attempt it returns the response as-is so the caller
// can inspect the status code and body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= rc.policy.MaxRetries; attempt++ {
		if req.Context().Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, req.Context().Err()
		}

		if attempt > 0 {
			// Reset request body for retry if applicable
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: failed to reset request body: %w", err)
				}
				req.Body = body
			}

			delay := rc.delay(attempt)
			log.Printf("httpretry: retry attempt %d/%d for %s %s%s (waiting %s)",
				attempt, rc.policy.MaxRetries, req.Method, req.URL.Host, req.URL.Path, delay)

			timer := time.NewTimer(delay)
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

		resp, err := rc.client.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
			// Network/connection/timeout error — retry
			continue
		}

		if !rc.retryable(resp.StatusCode) {
			return resp, nil
		}

		// Last attempt: hand the response back so the caller can read
		// the body and report the real status.
		if attempt == rc.policy.MaxRetries {
			return resp, nil
		}

		// Drain body for connection reuse, then retry
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// delay returns the wait before the given retry attempt (1-based).
func (rc *RetryClient) delay(attempt int) time.Duration {
	if n := len(rc.policy.Schedule); n > 0 {
		idx := attempt - 1
		if idx >= n {
			idx = n - 1
		}
		return rc.policy.Schedule[idx]
	}

	// Exponential backoff with full jitter:
	// random(0, min(maxDelay, baseDelay * 2^(attempt-1))).
	expDelay := float64(rc.policy.BaseDelay) * math.Pow(2, float64(attempt-1))
	if expDelay > float64(rc.policy.MaxDelay) {
		expDelay = float64(rc.policy.MaxDelay)
	}
	jittered := time.Duration(rand.Float64() * expDelay)
	if jittered < 100*time.Millisecond {
		jittered = 100 * time.Millisecond
	}
	return jittered
}

func (rc *RetryClient) retryable(statusCode int) bool {
	if rc.policy.RetryStatuses != nil {
		return rc.policy.RetryStatuses[statusCode]
	}
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
