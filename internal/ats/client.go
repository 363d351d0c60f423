// Package ats implements the HTTP client for the remote applicant tracking
// system that supplies job postings.
package ats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// jobsPath is the listing path appended to the configured endpoint.
	jobsPath = "/v1/jobs"

	// maxResponseSize limits a page body to 100MB to prevent memory
	// exhaustion from misbehaving sources.
	maxResponseSize = 100 * 1024 * 1024

	defaultTimeout         = 30 * time.Second
	defaultMaxTries        = 5
	defaultInitialInterval = 1 * time.Second
	defaultMaxInterval     = 60 * time.Second

	userAgent = "jobsync-server/1.0"
)

// pageResponse mirrors the remote listing envelope.
type pageResponse struct {
	Jobs       []RawJob `json:"jobs"`
	NextCursor string   `json:"next_cursor"`
	HasMore    bool     `json:"has_more"`
}

// defaultClient is the production implementation of Client.
type defaultClient struct {
	endpoint        string
	token           string
	httpClient      *http.Client
	maxTries        uint
	initialInterval time.Duration
	maxInterval     time.Duration
}

// ClientOption configures the client.
type ClientOption func(*defaultClient)

// WithTimeout sets the per-request HTTP timeout. Zero keeps the default.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *defaultClient) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithMaxRetries sets the retry budget for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(c *defaultClient) {
		if n > 0 {
			c.maxTries = uint(n)
		}
	}
}

// WithRetryIntervals overrides the backoff schedule bounds. Used by tests to
// keep retry loops fast.
func WithRetryIntervals(initial, maxInterval time.Duration) ClientOption {
	return func(c *defaultClient) {
		if initial > 0 {
			c.initialInterval = initial
		}
		if maxInterval > 0 {
			c.maxInterval = maxInterval
		}
	}
}

// NewClient creates a Client for the given endpoint, authenticating every
// request with the bearer token. A trailing slash on the endpoint is removed.
func NewClient(endpoint, token string, opts ...ClientOption) Client {
	if len(endpoint) > 0 && endpoint[len(endpoint)-1] == '/' {
		endpoint = endpoint[:len(endpoint)-1]
	}

	c := &defaultClient{
		endpoint:        endpoint,
		token:           token,
		httpClient:      &http.Client{Timeout: defaultTimeout},
		maxTries:        defaultMaxTries,
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// FetchPage fetches one page of raw job data, retrying transient failures
// with capped exponential backoff and honoring Retry-After when present.
func (c *defaultClient) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialInterval
	policy.MaxInterval = c.maxInterval
	policy.Multiplier = 2

	// Retry swallows the original error when the operation asked for a
	// server-directed delay, so the last transient failure is kept aside.
	var lastTransient *TransientError

	operation := func() (*Page, error) {
		page, err := c.fetchOnce(ctx, req)
		if err == nil {
			return page, nil
		}

		var transient *TransientError
		if errors.As(err, &transient) {
			lastTransient = transient
			if transient.RetryAfter > 0 {
				slog.Debug("Source requested retry delay",
					"retry_after", transient.RetryAfter,
					"status", transient.StatusCode)
				return nil, &backoff.RetryAfterError{Duration: transient.RetryAfter}
			}
			return nil, err
		}

		// Auth and protocol failures are not retryable.
		return nil, backoff.Permanent(err)
	}

	page, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		if lastTransient != nil && !isPermanentFailure(err) {
			return nil, fmt.Errorf("fetch failed after %d attempts: %w", c.maxTries, lastTransient)
		}
		return nil, err
	}

	return page, nil
}

// isPermanentFailure reports whether err came from a non-retryable failure
// rather than retry exhaustion.
func isPermanentFailure(err error) bool {
	var authErr *AuthError
	var protoErr *ProtocolError
	return errors.As(err, &authErr) || errors.As(err, &protoErr)
}

// fetchOnce performs a single page request without retries.
func (c *defaultClient) fetchOnce(ctx context.Context, req PageRequest) (*Page, error) {
	reqURL := c.pageURL(req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &ProtocolError{URL: reqURL, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network-level failures (timeouts, connection resets) are transient.
		return nil, &TransientError{URL: reqURL, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{StatusCode: resp.StatusCode, URL: reqURL}

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &TransientError{
			StatusCode: resp.StatusCode,
			URL:        reqURL,
			Body:       string(body),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}

	case resp.StatusCode != http.StatusOK:
		return nil, &ProtocolError{
			URL: reqURL,
			Err: fmt.Errorf("unexpected HTTP status %d", resp.StatusCode),
		}
	}

	if resp.ContentLength > maxResponseSize {
		return nil, &ProtocolError{
			URL: reqURL,
			Err: fmt.Errorf("response size %d exceeds maximum allowed size %d", resp.ContentLength, maxResponseSize),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, &TransientError{URL: reqURL, Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	if len(body) > maxResponseSize {
		return nil, &ProtocolError{
			URL: reqURL,
			Err: fmt.Errorf("response exceeds maximum allowed size %d", maxResponseSize),
		}
	}

	var envelope pageResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &ProtocolError{URL: reqURL, Err: fmt.Errorf("malformed response body: %w", err)}
	}

	return &Page{
		Jobs:    envelope.Jobs,
		Cursor:  Cursor(envelope.NextCursor),
		HasMore: envelope.HasMore,
	}, nil
}

// pageURL builds the listing URL with pagination and filter parameters.
func (c *defaultClient) pageURL(req PageRequest) string {
	params := url.Values{}
	if req.PageSize > 0 {
		params.Set("limit", strconv.Itoa(req.PageSize))
	}
	if req.Cursor != "" {
		params.Set("cursor", string(req.Cursor))
	}
	if req.Since != nil {
		params.Set("updated_since", req.Since.UTC().Format(time.RFC3339))
	}

	reqURL := c.endpoint + jobsPath
	if encoded := params.Encode(); encoded != "" {
		reqURL += "?" + encoded
	}
	return reqURL
}

// parseRetryAfter interprets a Retry-After header value, which is either a
// delay in seconds or an HTTP date. Unparsable values return zero.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}

	return 0
}
