package ats

import (
	"fmt"
	"time"
)

// AuthError indicates the remote source rejected the bearer credential.
// It is fatal to a run: the first occurrence aborts the page loop.
type AuthError struct {
	StatusCode int
	URL        string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected by remote source (HTTP %d) for %s", e.StatusCode, e.URL)
}

// TransientError indicates a retryable failure (rate limiting, server-side
// error, network timeout). The client retries these with exponential backoff;
// the error escalates to the caller only once the retry budget is exhausted.
type TransientError struct {
	StatusCode int
	URL        string
	Body       string
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient source error (HTTP %d) for %s: %s", e.StatusCode, e.URL, e.Body)
	}
	return fmt.Sprintf("transient source error for %s: %v", e.URL, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// ProtocolError indicates the remote source returned something the client
// cannot interpret (malformed body, unexpected status). It propagates to the
// caller as a page-level failure rather than being silently dropped.
type ProtocolError struct {
	URL string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error from remote source at %s: %v", e.URL, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
