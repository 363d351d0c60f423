package ats

import (
	"context"
	"time"
)

// RawJob is one job object exactly as the remote API returned it. Shape
// checks on the loose payload happen in one place, the normalizer; the
// client only guarantees it is valid JSON.
type RawJob map[string]any

// Cursor is an opaque continuation token. Whether the source paginates by
// cursor or offset is hidden behind it; callers pass back whatever the
// previous page returned. The zero value requests the first page.
type Cursor string

// PageRequest describes one page fetch.
type PageRequest struct {
	// Cursor is the continuation token from the previous page, or empty for
	// the first page.
	Cursor Cursor

	// PageSize is the requested number of records.
	PageSize int

	// Since, when set, asks the source for records modified after the given
	// time (incremental sync). Nil fetches the unfiltered dataset.
	Since *time.Time
}

// Page is the result of one page fetch.
type Page struct {
	Jobs    []RawJob
	Cursor  Cursor
	HasMore bool
}

// Client provides authenticated, paginated access to the remote ATS API.
// Implementations own retry/backoff; a returned error is already final.
//
// Errors: *AuthError on rejected credentials, *TransientError once the retry
// budget is exhausted, *ProtocolError on uninterpretable responses.
type Client interface {
	FetchPage(ctx context.Context, req PageRequest) (*Page, error)
}
