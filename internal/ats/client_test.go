package ats_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirepath/jobsync-server/internal/ats"
)

func fastClient(endpoint, token string, opts ...ats.ClientOption) ats.Client {
	base := []ats.ClientOption{
		ats.WithRetryIntervals(time.Millisecond, 5*time.Millisecond),
	}
	return ats.NewClient(endpoint, token, append(base, opts...)...)
}

func TestClient_FetchPage(t *testing.T) {
	t.Parallel()

	isAuthError := func(err error) bool {
		var target *ats.AuthError
		return errors.As(err, &target)
	}
	isProtocolError := func(err error) bool {
		var target *ats.ProtocolError
		return errors.As(err, &target)
	}

	tests := []struct {
		name          string
		handler       http.HandlerFunc
		expectError   bool
		errorCheck    func(error) bool
		expectedJobs  int
		expectedMore  bool
		expectCursor  ats.Cursor
		errorContains string
	}{
		{
			name: "successful fetch with pagination envelope",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{
					"jobs": [
						{"external_id": "j-1", "title": "Backend Engineer"},
						{"external_id": "j-2", "title": "Data Analyst"}
					],
					"next_cursor": "page-2",
					"has_more": true
				}`))
			},
			expectedJobs: 2,
			expectedMore: true,
			expectCursor: ats.Cursor("page-2"),
		},
		{
			name: "last page has no cursor",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"jobs": [], "next_cursor": "", "has_more": false}`))
			},
			expectedJobs: 0,
			expectedMore: false,
			expectCursor: ats.Cursor(""),
		},
		{
			name: "unauthorized is not retried",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			expectError: true,
			errorCheck:  isAuthError,
		},
		{
			name: "forbidden is an auth failure",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
			expectError: true,
			errorCheck:  isAuthError,
		},
		{
			name: "malformed body is a protocol error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"jobs": [`))
			},
			expectError:   true,
			errorCheck:    isProtocolError,
			errorContains: "malformed response body",
		},
		{
			name: "unexpected status is a protocol error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTeapot)
			},
			expectError:   true,
			errorCheck:    isProtocolError,
			errorContains: "unexpected HTTP status 418",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client := fastClient(server.URL, "test-token")
			page, err := client.FetchPage(context.Background(), ats.PageRequest{PageSize: 50})

			if tt.expectError {
				require.Error(t, err)
				if tt.errorCheck != nil {
					assert.True(t, tt.errorCheck(err), "unexpected error type: %v", err)
				}
				if tt.errorContains != "" {
					assert.Contains(t, err.Error(), tt.errorContains)
				}
				return
			}

			require.NoError(t, err)
			assert.Len(t, page.Jobs, tt.expectedJobs)
			assert.Equal(t, tt.expectedMore, page.HasMore)
			assert.Equal(t, tt.expectCursor, page.Cursor)
		})
	}
}

func TestClient_SendsAuthAndPaginationParams(t *testing.T) {
	t.Parallel()

	var gotAuth, gotLimit, gotCursor, gotSince string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotLimit = r.URL.Query().Get("limit")
		gotCursor = r.URL.Query().Get("cursor")
		gotSince = r.URL.Query().Get("updated_since")
		_, _ = w.Write([]byte(`{"jobs": [], "has_more": false}`))
	}))
	defer server.Close()

	since := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	client := fastClient(server.URL+"/", "secret-token")
	_, err := client.FetchPage(context.Background(), ats.PageRequest{
		Cursor:   ats.Cursor("abc"),
		PageSize: 25,
		Since:    &since,
	})

	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "25", gotLimit)
	assert.Equal(t, "abc", gotCursor)
	assert.Equal(t, "2025-06-01T12:00:00Z", gotSince)
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"jobs": [{"external_id": "j-1", "title": "SRE"}], "has_more": false}`))
	}))
	defer server.Close()

	client := fastClient(server.URL, "token", ats.WithMaxRetries(5))
	page, err := client.FetchPage(context.Background(), ats.PageRequest{})

	require.NoError(t, err)
	assert.Len(t, page.Jobs, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_HonorsRetryAfterHeader(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var firstTry, secondTry time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		switch calls.Add(1) {
		case 1:
			firstTry = time.Now()
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			secondTry = time.Now()
			_, _ = w.Write([]byte(`{"jobs": [], "has_more": false}`))
		}
	}))
	defer server.Close()

	client := fastClient(server.URL, "token")
	_, err := client.FetchPage(context.Background(), ats.PageRequest{})

	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.GreaterOrEqual(t, secondTry.Sub(firstTry), time.Second)
}

func TestClient_ExhaustedRetriesReturnLastTransientError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := fastClient(server.URL, "token", ats.WithMaxRetries(3))
	_, err := client.FetchPage(context.Background(), ats.PageRequest{})

	require.Error(t, err)
	var transient *ats.TransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, http.StatusInternalServerError, transient.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_CancelledContextStopsRetrying(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := fastClient(server.URL, "token")
	_, err := client.FetchPage(ctx, ats.PageRequest{})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
