package v0_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v0 "github.com/hirepath/jobsync-server/internal/api/v0"
	"github.com/hirepath/jobsync-server/internal/model"
	"github.com/hirepath/jobsync-server/internal/store"
)

// fakeManager returns a canned run or error and records the requested mode.
type fakeManager struct {
	run      *model.ImportRun
	err      error
	gotMode  model.SyncMode
	gotTrig  model.Trigger
	syncRuns int
}

func (m *fakeManager) RunSync(
	_ context.Context, mode model.SyncMode, trigger model.Trigger,
) (*model.ImportRun, error) {
	m.syncRuns++
	m.gotMode = mode
	m.gotTrig = trigger
	if m.err != nil {
		return nil, m.err
	}
	return m.run, nil
}

func finishedRun(status model.RunStatus) *model.ImportRun {
	finished := time.Now()
	return &model.ImportRun{
		ID:         uuid.New(),
		Trigger:    model.TriggerManual,
		Mode:       model.SyncModeFull,
		Status:     status,
		Counts:     model.RunCounts{Created: 2, Skipped: 1},
		StartedAt:  finished.Add(-time.Minute),
		FinishedAt: &finished,
	}
}

func TestTriggerSync(t *testing.T) {
	t.Parallel()

	t.Run("default mode is full", func(t *testing.T) {
		t.Parallel()

		mgr := &fakeManager{run: finishedRun(model.RunStatusSucceeded)}
		router := v0.Router(mgr, store.NewMemoryStore())

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, model.SyncModeFull, mgr.gotMode)
		assert.Equal(t, model.TriggerManual, mgr.gotTrig)

		var resp v0.RunResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "succeeded", resp.Status)
		assert.Equal(t, 2, resp.Created)
	})

	t.Run("incremental mode from body", func(t *testing.T) {
		t.Parallel()

		mgr := &fakeManager{run: finishedRun(model.RunStatusSucceeded)}
		router := v0.Router(mgr, store.NewMemoryStore())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/sync",
			strings.NewReader(`{"mode": "incremental"}`))
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, model.SyncModeIncremental, mgr.gotMode)
	})

	t.Run("invalid mode is rejected", func(t *testing.T) {
		t.Parallel()

		mgr := &fakeManager{run: finishedRun(model.RunStatusSucceeded)}
		router := v0.Router(mgr, store.NewMemoryStore())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/sync",
			strings.NewReader(`{"mode": "yearly"}`))
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, mgr.syncRuns)
	})

	t.Run("concurrent run returns conflict", func(t *testing.T) {
		t.Parallel()

		holder := uuid.New()
		mgr := &fakeManager{err: &store.LockHeldError{
			Name:        "job-sync",
			HolderRunID: holder,
			AcquiredAt:  time.Now(),
		}}
		router := v0.Router(mgr, store.NewMemoryStore())

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync", nil))

		require.Equal(t, http.StatusConflict, rec.Code)

		var resp v0.ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Contains(t, resp.Error, holder.String())
	})
}

func TestRunHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()

	older := finishedRun(model.RunStatusSucceeded)
	older.StartedAt = time.Now().Add(-2 * time.Hour)
	newer := finishedRun(model.RunStatusPartial)
	require.NoError(t, st.CreateRun(ctx, older))
	require.NoError(t, st.CreateRun(ctx, newer))

	router := v0.Router(&fakeManager{}, st)

	t.Run("list is newest first", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp []v0.RunResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp, 2)
		assert.Equal(t, newer.ID.String(), resp[0].ID)
		assert.Equal(t, older.ID.String(), resp[1].ID)
	})

	t.Run("limit is honored", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs?limit=1", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp []v0.RunResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Len(t, resp, 1)
	})

	t.Run("invalid limit is rejected", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs?limit=zero", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("latest returns most recent", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/latest", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp v0.RunResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, newer.ID.String(), resp.ID)
		assert.Equal(t, "partial", resp.Status)
	})

	t.Run("get by id", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+older.ID.String(), nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp v0.RunResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, older.ID.String(), resp.ID)
	})

	t.Run("unknown id is 404", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+uuid.NewString(), nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed id is 400", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/not-a-uuid", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRunHistory_LatestEmptyIs404(t *testing.T) {
	t.Parallel()

	router := v0.Router(&fakeManager{}, store.NewMemoryStore())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/latest", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthRouter(t *testing.T) {
	t.Parallel()

	router := v0.HealthRouter(store.NewMemoryStore())

	t.Run("health", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
	})

	t.Run("readiness", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("version", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Contains(t, resp, "go_version")
	})
}
