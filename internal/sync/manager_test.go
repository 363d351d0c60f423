package sync_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirepath/jobsync-server/internal/ats"
	"github.com/hirepath/jobsync-server/internal/config"
	"github.com/hirepath/jobsync-server/internal/model"
	"github.com/hirepath/jobsync-server/internal/store"
	syncmgr "github.com/hirepath/jobsync-server/internal/sync"
)

// scriptedClient serves a fixed sequence of pages and records every request.
type scriptedClient struct {
	pages    [][]ats.RawJob
	pageErrs map[int]error // 1-based page number -> error
	requests []ats.PageRequest
	onPage   func(page int)

	calls int
}

func (c *scriptedClient) FetchPage(_ context.Context, req ats.PageRequest) (*ats.Page, error) {
	c.calls++
	c.requests = append(c.requests, req)
	if c.onPage != nil {
		c.onPage(c.calls)
	}

	if err, ok := c.pageErrs[c.calls]; ok {
		return nil, err
	}

	idx := c.calls - 1
	if idx >= len(c.pages) {
		return &ats.Page{HasMore: false}, nil
	}

	return &ats.Page{
		Jobs:    c.pages[idx],
		Cursor:  ats.Cursor(fmt.Sprintf("cursor-%d", c.calls)),
		HasMore: idx < len(c.pages)-1,
	}, nil
}

func rawJob(id, title string) ats.RawJob {
	return ats.RawJob{"external_id": id, "title": title}
}

func testConfig() *config.Config {
	return &config.Config{
		Source: config.SourceConfig{
			Endpoint: "https://ats.example.com",
			PageSize: 50,
		},
		Sync: config.SyncConfig{
			Mode:            "full",
			LockTimeout:     "15m",
			StatsFlushPages: 2,
		},
	}
}

func TestRunSync_FullRunSucceeds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()
	client := &scriptedClient{
		pages: [][]ats.RawJob{
			{rawJob("j-1", "Backend Engineer"), rawJob("j-2", "Data Analyst")},
			{rawJob("j-3", "Designer")},
		},
	}

	manager := syncmgr.NewManager(client, st, testConfig())
	run, err := manager.RunSync(ctx, model.SyncModeFull, model.TriggerManual)

	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSucceeded, run.Status)
	assert.Equal(t, model.SyncModeFull, run.Mode)
	assert.Equal(t, model.TriggerManual, run.Trigger)
	assert.Equal(t, 3, run.Counts.Created)
	assert.Zero(t, run.Counts.Errored)
	require.NotNil(t, run.FinishedAt)

	// The final state is persisted.
	stored, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSucceeded, stored.Status)
	assert.Equal(t, 3, stored.Counts.Created)
}

func TestRunSync_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()
	pages := [][]ats.RawJob{{rawJob("j-1", "Backend Engineer")}}

	manager := syncmgr.NewManager(&scriptedClient{pages: pages}, st, testConfig())
	first, err := manager.RunSync(ctx, model.SyncModeFull, model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Counts.Created)

	// Same source state again: everything is a skip, nothing is rewritten.
	manager = syncmgr.NewManager(&scriptedClient{pages: pages}, st, testConfig())
	second, err := manager.RunSync(ctx, model.SyncModeFull, model.TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusSucceeded, second.Status)
	assert.Zero(t, second.Counts.Created)
	assert.Zero(t, second.Counts.Updated)
	assert.Equal(t, 1, second.Counts.Skipped)
	assert.Zero(t, second.Counts.Expired)
}

func TestRunSync_RejectedWhileLockHeld(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()
	cfg := testConfig()

	holder := uuid.New()
	_, err := st.AcquireLock(ctx, cfg.LockName(), holder, time.Hour)
	require.NoError(t, err)

	manager := syncmgr.NewManager(&scriptedClient{}, st, cfg)
	run, err := manager.RunSync(ctx, model.SyncModeFull, model.TriggerManual)

	require.Error(t, err)
	assert.Nil(t, run)

	var held *store.LockHeldError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, holder, held.HolderRunID)

	// No run record is created for a rejected trigger.
	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunSync_ReclaimsStaleLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()
	cfg := testConfig()
	cfg.Sync.LockTimeout = "1ms"

	crashed := uuid.New()
	_, err := st.AcquireLock(ctx, cfg.LockName(), crashed, time.Hour)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	client := &scriptedClient{pages: [][]ats.RawJob{{rawJob("j-1", "Backend Engineer")}}}
	manager := syncmgr.NewManager(client, st, cfg)
	run, err := manager.RunSync(ctx, model.SyncModeFull, model.TriggerScheduled)

	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSucceeded, run.Status)
}

func TestRunSync_LockReleasedAfterRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()
	client := &scriptedClient{pages: [][]ats.RawJob{{rawJob("j-1", "Backend Engineer")}}}

	manager := syncmgr.NewManager(client, st, testConfig())
	_, err := manager.RunSync(ctx, model.SyncModeFull, model.TriggerManual)
	require.NoError(t, err)

	// Lock must be free immediately after the run.
	_, err = st.AcquireLock(ctx, testConfig().LockName(), uuid.New(), time.Hour)
	require.NoError(t, err)
}

func TestRunSync_AuthFailureFailsRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()
	client := &scriptedClient{
		pageErrs: map[int]error{1: &ats.AuthError{StatusCode: 401, URL: "https://ats.example.com/v1/jobs"}},
	}

	manager := syncmgr.NewManager(client, st, testConfig())
	run, err := manager.RunSync(ctx, model.SyncModeFull, model.TriggerScheduled)

	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	require.NotEmpty(t, run.Errors)
	assert.Contains(t, run.Errors[0].Message, "page 1 fetch failed")

	// Run-level failure is still released and persisted.
	stored, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, stored.Status)
}

func TestRunSync_ProtocolErrorMidRunIsPartial(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()
	client := &scriptedClient{
		pages: [][]ats.RawJob{
			{rawJob("j-1", "Backend Engineer")},
			{rawJob("j-2", "Data Analyst")},
			{rawJob("j-3", "Designer")},
		},
		pageErrs: map[int]error{2: &ats.ProtocolError{URL: "x", Err: fmt.Errorf("malformed response body")}},
	}

	manager := syncmgr.NewManager(client, st, testConfig())
	run, err := manager.RunSync(ctx, model.SyncModeFull, model.TriggerScheduled)

	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPartial, run.Status)
	assert.Equal(t, 1, run.Counts.Created)
	assert.Equal(t, 1, run.Counts.Errored)

	// The abandoned run must not expire records it never got to see.
	assert.Zero(t, run.Counts.Expired)
}

func TestRunSync_CancellationIsPartial(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	client := &scriptedClient{
		pages: [][]ats.RawJob{
			{rawJob("j-1", "Backend Engineer")},
			{rawJob("j-2", "Data Analyst")},
		},
		onPage: func(page int) {
			if page == 1 {
				cancel()
			}
		},
	}

	manager := syncmgr.NewManager(client, st, testConfig())
	run, err := manager.RunSync(ctx, model.SyncModeFull, model.TriggerScheduled)

	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPartial, run.Status)
	assert.Equal(t, 1, run.Counts.Created)
	assert.Equal(t, 1, client.calls)
	require.NotNil(t, run.FinishedAt)

	// The cancelled run still released the lock.
	_, err = st.AcquireLock(context.Background(), testConfig().LockName(), uuid.New(), time.Hour)
	require.NoError(t, err)
}

func TestRunSync_NormalizationFailuresArePartial(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()
	client := &scriptedClient{
		pages: [][]ats.RawJob{{
			rawJob("j-1", "Backend Engineer"),
			{"title": "No identifier here"},
		}},
	}

	manager := syncmgr.NewManager(client, st, testConfig())
	run, err := manager.RunSync(ctx, model.SyncModeFull, model.TriggerScheduled)

	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPartial, run.Status)
	assert.Equal(t, 1, run.Counts.Created)
	assert.Equal(t, 1, run.Counts.Errored)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, 1, run.Errors[0].Page)
}

func TestRunSync_FullModeExpiresUnseen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()
	cfg := testConfig()

	seed := &scriptedClient{pages: [][]ats.RawJob{{
		rawJob("j-1", "Backend Engineer"),
		rawJob("j-2", "Data Analyst"),
	}}}
	_, err := syncmgr.NewManager(seed, st, cfg).RunSync(ctx, model.SyncModeFull, model.TriggerManual)
	require.NoError(t, err)

	// Next full sync only returns j-1.
	next := &scriptedClient{pages: [][]ats.RawJob{{rawJob("j-1", "Backend Engineer")}}}
	run, err := syncmgr.NewManager(next, st, cfg).RunSync(ctx, model.SyncModeFull, model.TriggerScheduled)
	require.NoError(t, err)

	assert.Equal(t, 1, run.Counts.Expired)

	job, err := st.FindByExternalID(ctx, "j-2")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusExpired, job.Status)
}

func TestRunSync_IncrementalModeNeverExpires(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()
	cfg := testConfig()

	seed := &scriptedClient{pages: [][]ats.RawJob{{
		rawJob("j-1", "Backend Engineer"),
		rawJob("j-2", "Data Analyst"),
	}}}
	_, err := syncmgr.NewManager(seed, st, cfg).RunSync(ctx, model.SyncModeFull, model.TriggerManual)
	require.NoError(t, err)

	next := &scriptedClient{pages: [][]ats.RawJob{{rawJob("j-1", "Backend Engineer")}}}
	run, err := syncmgr.NewManager(next, st, cfg).RunSync(ctx, model.SyncModeIncremental, model.TriggerScheduled)
	require.NoError(t, err)

	assert.Zero(t, run.Counts.Expired)

	job, err := st.FindByExternalID(ctx, "j-2")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusActive, job.Status)
}

func TestRunSync_IncrementalUsesLastSuccessAsWatermark(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()
	cfg := testConfig()

	seed := &scriptedClient{pages: [][]ats.RawJob{{rawJob("j-1", "Backend Engineer")}}}
	first, err := syncmgr.NewManager(seed, st, cfg).RunSync(ctx, model.SyncModeFull, model.TriggerManual)
	require.NoError(t, err)

	next := &scriptedClient{pages: [][]ats.RawJob{{}}}
	_, err = syncmgr.NewManager(next, st, cfg).RunSync(ctx, model.SyncModeIncremental, model.TriggerScheduled)
	require.NoError(t, err)

	require.NotEmpty(t, next.requests)
	require.NotNil(t, next.requests[0].Since)
	assert.WithinDuration(t, first.StartedAt, *next.requests[0].Since, time.Second)
}

func TestRunSync_CursorsAreChained(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()
	client := &scriptedClient{
		pages: [][]ats.RawJob{
			{rawJob("j-1", "A")},
			{rawJob("j-2", "B")},
			{rawJob("j-3", "C")},
		},
	}

	_, err := syncmgr.NewManager(client, st, testConfig()).
		RunSync(ctx, model.SyncModeFull, model.TriggerManual)
	require.NoError(t, err)

	require.Len(t, client.requests, 3)
	assert.Equal(t, ats.Cursor(""), client.requests[0].Cursor)
	assert.Equal(t, ats.Cursor("cursor-1"), client.requests[1].Cursor)
	assert.Equal(t, ats.Cursor("cursor-2"), client.requests[2].Cursor)
	assert.Equal(t, 50, client.requests[0].PageSize)
}
