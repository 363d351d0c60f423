// Package sync implements the run coordinator: it owns the sync lock, drives
// one full synchronization pass end to end and persists the resulting import
// run record.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hirepath/jobsync-server/internal/ats"
	"github.com/hirepath/jobsync-server/internal/config"
	"github.com/hirepath/jobsync-server/internal/model"
	"github.com/hirepath/jobsync-server/internal/normalizer"
	"github.com/hirepath/jobsync-server/internal/reconcile"
	"github.com/hirepath/jobsync-server/internal/store"
	"github.com/hirepath/jobsync-server/internal/taxonomy"
	"github.com/hirepath/jobsync-server/internal/telemetry"
)

// runState tracks where a run is in its lifecycle, for logs and debugging.
type runState string

const (
	stateAcquiringLock runState = "acquiring_lock"
	stateRunning       runState = "running"
	stateFinalizing    runState = "finalizing"
)

// Manager coordinates synchronization runs. A manually triggered run and a
// scheduled run share the same path; the trigger is recorded for audit only.
type Manager interface {
	// RunSync executes one synchronization pass and returns the finalized
	// import run summary. The returned run carries its own terminal status
	// (succeeded, partial or failed); a non-nil error is returned only when
	// no run took place at all, notably *store.LockHeldError when another
	// run holds the sync lock.
	RunSync(ctx context.Context, mode model.SyncMode, trigger model.Trigger) (*model.ImportRun, error)
}

// defaultManager is the default implementation of Manager.
type defaultManager struct {
	client  ats.Client
	store   store.Store
	cfg     *config.Config
	metrics *telemetry.SyncMetrics
	now     func() time.Time
}

// Option configures the manager.
type Option func(*defaultManager)

// WithMetrics sets the sync metrics recorded for completed runs.
func WithMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(m *defaultManager) {
		m.metrics = metrics
	}
}

// NewManager creates a Manager with injected dependencies.
func NewManager(client ats.Client, s store.Store, cfg *config.Config, opts ...Option) Manager {
	m := &defaultManager{
		client: client,
		store:  s,
		cfg:    cfg,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// RunSync drives one synchronization pass: lock, page loop, expiry pass,
// finalization. The lock is released on every exit path.
func (m *defaultManager) RunSync(
	ctx context.Context, mode model.SyncMode, trigger model.Trigger,
) (*model.ImportRun, error) {
	runID := uuid.New()
	lockName := m.cfg.LockName()
	startTime := m.now()

	slog.Info("Starting sync run",
		"run_id", runID, "mode", mode, "trigger", trigger, "state", stateAcquiringLock)

	reclaimedFrom, err := m.store.AcquireLock(ctx, lockName, runID, m.cfg.Sync.GetLockTimeout())
	if err != nil {
		var held *store.LockHeldError
		if errors.As(err, &held) {
			// Rejected acquisitions create no run record: the caller sees a
			// distinguishable "skipped due to concurrent run" error.
			slog.Info("Sync run skipped due to concurrent run",
				"run_id", runID,
				"holder_run_id", held.HolderRunID,
				"held_since", held.AcquiredAt)
			return nil, err
		}
		return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if reclaimedFrom != nil {
		slog.Warn("Reclaimed stale sync lock from crashed run",
			"run_id", runID, "previous_holder", *reclaimedFrom)
	}

	// From here on the lock is held: release on every exit path, including
	// panics and cancelled contexts.
	releaseCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := m.store.ReleaseLock(releaseCtx, lockName, runID); err != nil {
			slog.Error("Failed to release sync lock", "run_id", runID, "error", err)
		}
	}()

	run := &model.ImportRun{
		ID:        runID,
		Trigger:   trigger,
		Mode:      mode,
		Status:    model.RunStatusRunning,
		StartedAt: startTime,
	}
	if err := m.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist run record: %w", err)
	}

	index, err := m.store.ListJobIndex(ctx)
	engine := reconcile.NewEngine(m.store, taxonomy.NewResolver(m.store), index)

	var fatalErr error
	var cancelled bool
	if err != nil {
		fatalErr = fmt.Errorf("failed to load local record index: %w", err)
	} else {
		slog.Info("Sync run entering page loop",
			"run_id", runID, "state", stateRunning, "known_records", len(index))
		fatalErr, cancelled = m.runPageLoop(ctx, run, engine)
	}

	// FINALIZING. The expire pass only applies to completed full syncs: an
	// incremental batch reflects the modified-since filter, not the full
	// dataset, and a cancelled or failed run has not observed every page.
	slog.Info("Sync run finalizing", "run_id", runID, "state", stateFinalizing)
	if fatalErr == nil && !cancelled && mode == model.SyncModeFull {
		engine.ExpireUnseen(releaseCtx)
	}

	run.Counts = engine.Counts()
	run.Errors = engine.Errors()
	if fatalErr != nil {
		run.Errors = append(run.Errors, model.RunError{Message: fatalErr.Error()})
	}
	run.Status = finalStatus(fatalErr, cancelled, run.Counts)
	finishedAt := m.now()
	run.FinishedAt = &finishedAt

	if err := m.store.UpdateRun(releaseCtx, run); err != nil {
		slog.Error("Failed to persist final run record", "run_id", runID, "error", err)
	}

	m.metrics.RecordRun(releaseCtx, run, finishedAt.Sub(startTime))

	slog.Info("Sync run finished",
		"run_id", runID,
		"status", run.Status,
		"created", run.Counts.Created,
		"updated", run.Counts.Updated,
		"expired", run.Counts.Expired,
		"skipped", run.Counts.Skipped,
		"errored", run.Counts.Errored,
		"duration", finishedAt.Sub(startTime))

	return run, nil
}

// runPageLoop fetches and reconciles pages sequentially until the source
// reports no more data, a fatal error occurs, or the context is cancelled.
// Page N is fully reconciled before page N+1 is fetched.
func (m *defaultManager) runPageLoop(
	ctx context.Context, run *model.ImportRun, engine *reconcile.Engine,
) (fatalErr error, cancelled bool) {
	since := m.incrementalSince(ctx, run.Mode)
	flushEvery := m.cfg.Sync.GetStatsFlushPages()

	cursor := ats.Cursor("")
	pageNum := 0

	for {
		// Cooperative cancellation point between page fetches.
		if err := ctx.Err(); err != nil {
			slog.Info("Sync run cancelled between pages", "run_id", run.ID, "pages_done", pageNum)
			return nil, true
		}

		pageNum++
		page, err := m.client.FetchPage(ctx, ats.PageRequest{
			Cursor:   cursor,
			PageSize: m.cfg.Source.GetPageSize(),
			Since:    since,
		})
		if err != nil {
			return m.classifyFetchError(run, engine, pageNum, err)
		}

		records := m.normalizePage(engine, pageNum, page.Jobs)
		engine.ApplyPage(ctx, pageNum, records)

		if pageNum%flushEvery == 0 {
			m.flushProgress(ctx, run, engine)
		}

		if !page.HasMore {
			return nil, false
		}
		cursor = page.Cursor
	}
}

// classifyFetchError maps a page fetch failure onto the run's error policy:
// authentication and exhausted-transient failures are fatal; a protocol
// error is fatal on the very first page and a recorded page-level failure
// afterwards (the run keeps what it already reconciled).
func (*defaultManager) classifyFetchError(
	run *model.ImportRun, engine *reconcile.Engine, pageNum int, err error,
) (error, bool) {
	var protoErr *ats.ProtocolError
	if errors.As(err, &protoErr) && pageNum > 1 {
		engine.RecordError("", pageNum, err)
		slog.Warn("Abandoning page loop after protocol error",
			"run_id", run.ID, "page", pageNum, "error", err)
		return nil, true
	}

	return fmt.Errorf("page %d fetch failed: %w", pageNum, err), false
}

// normalizePage converts raw payloads to canonical records, recording
// normalization failures individually without failing the page.
func (*defaultManager) normalizePage(
	engine *reconcile.Engine, pageNum int, raws []ats.RawJob,
) []*model.JobRecord {
	records := make([]*model.JobRecord, 0, len(raws))
	for _, raw := range raws {
		rec, err := normalizer.Normalize(raw)
		if err != nil {
			engine.RecordError(rawExternalID(raw), pageNum, err)
			continue
		}
		records = append(records, rec)
	}
	return records
}

// rawExternalID makes a best effort to attribute a normalization failure.
func rawExternalID(raw ats.RawJob) string {
	for _, key := range []string{"external_id", "id", "job_id"} {
		if s, ok := raw[key].(string); ok {
			return s
		}
	}
	return ""
}

// flushProgress persists the counters accumulated so far, so a crash
// mid-run leaves a recoverable partial count.
func (m *defaultManager) flushProgress(ctx context.Context, run *model.ImportRun, engine *reconcile.Engine) {
	run.Counts = engine.Counts()
	run.Errors = engine.Errors()
	if err := m.store.UpdateRun(ctx, run); err != nil {
		slog.Warn("Failed to persist run progress", "run_id", run.ID, "error", err)
	}
}

// incrementalSince returns the modified-since watermark for incremental
// runs: the start time of the most recent successful run. A missing
// watermark degrades to an unfiltered fetch, which is safe because
// incremental runs never expire unseen records either way.
func (m *defaultManager) incrementalSince(ctx context.Context, mode model.SyncMode) *time.Time {
	if mode != model.SyncModeIncremental {
		return nil
	}

	runs, err := m.store.ListRuns(ctx, 50)
	if err != nil {
		slog.Warn("Failed to load run history for incremental watermark", "error", err)
		return nil
	}

	for _, run := range runs {
		if run.Status == model.RunStatusSucceeded {
			since := run.StartedAt
			return &since
		}
	}
	return nil
}

// finalStatus derives the terminal run status: failed on a run-level error,
// partial when cancelled or when any record errored, succeeded otherwise.
func finalStatus(fatalErr error, cancelled bool, counts model.RunCounts) model.RunStatus {
	switch {
	case fatalErr != nil:
		return model.RunStatusFailed
	case cancelled || counts.Errored > 0:
		return model.RunStatusPartial
	default:
		return model.RunStatusSucceeded
	}
}
