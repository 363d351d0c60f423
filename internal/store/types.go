// Package store defines the document store contract consumed by the sync
// engine, with a Postgres implementation for production and an in-memory
// implementation for tests. The engine never issues queries beyond this
// contract.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hirepath/jobsync-server/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// LockHeldError is returned by AcquireLock when the sync lock is held by
// another run and is not stale.
type LockHeldError struct {
	Name        string
	HolderRunID uuid.UUID
	AcquiredAt  time.Time
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("sync lock %q held by run %s since %s",
		e.Name, e.HolderRunID, e.AcquiredAt.Format(time.RFC3339))
}

// JobSummary is the slice of a local job record the reconciliation engine
// needs for its decisions.
type JobSummary struct {
	ID          uuid.UUID
	ExternalID  string
	ContentHash string
	Status      model.JobStatus
}

// JobStore persists canonical job records.
type JobStore interface {
	// FindByExternalID returns the summary for the given external ID, or
	// ErrNotFound.
	FindByExternalID(ctx context.Context, externalID string) (*JobSummary, error)

	// ListJobIndex returns summaries for every local record keyed by
	// external ID. The reconciliation engine diffs batches against it.
	ListJobIndex(ctx context.Context) (map[string]JobSummary, error)

	// CreateJob inserts a new record and returns its local ID.
	CreateJob(ctx context.Context, rec *model.JobRecord, status model.JobStatus, syncedAt time.Time) (uuid.UUID, error)

	// UpdateJob overwrites the mutable fields of an existing record and
	// refreshes its sync timestamp.
	UpdateJob(ctx context.Context, id uuid.UUID, rec *model.JobRecord, syncedAt time.Time) error

	// SetJobStatus transitions a record's lifecycle status.
	SetJobStatus(ctx context.Context, id uuid.UUID, status model.JobStatus) error

	// TouchJob refreshes last_synced_at without changing content. Used for
	// SKIP decisions to mark liveness.
	TouchJob(ctx context.Context, id uuid.UUID, syncedAt time.Time) error
}

// TaxonomyStore persists taxonomy terms and their assignments.
type TaxonomyStore interface {
	// UpsertTaxonomyTerm creates the term for (kind, slug) if missing and
	// returns a reference to it. Idempotent.
	UpsertTaxonomyTerm(ctx context.Context, kind model.TaxonomyKind, slug, name string) (model.TermRef, error)

	// AssignTerms replaces the job's full set of term assignments.
	AssignTerms(ctx context.Context, jobID uuid.UUID, refs []model.TermRef) error
}

// RunStore persists import run records.
type RunStore interface {
	CreateRun(ctx context.Context, run *model.ImportRun) error

	// UpdateRun persists the run's current counters, errors and status. It
	// is called periodically during a run and once at finalization.
	UpdateRun(ctx context.Context, run *model.ImportRun) error

	GetRun(ctx context.Context, id uuid.UUID) (*model.ImportRun, error)

	// LatestRun returns the most recently started run, or ErrNotFound.
	LatestRun(ctx context.Context) (*model.ImportRun, error)

	// ListRuns returns runs ordered by start time descending.
	ListRuns(ctx context.Context, limit int) ([]*model.ImportRun, error)
}

// LockStore provides the named mutual-exclusion token serializing runs.
type LockStore interface {
	// AcquireLock acquires the named lock for runID. A held lock older than
	// staleAfter is reclaimed; the previous holder's run ID is returned so
	// the caller can log the takeover. Returns *LockHeldError when the lock
	// is held and fresh.
	AcquireLock(ctx context.Context, name string, runID uuid.UUID, staleAfter time.Duration) (reclaimedFrom *uuid.UUID, err error)

	// ReleaseLock releases the named lock if runID still holds it. Releasing
	// a lock reclaimed by another run is a no-op: the evicted run must not
	// free the new holder's lock.
	ReleaseLock(ctx context.Context, name string, runID uuid.UUID) error
}

// Store is the full document store surface consumed by the engine.
type Store interface {
	JobStore
	TaxonomyStore
	RunStore
	LockStore
}
