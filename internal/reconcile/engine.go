// Package reconcile diffs batches of canonical job records against existing
// local state and applies the resulting create/update/expire/skip decisions
// through the document store.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hirepath/jobsync-server/internal/model"
	"github.com/hirepath/jobsync-server/internal/store"
	"github.com/hirepath/jobsync-server/internal/taxonomy"
)

// Decision is the per-record reconciliation outcome.
type Decision string

const (
	// DecisionCreate means the record was new and has been inserted.
	DecisionCreate Decision = "create"

	// DecisionUpdate means the record existed with a different content hash
	// and has been overwritten.
	DecisionUpdate Decision = "update"

	// DecisionSkip means the record existed with an identical hash; only its
	// liveness timestamp was refreshed.
	DecisionSkip Decision = "skip"

	// DecisionError means the record failed individually; the batch
	// continued without it.
	DecisionError Decision = "error"
)

// Engine reconciles one run's batches against the local index. It is
// single-run scoped: the working index and seen-set accumulate across pages,
// which is why pages must be processed sequentially.
type Engine struct {
	store    store.Store
	resolver *taxonomy.Resolver

	index map[string]store.JobSummary
	seen  map[string]struct{}

	counts    model.RunCounts
	runErrors []model.RunError

	now func() time.Time
}

// NewEngine creates an Engine over a snapshot of the local record index
// (external ID -> summary), typically loaded at run start.
func NewEngine(s store.Store, resolver *taxonomy.Resolver, index map[string]store.JobSummary) *Engine {
	if index == nil {
		index = make(map[string]store.JobSummary)
	}
	return &Engine{
		store:    s,
		resolver: resolver,
		index:    index,
		seen:     make(map[string]struct{}),
		now:      time.Now,
	}
}

// ApplyPage reconciles one page worth of records in arrival order. Duplicate
// external IDs within the page collapse to the last occurrence before any
// store write happens. Per-record failures are recorded and do not abort the
// rest of the page.
func (e *Engine) ApplyPage(ctx context.Context, page int, records []*model.JobRecord) {
	for _, rec := range dedupeLastWins(records) {
		decision := e.applyRecord(ctx, page, rec)
		slog.Debug("Reconciled record",
			"external_id", rec.ExternalID,
			"decision", decision,
			"page", page)
	}
}

// dedupeLastWins collapses duplicate external IDs to a single entry holding
// the last occurrence's content, at the position of the first occurrence.
func dedupeLastWins(records []*model.JobRecord) []*model.JobRecord {
	deduped := make([]*model.JobRecord, 0, len(records))
	position := make(map[string]int, len(records))

	for _, rec := range records {
		if idx, ok := position[rec.ExternalID]; ok {
			deduped[idx] = rec
			continue
		}
		position[rec.ExternalID] = len(deduped)
		deduped = append(deduped, rec)
	}

	return deduped
}

// applyRecord decides and applies the outcome for a single record.
func (e *Engine) applyRecord(ctx context.Context, page int, rec *model.JobRecord) Decision {
	e.seen[rec.ExternalID] = struct{}{}
	syncedAt := e.now()
	status := e.statusFor(rec)

	existing, exists := e.index[rec.ExternalID]

	// SKIP: unchanged content. Liveness is still refreshed so the expire
	// pass can tell a skipped record from a vanished one next run. The
	// lifecycle status can drift with no content change (an unchanged
	// expires_at passes between runs), so it is re-evaluated here too.
	if exists && existing.ContentHash == rec.ContentHash {
		if err := e.store.TouchJob(ctx, existing.ID, syncedAt); err != nil {
			e.RecordError(rec.ExternalID, page, fmt.Errorf("failed to refresh record: %w", err))
			return DecisionError
		}
		if status != existing.Status {
			if err := e.store.SetJobStatus(ctx, existing.ID, status); err != nil {
				e.RecordError(rec.ExternalID, page, fmt.Errorf("status transition failed: %w", err))
				return DecisionError
			}
			existing.Status = status
			e.index[rec.ExternalID] = existing
		}
		e.counts.Skipped++
		return DecisionSkip
	}

	refs, err := e.resolver.ResolveRecord(ctx, rec)
	if err != nil {
		e.RecordError(rec.ExternalID, page, fmt.Errorf("taxonomy resolution failed: %w", err))
		return DecisionError
	}

	if !exists {
		id, err := e.store.CreateJob(ctx, rec, status, syncedAt)
		if err != nil {
			e.RecordError(rec.ExternalID, page, fmt.Errorf("store create failed: %w", err))
			return DecisionError
		}
		if err := e.store.AssignTerms(ctx, id, refs); err != nil {
			e.RecordError(rec.ExternalID, page, fmt.Errorf("term assignment failed: %w", err))
			return DecisionError
		}

		e.index[rec.ExternalID] = store.JobSummary{
			ID:          id,
			ExternalID:  rec.ExternalID,
			ContentHash: rec.ContentHash,
			Status:      status,
		}
		e.counts.Created++
		return DecisionCreate
	}

	if err := e.store.UpdateJob(ctx, existing.ID, rec, syncedAt); err != nil {
		e.RecordError(rec.ExternalID, page, fmt.Errorf("store update failed: %w", err))
		return DecisionError
	}
	if status != model.JobStatusActive {
		if err := e.store.SetJobStatus(ctx, existing.ID, status); err != nil {
			e.RecordError(rec.ExternalID, page, fmt.Errorf("status transition failed: %w", err))
			return DecisionError
		}
	}
	if err := e.store.AssignTerms(ctx, existing.ID, refs); err != nil {
		e.RecordError(rec.ExternalID, page, fmt.Errorf("term assignment failed: %w", err))
		return DecisionError
	}

	existing.ContentHash = rec.ContentHash
	existing.Status = status
	e.index[rec.ExternalID] = existing
	e.counts.Updated++
	return DecisionUpdate
}

// statusFor returns active unless the record's own expiry has passed.
func (e *Engine) statusFor(rec *model.JobRecord) model.JobStatus {
	if rec.ExpiresAt != nil && rec.ExpiresAt.Before(e.now()) {
		return model.JobStatusExpired
	}
	return model.JobStatusActive
}

// ExpireUnseen transitions every local record not observed during this run
// to expired. It must only run for full syncs, after the last page's effects
// are applied: during an incremental sync absence merely reflects the
// modified-since filter.
func (e *Engine) ExpireUnseen(ctx context.Context) {
	for externalID, summary := range e.index {
		if _, observed := e.seen[externalID]; observed {
			continue
		}
		if summary.Status == model.JobStatusExpired {
			continue
		}

		if err := e.store.SetJobStatus(ctx, summary.ID, model.JobStatusExpired); err != nil {
			e.RecordError(externalID, 0, fmt.Errorf("failed to expire record: %w", err))
			continue
		}

		summary.Status = model.JobStatusExpired
		e.index[externalID] = summary
		e.counts.Expired++
	}
}

// RecordError attaches a per-record failure to the run's error list and
// bumps the errored count. Also used by the coordinator for normalization
// failures, which happen before records reach the engine.
func (e *Engine) RecordError(externalID string, page int, err error) {
	e.counts.Errored++
	e.runErrors = append(e.runErrors, model.RunError{
		ExternalID: externalID,
		Page:       page,
		Message:    err.Error(),
	})
	slog.Warn("Record failed during reconciliation",
		"external_id", externalID,
		"page", page,
		"error", err)
}

// Counts returns the accumulated run counters.
func (e *Engine) Counts() model.RunCounts {
	return e.counts
}

// Errors returns the ordered error descriptors accumulated so far.
func (e *Engine) Errors() []model.RunError {
	return e.runErrors
}
