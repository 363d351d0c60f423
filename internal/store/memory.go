package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hirepath/jobsync-server/internal/model"
)

// memoryStore is an in-memory Store used in tests and local development.
type memoryStore struct {
	mu sync.Mutex

	jobs      map[uuid.UUID]*memoryJob
	byExtID   map[string]uuid.UUID
	terms     map[string]model.TermRef // key: kind + "/" + slug
	termNames map[string]string
	jobTerms  map[uuid.UUID][]model.TermRef
	runs      map[uuid.UUID]*model.ImportRun
	locks     map[string]memoryLock
}

type memoryJob struct {
	record       model.JobRecord
	status       model.JobStatus
	lastSyncedAt time.Time
}

type memoryLock struct {
	holderRunID uuid.UUID
	acquiredAt  time.Time
}

// NewMemoryStore creates an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{
		jobs:      make(map[uuid.UUID]*memoryJob),
		byExtID:   make(map[string]uuid.UUID),
		terms:     make(map[string]model.TermRef),
		termNames: make(map[string]string),
		jobTerms:  make(map[uuid.UUID][]model.TermRef),
		runs:      make(map[uuid.UUID]*model.ImportRun),
		locks:     make(map[string]memoryLock),
	}
}

func (m *memoryStore) FindByExternalID(_ context.Context, externalID string) (*JobSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byExtID[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	summary := m.summarize(id)
	return &summary, nil
}

func (m *memoryStore) ListJobIndex(_ context.Context) (map[string]JobSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := make(map[string]JobSummary, len(m.jobs))
	for id := range m.jobs {
		summary := m.summarize(id)
		index[summary.ExternalID] = summary
	}
	return index, nil
}

func (m *memoryStore) summarize(id uuid.UUID) JobSummary {
	job := m.jobs[id]
	return JobSummary{
		ID:          id,
		ExternalID:  job.record.ExternalID,
		ContentHash: job.record.ContentHash,
		Status:      job.status,
	}
}

func (m *memoryStore) CreateJob(
	_ context.Context, rec *model.JobRecord, status model.JobStatus, syncedAt time.Time,
) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New()
	m.jobs[id] = &memoryJob{record: *rec, status: status, lastSyncedAt: syncedAt}
	m.byExtID[rec.ExternalID] = id
	return id, nil
}

func (m *memoryStore) UpdateJob(
	_ context.Context, id uuid.UUID, rec *model.JobRecord, syncedAt time.Time,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.record = *rec
	job.status = model.JobStatusActive
	job.lastSyncedAt = syncedAt
	return nil
}

func (m *memoryStore) SetJobStatus(_ context.Context, id uuid.UUID, status model.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.status = status
	return nil
}

func (m *memoryStore) TouchJob(_ context.Context, id uuid.UUID, syncedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.lastSyncedAt = syncedAt
	return nil
}

func (m *memoryStore) UpsertTaxonomyTerm(
	_ context.Context, kind model.TaxonomyKind, slug, name string,
) (model.TermRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := string(kind) + "/" + slug
	if ref, ok := m.terms[key]; ok {
		return ref, nil
	}

	ref := model.TermRef{ID: uuid.New(), Kind: kind, Slug: slug}
	m.terms[key] = ref
	m.termNames[key] = name
	return ref, nil
}

func (m *memoryStore) AssignTerms(_ context.Context, jobID uuid.UUID, refs []model.TermRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobTerms[jobID] = append([]model.TermRef(nil), refs...)
	return nil
}

func (m *memoryStore) CreateRun(_ context.Context, run *model.ImportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *run
	m.runs[run.ID] = &clone
	return nil
}

func (m *memoryStore) UpdateRun(_ context.Context, run *model.ImportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[run.ID]; !ok {
		return ErrNotFound
	}
	clone := *run
	clone.Errors = append([]model.RunError(nil), run.Errors...)
	m.runs[run.ID] = &clone
	return nil
}

func (m *memoryStore) GetRun(_ context.Context, id uuid.UUID) (*model.ImportRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *run
	return &clone, nil
}

func (m *memoryStore) LatestRun(ctx context.Context) (*model.ImportRun, error) {
	runs, err := m.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return runs[0], nil
}

func (m *memoryStore) ListRuns(_ context.Context, limit int) ([]*model.ImportRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := make([]*model.ImportRun, 0, len(m.runs))
	for _, run := range m.runs {
		clone := *run
		runs = append(runs, &clone)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *memoryStore) AcquireLock(
	_ context.Context, name string, runID uuid.UUID, staleAfter time.Duration,
) (*uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, held := m.locks[name]
	if held {
		if time.Since(lock.acquiredAt) <= staleAfter {
			return nil, &LockHeldError{
				Name:        name,
				HolderRunID: lock.holderRunID,
				AcquiredAt:  lock.acquiredAt,
			}
		}
		evicted := lock.holderRunID
		m.locks[name] = memoryLock{holderRunID: runID, acquiredAt: time.Now()}
		return &evicted, nil
	}

	m.locks[name] = memoryLock{holderRunID: runID, acquiredAt: time.Now()}
	return nil, nil
}

func (m *memoryStore) ReleaseLock(_ context.Context, name string, runID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lock, held := m.locks[name]; held && lock.holderRunID == runID {
		delete(m.locks, name)
	}
	return nil
}
