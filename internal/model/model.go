// Package model holds the canonical domain types shared across the sync engine.
package model

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a local job record.
type JobStatus string

const (
	// JobStatusActive means the posting is live on the remote source.
	JobStatusActive JobStatus = "active"

	// JobStatusExpired means the posting disappeared from the source or passed
	// its expiry date. Expired records are never hard-deleted by the engine.
	JobStatusExpired JobStatus = "expired"

	// JobStatusDraft means the posting is not yet published.
	JobStatusDraft JobStatus = "draft"
)

// TaxonomyKind identifies one of the taxonomies a job can be classified under.
type TaxonomyKind string

const (
	// KindDepartment groups jobs by department.
	KindDepartment TaxonomyKind = "department"

	// KindLocation groups jobs by location.
	KindLocation TaxonomyKind = "location"

	// KindEmploymentType groups jobs by employment type (full-time, contract, ...).
	KindEmploymentType TaxonomyKind = "employment_type"

	// KindExperienceLevel groups jobs by seniority.
	KindExperienceLevel TaxonomyKind = "experience_level"

	// KindRemote flags on-site vs remote work.
	KindRemote TaxonomyKind = "remote"
)

// JobRecord is the canonical, store-agnostic representation of a job posting.
// It is produced by the normalizer and consumed by the reconciliation engine;
// nothing downstream of the normalizer touches raw source payloads.
type JobRecord struct {
	ExternalID      string     `json:"external_id"`
	Title           string     `json:"title"`
	Company         string     `json:"company,omitempty"`
	Description     string     `json:"description,omitempty"`
	Department      string     `json:"department,omitempty"`
	Location        string     `json:"location,omitempty"`
	EmploymentType  string     `json:"employment_type,omitempty"`
	ExperienceLevel string     `json:"experience_level,omitempty"`
	Remote          bool       `json:"remote"`
	Salary          string     `json:"salary,omitempty"`
	SalaryMin       *float64   `json:"salary_min,omitempty"`
	SalaryMax       *float64   `json:"salary_max,omitempty"`
	Requirements    string     `json:"requirements,omitempty"`
	Benefits        string     `json:"benefits,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`

	// ContentHash is a digest over all mutable fields above, used by the
	// reconciliation engine to detect no-op updates.
	ContentHash string `json:"content_hash"`
}

// TermRef references a taxonomy term in the document store, usable with the
// store's term-assignment operation.
type TermRef struct {
	ID   uuid.UUID    `json:"id"`
	Kind TaxonomyKind `json:"kind"`
	Slug string       `json:"slug"`
}

// SyncMode selects how much of the remote dataset a run covers.
type SyncMode string

const (
	// SyncModeFull fetches the entire remote dataset. Local records unseen
	// during a full run are expired.
	SyncModeFull SyncMode = "full"

	// SyncModeIncremental fetches only records modified since the last
	// successful run. Unseen records are left untouched: absence only
	// reflects the filter, not removal from the source.
	SyncModeIncremental SyncMode = "incremental"
)

// Trigger records what started a run. It is kept for audit and does not
// change reconciliation behavior.
type Trigger string

const (
	// TriggerScheduled marks runs started by the interval scheduler.
	TriggerScheduled Trigger = "scheduled"

	// TriggerManual marks runs started by an operator (HTTP or CLI).
	TriggerManual Trigger = "manual"
)

// RunStatus is the terminal (or in-flight) state of an import run.
type RunStatus string

const (
	// RunStatusRunning means the run holds the sync lock and is in progress.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded means the run completed with zero errors.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusPartial means the run completed but some records errored, or
	// the run was cancelled before consuming every page.
	RunStatusPartial RunStatus = "partial"

	// RunStatusFailed means a run-level error stopped the page loop.
	RunStatusFailed RunStatus = "failed"
)

// RunError is one entry in a run's ordered error list. ExternalID and Page
// are empty when the error is not attributable to a single record or page.
type RunError struct {
	ExternalID string `json:"external_id,omitempty"`
	Page       int    `json:"page,omitempty"`
	Message    string `json:"message"`
}

// RunCounts aggregates per-record reconciliation outcomes for a run.
type RunCounts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Expired int `json:"expired"`
	Skipped int `json:"skipped"`
	Errored int `json:"errored"`
}

// ImportRun is the persistent record of one synchronization pass. One run
// owns exactly one lock acquisition window.
type ImportRun struct {
	ID         uuid.UUID  `json:"id"`
	Trigger    Trigger    `json:"trigger"`
	Mode       SyncMode   `json:"mode"`
	Status     RunStatus  `json:"status"`
	Counts     RunCounts  `json:"counts"`
	Errors     []RunError `json:"errors,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
