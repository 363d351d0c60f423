package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hirepath/jobsync-server/internal/config"
	"github.com/hirepath/jobsync-server/internal/model"
)

const defaultMaxConns = 25

// NewPool creates a pgx connection pool from the database configuration and
// verifies connectivity.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is required")
	}

	connString, err := cfg.GetConnectionString()
	if err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database configuration: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns == 0 {
		maxConns = defaultMaxConns
	}
	poolCfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Database connection established",
		"host", cfg.Host, "port", cfg.Port, "database", cfg.Database)

	return pool, nil
}

// postgresStore is the production Store implementation.
type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Store backed by the given connection pool. The
// caller is responsible for closing the pool.
func NewPostgresStore(pool *pgxpool.Pool) (Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	return &postgresStore{pool: pool}, nil
}

func (s *postgresStore) FindByExternalID(ctx context.Context, externalID string) (*JobSummary, error) {
	var summary JobSummary
	err := s.pool.QueryRow(ctx,
		`SELECT id, external_id, content_hash, status
		 FROM jobs WHERE external_id = $1`,
		externalID,
	).Scan(&summary.ID, &summary.ExternalID, &summary.ContentHash, &summary.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find job by external ID: %w", err)
	}
	return &summary, nil
}

func (s *postgresStore) ListJobIndex(ctx context.Context) (map[string]JobSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, external_id, content_hash, status FROM jobs`)
	if err != nil {
		return nil, fmt.Errorf("failed to list job index: %w", err)
	}
	defer rows.Close()

	index := make(map[string]JobSummary)
	for rows.Next() {
		var summary JobSummary
		if err := rows.Scan(&summary.ID, &summary.ExternalID, &summary.ContentHash, &summary.Status); err != nil {
			return nil, fmt.Errorf("failed to scan job summary: %w", err)
		}
		index[summary.ExternalID] = summary
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read job index: %w", err)
	}

	return index, nil
}

func (s *postgresStore) CreateJob(
	ctx context.Context, rec *model.JobRecord, status model.JobStatus, syncedAt time.Time,
) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`INSERT INTO jobs (
			external_id, title, company, description, department, location,
			employment_type, experience_level, remote, salary, salary_min,
			salary_max, requirements, benefits, expires_at, content_hash,
			status, last_synced_at
		 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		 RETURNING id`,
		rec.ExternalID, rec.Title, rec.Company, rec.Description, rec.Department,
		rec.Location, rec.EmploymentType, rec.ExperienceLevel, rec.Remote,
		rec.Salary, rec.SalaryMin, rec.SalaryMax, rec.Requirements, rec.Benefits,
		rec.ExpiresAt, rec.ContentHash, status, syncedAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create job %s: %w", rec.ExternalID, err)
	}
	return id, nil
}

// UpdateJob overwrites all mutable fields. A record reappearing in a batch
// with new content becomes active again regardless of its previous status.
func (s *postgresStore) UpdateJob(
	ctx context.Context, id uuid.UUID, rec *model.JobRecord, syncedAt time.Time,
) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET
			title = $2, company = $3, description = $4, department = $5,
			location = $6, employment_type = $7, experience_level = $8,
			remote = $9, salary = $10, salary_min = $11, salary_max = $12,
			requirements = $13, benefits = $14, expires_at = $15,
			content_hash = $16, status = $17, last_synced_at = $18,
			updated_at = now()
		 WHERE id = $1`,
		id, rec.Title, rec.Company, rec.Description, rec.Department,
		rec.Location, rec.EmploymentType, rec.ExperienceLevel, rec.Remote,
		rec.Salary, rec.SalaryMin, rec.SalaryMax, rec.Requirements,
		rec.Benefits, rec.ExpiresAt, rec.ContentHash, model.JobStatusActive, syncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) SetJobStatus(ctx context.Context, id uuid.UUID, status model.JobStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("failed to set job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) TouchJob(ctx context.Context, id uuid.UUID, syncedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET last_synced_at = $2 WHERE id = $1`,
		id, syncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to touch job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) UpsertTaxonomyTerm(
	ctx context.Context, kind model.TaxonomyKind, slug, name string,
) (model.TermRef, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`INSERT INTO taxonomy_terms (kind, slug, name)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (kind, slug) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`,
		kind, slug, name,
	).Scan(&id)
	if err != nil {
		return model.TermRef{}, fmt.Errorf("failed to upsert taxonomy term (%s, %s): %w", kind, slug, err)
	}
	return model.TermRef{ID: id, Kind: kind, Slug: slug}, nil
}

func (s *postgresStore) AssignTerms(ctx context.Context, jobID uuid.UUID, refs []model.TermRef) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			slog.Error("Failed to roll back term assignment", "job_id", jobID, "error", rollbackErr)
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM job_terms WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to clear term assignments: %w", err)
	}

	for _, ref := range refs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO job_terms (job_id, term_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			jobID, ref.ID,
		); err != nil {
			return fmt.Errorf("failed to assign term %s: %w", ref.Slug, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *postgresStore) CreateRun(ctx context.Context, run *model.ImportRun) error {
	errorsJSON, err := marshalRunErrors(run.Errors)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO import_runs (
			id, trigger_kind, mode, status, created, updated, expired,
			skipped, errored, errors, started_at, finished_at
		 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		run.ID, run.Trigger, run.Mode, run.Status,
		run.Counts.Created, run.Counts.Updated, run.Counts.Expired,
		run.Counts.Skipped, run.Counts.Errored,
		errorsJSON, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create import run %s: %w", run.ID, err)
	}
	return nil
}

func (s *postgresStore) UpdateRun(ctx context.Context, run *model.ImportRun) error {
	errorsJSON, err := marshalRunErrors(run.Errors)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE import_runs SET
			status = $2, created = $3, updated = $4, expired = $5,
			skipped = $6, errored = $7, errors = $8, finished_at = $9
		 WHERE id = $1`,
		run.ID, run.Status,
		run.Counts.Created, run.Counts.Updated, run.Counts.Expired,
		run.Counts.Skipped, run.Counts.Errored,
		errorsJSON, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update import run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) GetRun(ctx context.Context, id uuid.UUID) (*model.ImportRun, error) {
	return s.scanRun(s.pool.QueryRow(ctx,
		`SELECT id, trigger_kind, mode, status, created, updated, expired,
		        skipped, errored, errors, started_at, finished_at
		 FROM import_runs WHERE id = $1`, id))
}

func (s *postgresStore) LatestRun(ctx context.Context) (*model.ImportRun, error) {
	return s.scanRun(s.pool.QueryRow(ctx,
		`SELECT id, trigger_kind, mode, status, created, updated, expired,
		        skipped, errored, errors, started_at, finished_at
		 FROM import_runs ORDER BY started_at DESC LIMIT 1`))
}

func (s *postgresStore) ListRuns(ctx context.Context, limit int) ([]*model.ImportRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, trigger_kind, mode, status, created, updated, expired,
		        skipped, errored, errors, started_at, finished_at
		 FROM import_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list import runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.ImportRun
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read import runs: %w", err)
	}

	return runs, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (*postgresStore) scanRun(row rowScanner) (*model.ImportRun, error) {
	var run model.ImportRun
	var errorsJSON []byte

	err := row.Scan(
		&run.ID, &run.Trigger, &run.Mode, &run.Status,
		&run.Counts.Created, &run.Counts.Updated, &run.Counts.Expired,
		&run.Counts.Skipped, &run.Counts.Errored,
		&errorsJSON, &run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan import run: %w", err)
	}

	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &run.Errors); err != nil {
			return nil, fmt.Errorf("failed to decode run errors: %w", err)
		}
	}

	return &run, nil
}

func marshalRunErrors(runErrors []model.RunError) ([]byte, error) {
	if runErrors == nil {
		runErrors = []model.RunError{}
	}
	data, err := json.Marshal(runErrors)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run errors: %w", err)
	}
	return data, nil
}

// AcquireLock acquires the named sync lock inside a transaction. A fresh
// lock held by another run returns *LockHeldError; a lock older than
// staleAfter is taken over and the evicted holder's run ID is returned.
func (s *postgresStore) AcquireLock(
	ctx context.Context, name string, runID uuid.UUID, staleAfter time.Duration,
) (*uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			slog.Error("Failed to roll back lock acquisition", "lock", name, "error", rollbackErr)
		}
	}()

	var holder uuid.UUID
	var acquiredAt time.Time
	err = tx.QueryRow(ctx,
		`SELECT holder_run_id, acquired_at FROM sync_locks WHERE name = $1 FOR UPDATE`,
		name,
	).Scan(&holder, &acquiredAt)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// No row is the normal state since release deletes it. Two runs
		// can race through this branch; ON CONFLICT makes the loser
		// observe the winner instead of a unique violation.
		tag, err := tx.Exec(ctx,
			`INSERT INTO sync_locks (name, holder_run_id, acquired_at)
			 VALUES ($1, $2, now())
			 ON CONFLICT (name) DO NOTHING`,
			name, runID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert sync lock: %w", err)
		}
		if tag.RowsAffected() == 0 {
			held := &LockHeldError{Name: name}
			readErr := tx.QueryRow(ctx,
				`SELECT holder_run_id, acquired_at FROM sync_locks WHERE name = $1`,
				name,
			).Scan(&held.HolderRunID, &held.AcquiredAt)
			if readErr != nil && !errors.Is(readErr, pgx.ErrNoRows) {
				return nil, fmt.Errorf("failed to read sync lock: %w", readErr)
			}
			return nil, held
		}
		return nil, tx.Commit(ctx)

	case err != nil:
		return nil, fmt.Errorf("failed to read sync lock: %w", err)
	}

	if time.Since(acquiredAt) <= staleAfter {
		return nil, &LockHeldError{Name: name, HolderRunID: holder, AcquiredAt: acquiredAt}
	}

	// Stale lock from a crashed run: take it over.
	if _, err := tx.Exec(ctx,
		`UPDATE sync_locks SET holder_run_id = $2, acquired_at = now() WHERE name = $1`,
		name, runID,
	); err != nil {
		return nil, fmt.Errorf("failed to reclaim sync lock: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	evicted := holder
	return &evicted, nil
}

func (s *postgresStore) ReleaseLock(ctx context.Context, name string, runID uuid.UUID) error {
	// Holder check keeps an evicted run from freeing a reclaimed lock.
	_, err := s.pool.Exec(ctx,
		`DELETE FROM sync_locks WHERE name = $1 AND holder_run_id = $2`,
		name, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to release sync lock: %w", err)
	}
	return nil
}
