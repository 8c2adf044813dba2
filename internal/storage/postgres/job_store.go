package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/store"
)

const uniqueViolation = "23505"

// JobStore persists crawl jobs.
type JobStore struct {
	pool  Pool
	table string
}

// NewJobStore builds a store over an existing pool.
func NewJobStore(pool Pool, table string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table = orDefault(table, "jobs")
	if err := checkTables(table); err != nil {
		return nil, err
	}
	return &JobStore{pool: pool, table: table}, nil
}

// Install creates the jobs table.
func (s *JobStore) Install(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(36) PRIMARY KEY,
	status VARCHAR(16) NOT NULL,
	connection_name VARCHAR(32) NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	error_text TEXT,
	seed_version TEXT,
	parameters JSONB NOT NULL,
	counters JSONB NOT NULL
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_connection_idx ON %s (connection_name)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("install jobs: %w", err)
		}
	}
	return nil
}

// Create inserts a new job.
func (s *JobStore) Create(ctx context.Context, job crawler.Job) error {
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("marshal job parameters: %w", err)
	}
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal job counters: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s
	(id, status, connection_name, submitted_at, started_at, finished_at, error_text, seed_version, parameters, counters)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, s.table)
	_, err = s.pool.Exec(ctx, query,
		job.ID,
		string(job.Status),
		job.Parameters.Connection,
		job.Submitted,
		job.Started,
		job.Finished,
		job.ErrorText,
		job.SeedVersion,
		params,
		counters,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *JobStore) selectJobs() string {
	return fmt.Sprintf(`SELECT id, status, submitted_at, started_at, finished_at,
	COALESCE(error_text,''), COALESCE(seed_version,''), parameters, counters
FROM %s`, s.table)
}

func scanJob(row pgx.Row) (crawler.Job, error) {
	var (
		job              crawler.Job
		status           string
		params, counters []byte
	)
	if err := row.Scan(
		&job.ID,
		&status,
		&job.Submitted,
		&job.Started,
		&job.Finished,
		&job.ErrorText,
		&job.SeedVersion,
		&params,
		&counters,
	); err != nil {
		return crawler.Job{}, err
	}
	job.Status = crawler.JobStatus(status)
	if err := json.Unmarshal(params, &job.Parameters); err != nil {
		return crawler.Job{}, fmt.Errorf("unmarshal job parameters: %w", err)
	}
	if err := json.Unmarshal(counters, &job.Counters); err != nil {
		return crawler.Job{}, fmt.Errorf("unmarshal job counters: %w", err)
	}
	return job, nil
}

// Get loads one job.
func (s *JobStore) Get(ctx context.Context, id string) (crawler.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, s.selectJobs()+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Job{}, store.ErrNotFound
		}
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs newest first, optionally filtered by status.
func (s *JobStore) List(ctx context.Context, status *crawler.JobStatus, limit, offset int) ([]crawler.Job, error) {
	var statusArg *string
	if status != nil {
		v := string(*status)
		statusArg = &v
	}
	if limit <= 0 {
		limit = 100
	}
	query := s.selectJobs() + ` WHERE ($1::text IS NULL OR status = $1)
ORDER BY submitted_at DESC, id DESC
LIMIT $2 OFFSET $3`
	rows, err := s.pool.Query(ctx, query, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	out := []crawler.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// UpdateStatus sets status, error text and counters, stamping start and
// finish times.
func (s *JobStore) UpdateStatus(
	ctx context.Context,
	id string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
	at time.Time,
) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal job counters: %w", err)
	}
	var finished *time.Time
	if status.Terminal() {
		finished = &at
	}
	query := fmt.Sprintf(`UPDATE %s SET
	status = $1,
	error_text = $2,
	counters = $3,
	started_at = CASE WHEN $1 = 'running' AND started_at IS NULL THEN $4 ELSE started_at END,
	finished_at = COALESCE($5, finished_at)
WHERE id = $6`, s.table)
	tag, err := s.pool.Exec(ctx, query, string(status), errText, countersJSON, at, finished, id)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdateSeedVersion records the seeding checkpoint.
func (s *JobStore) UpdateSeedVersion(ctx context.Context, id, seedVersion string) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET seed_version = $1 WHERE id = $2`, s.table), seedVersion, id)
	if err != nil {
		return fmt.Errorf("update seed version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// LastSeedVersion returns the seed version of the newest succeeded job for
// the connection whose spec encodes to specKey.
func (s *JobStore) LastSeedVersion(ctx context.Context, connection, specKey string) (string, error) {
	query := fmt.Sprintf(`SELECT seed_version FROM %s
WHERE connection_name = $1
	AND status = 'succeeded'
	AND COALESCE(seed_version, '') <> ''
	AND jsonb_build_object('nodes', COALESCE(NULLIF(parameters->'spec'->'nodes', 'null'::jsonb), '[]'::jsonb)) = $2::jsonb
ORDER BY submitted_at DESC, id DESC
LIMIT 1`, s.table)
	var version string
	err := s.pool.QueryRow(ctx, query, connection, specKey).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("last seed version: %w", err)
	}
	return version, nil
}

// CheckIfReferenced reports whether a queued or running job uses the
// connection.
func (s *JobStore) CheckIfReferenced(ctx context.Context, connection string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE connection_name = $1 AND status IN ('queued', 'running'))`, s.table),
		connection,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check job reference: %w", err)
	}
	return exists, nil
}
