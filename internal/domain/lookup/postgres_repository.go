package lookup

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool abstracts the subset of pgxpool.Pool used by the repository to allow mocking in tests.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ PgxPool = (*pgxpool.Pool)(nil)

// PostgresRepository stores lookup jobs in PostgreSQL
type PostgresRepository struct {
	pgpool PgxPool
}

// NewPostgresRepository creates a new lookup job repository
func NewPostgresRepository(pgpool PgxPool) *PostgresRepository {
	return &PostgresRepository{pgpool: pgpool}
}

var _ Repository = (*PostgresRepository)(nil)

// EnqueueJob inserts a pending lookup job.
func (r *PostgresRepository) EnqueueJob(ctx context.Context, job *Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	query := `
		INSERT INTO lookup_jobs (id, tenant_id, staging_row_id, work_title, artist_name, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pgpool.Exec(ctx, query,
		job.ID, job.TenantID, job.StagingRowID, job.WorkTitle, job.ArtistName, StatusPending)
	if err != nil {
		return fmt.Errorf("failed to enqueue lookup job: %w", err)
	}
	return nil
}

// ClaimPendingJobs moves up to limit pending jobs to processing and returns
// them. SKIP LOCKED keeps concurrent queue instances from claiming the same
// jobs.
func (r *PostgresRepository) ClaimPendingJobs(ctx context.Context, limit int) ([]*Job, error) {
	query := `
		UPDATE lookup_jobs SET status = 'processing', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM lookup_jobs
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, tenant_id, staging_row_id, work_title, artist_name, status,
		          attempts, resolved_iswc, error_message, created_at, updated_at
	`

	rows, err := r.pgpool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim lookup jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.TenantID, &j.StagingRowID, &j.WorkTitle, &j.ArtistName,
			&j.Status, &j.Attempts, &j.ResolvedISWC, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lookup job: %w", err)
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// CompleteJob records a successful resolution and writes the ISWC onto the
// linked staging row, both in one transaction. A row the operator already
// filled in keeps its value.
func (r *PostgresRepository) CompleteJob(ctx context.Context, id uuid.UUID, iswc string) error {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	jobQuery := `
		UPDATE lookup_jobs SET status = 'completed', resolved_iswc = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING staging_row_id
	`
	var stagingRowID uuid.UUID
	if err := tx.QueryRow(ctx, jobQuery, id, iswc).Scan(&stagingRowID); err != nil {
		return fmt.Errorf("failed to complete lookup job: %w", err)
	}

	rowQuery := `
		UPDATE staging_rows SET iswc = $2
		WHERE id = $1 AND (iswc IS NULL OR iswc = '')
	`
	if _, err := tx.Exec(ctx, rowQuery, stagingRowID, iswc); err != nil {
		return fmt.Errorf("failed to enrich staging row: %w", err)
	}

	return tx.Commit(ctx)
}

// FailJob records a failure. Jobs under the attempt cap go back to pending
// for another pass; exhausted jobs are terminal.
func (r *PostgresRepository) FailJob(ctx context.Context, id uuid.UUID, attempts int, message string) error {
	status := StatusPending
	if attempts >= maxAttempts {
		status = StatusFailed
	}

	query := `
		UPDATE lookup_jobs SET status = $2, attempts = $3, error_message = $4, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.pgpool.Exec(ctx, query, id, status, attempts, message); err != nil {
		return fmt.Errorf("failed to fail lookup job: %w", err)
	}
	return nil
}
