package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tunelodge/royaltydesk/internal/domain/ingest/detector"
)

// PgxPool abstracts the subset of pgxpool.Pool used by the repository to allow mocking in tests.
type PgxPool interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ PgxPool = (*pgxpool.Pool)(nil)

// PostgresImportRepository handles database operations for the import pipeline
type PostgresImportRepository struct {
	pgpool PgxPool
}

// NewPostgresImportRepository creates a new import repository
func NewPostgresImportRepository(pgpool PgxPool) *PostgresImportRepository {
	return &PostgresImportRepository{pgpool: pgpool}
}

var _ ImportRepository = (*PostgresImportRepository)(nil)

const mappingConfigColumns = `id, tenant_id, source, fingerprint, overrides, created_at, updated_at`

// GetMappingConfig returns the tenant's saved mapping for a source, falling
// back to a global template when the tenant has none.
func (r *PostgresImportRepository) GetMappingConfig(ctx context.Context, tenantID uuid.UUID, source detector.SheetType) (*MappingConfig, error) {
	query := `
		SELECT ` + mappingConfigColumns + `
		FROM mapping_configs
		WHERE source = $2 AND (tenant_id = $1 OR tenant_id IS NULL)
		ORDER BY tenant_id NULLS LAST
		LIMIT 1
	`
	return r.scanMappingConfig(ctx, query, tenantID, source)
}

// GetMappingConfigByFingerprint looks up a mapping by header fingerprint, so a
// recurring statement layout is recognized even when detection is uncertain.
func (r *PostgresImportRepository) GetMappingConfigByFingerprint(ctx context.Context, tenantID uuid.UUID, fingerprint string) (*MappingConfig, error) {
	query := `
		SELECT ` + mappingConfigColumns + `
		FROM mapping_configs
		WHERE fingerprint = $2 AND (tenant_id = $1 OR tenant_id IS NULL)
		ORDER BY tenant_id NULLS LAST
		LIMIT 1
	`
	return r.scanMappingConfig(ctx, query, tenantID, fingerprint)
}

func (r *PostgresImportRepository) scanMappingConfig(ctx context.Context, query string, args ...any) (*MappingConfig, error) {
	var (
		config        MappingConfig
		overridesJSON []byte
	)
	err := r.pgpool.QueryRow(ctx, query, args...).Scan(
		&config.ID, &config.TenantID, &config.Source, &config.Fingerprint,
		&overridesJSON, &config.CreatedAt, &config.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping config: %w", err)
	}
	if len(overridesJSON) > 0 {
		if err := json.Unmarshal(overridesJSON, &config.Overrides); err != nil {
			return nil, fmt.Errorf("failed to decode mapping overrides: %w", err)
		}
	}
	return &config, nil
}

// SaveMappingConfig upserts a mapping keyed by (tenant, fingerprint).
func (r *PostgresImportRepository) SaveMappingConfig(ctx context.Context, config *MappingConfig) error {
	if config.ID == uuid.Nil {
		config.ID = uuid.New()
	}

	overridesJSON, err := json.Marshal(config.Overrides)
	if err != nil {
		return fmt.Errorf("failed to encode mapping overrides: %w", err)
	}

	query := `
		INSERT INTO mapping_configs (id, tenant_id, source, fingerprint, overrides)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, fingerprint) DO UPDATE SET
			source = EXCLUDED.source, overrides = EXCLUDED.overrides, updated_at = NOW()
	`
	if _, err := r.pgpool.Exec(ctx, query, config.ID, config.TenantID, config.Source, config.Fingerprint, overridesJSON); err != nil {
		return fmt.Errorf("failed to save mapping config: %w", err)
	}
	return nil
}

// CreateImportJob creates a new import job
func (r *PostgresImportRepository) CreateImportJob(ctx context.Context, job *ImportJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	query := `
		INSERT INTO import_jobs (id, tenant_id, file_name, source, status, rows_total)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pgpool.Exec(ctx, query,
		job.ID, job.TenantID, job.FileName, job.Source, job.Status, job.RowsTotal,
	)
	if err != nil {
		return fmt.Errorf("failed to create import job: %w", err)
	}
	return nil
}

// GetImportJobByID retrieves an import job, nil if it does not exist.
func (r *PostgresImportRepository) GetImportJobByID(ctx context.Context, tenantID, id uuid.UUID) (*ImportJob, error) {
	query := `
		SELECT id, tenant_id, file_name, source, status, needs_review, unmapped_fields,
		       error_message, rows_total, rows_staged, rows_failed, requested_at, finished_at
		FROM import_jobs WHERE tenant_id = $1 AND id = $2
	`

	var job ImportJob
	err := r.pgpool.QueryRow(ctx, query, tenantID, id).Scan(
		&job.ID, &job.TenantID, &job.FileName, &job.Source, &job.Status,
		&job.NeedsReview, &job.UnmappedFields, &job.ErrorMessage,
		&job.RowsTotal, &job.RowsStaged, &job.RowsFailed,
		&job.RequestedAt, &job.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import job: %w", err)
	}
	return &job, nil
}

// UpdateImportJobProgress updates the row counts for a running import job
func (r *PostgresImportRepository) UpdateImportJobProgress(ctx context.Context, id uuid.UUID, rowsStaged, rowsFailed int) error {
	query := `UPDATE import_jobs SET rows_staged = $2, rows_failed = $3 WHERE id = $1`
	if _, err := r.pgpool.Exec(ctx, query, id, rowsStaged, rowsFailed); err != nil {
		return fmt.Errorf("failed to update import job progress: %w", err)
	}
	return nil
}

// FinishImportJob marks an import job as complete
func (r *PostgresImportRepository) FinishImportJob(ctx context.Context, id uuid.UUID, status string, needsReview bool, unmappedFields []string, errorMessage *string) error {
	query := `
		UPDATE import_jobs SET
			status = $2, needs_review = $3, unmapped_fields = $4,
			error_message = $5, finished_at = NOW()
		WHERE id = $1
	`
	if _, err := r.pgpool.Exec(ctx, query, id, status, needsReview, unmappedFields, errorMessage); err != nil {
		return fmt.Errorf("failed to finish import job: %w", err)
	}
	return nil
}

// BulkInsertStagingRows inserts staged rows with COPY. Structured fields are
// stored as JSONB so conflicts and errors stay queryable.
func (r *PostgresImportRepository) BulkInsertStagingRows(ctx context.Context, rows []*StagingRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	columns := []string{
		"id", "tenant_id", "import_job_id", "source_sheet", "work_title", "artist_name",
		"isrc", "iswc", "normalized_title", "writers", "publishers", "canonical_row",
		"identifier_conflicts", "validation_status", "validation_errors", "raw_row_data",
		"superseded",
	}

	copyCount, err := r.pgpool.CopyFrom(ctx,
		pgx.Identifier{"staging_rows"},
		columns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			row := rows[i]
			if row.ID == uuid.Nil {
				row.ID = uuid.New()
			}

			writers, err := json.Marshal(row.Writers)
			if err != nil {
				return nil, fmt.Errorf("failed to encode writers: %w", err)
			}
			publishers, err := json.Marshal(row.Publishers)
			if err != nil {
				return nil, fmt.Errorf("failed to encode publishers: %w", err)
			}
			canonical, err := json.Marshal(row.CanonicalRow)
			if err != nil {
				return nil, fmt.Errorf("failed to encode canonical row: %w", err)
			}
			conflicts, err := json.Marshal(row.IdentifierConflicts)
			if err != nil {
				return nil, fmt.Errorf("failed to encode conflicts: %w", err)
			}
			validationErrors, err := json.Marshal(row.ValidationErrors)
			if err != nil {
				return nil, fmt.Errorf("failed to encode validation errors: %w", err)
			}
			raw, err := json.Marshal(row.RawRowData)
			if err != nil {
				return nil, fmt.Errorf("failed to encode raw row: %w", err)
			}

			return []any{
				row.ID, row.TenantID, row.ImportJobID, row.SourceSheet,
				row.WorkTitle, row.ArtistName, row.ISRC, row.ISWC, row.NormalizedTitle,
				writers, publishers, canonical, conflicts,
				row.ValidationStatus, validationErrors, raw, row.Superseded,
			}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk insert staging rows: %w", err)
	}
	return int(copyCount), nil
}

// ListStagingRowsByJob returns one job's staged rows in insertion order.
func (r *PostgresImportRepository) ListStagingRowsByJob(ctx context.Context, tenantID, jobID uuid.UUID) ([]*StagingRow, error) {
	query := `
		SELECT id, tenant_id, import_job_id, source_sheet, work_title, artist_name,
		       isrc, iswc, normalized_title, writers, publishers, canonical_row,
		       identifier_conflicts, validation_status, validation_errors, raw_row_data,
		       superseded, created_at
		FROM staging_rows
		WHERE tenant_id = $1 AND import_job_id = $2
		ORDER BY created_at, id
	`

	pgRows, err := r.pgpool.Query(ctx, query, tenantID, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list staging rows: %w", err)
	}
	defer pgRows.Close()

	var rows []*StagingRow
	for pgRows.Next() {
		var (
			row                                                    StagingRow
			writers, publishers, canonical, conflicts, verrs, rawR []byte
		)
		if err := pgRows.Scan(&row.ID, &row.TenantID, &row.ImportJobID, &row.SourceSheet,
			&row.WorkTitle, &row.ArtistName, &row.ISRC, &row.ISWC, &row.NormalizedTitle,
			&writers, &publishers, &canonical, &conflicts,
			&row.ValidationStatus, &verrs, &rawR, &row.Superseded, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan staging row: %w", err)
		}

		if err := decodeJSON(writers, &row.Writers); err != nil {
			return nil, fmt.Errorf("failed to decode writers: %w", err)
		}
		if err := decodeJSON(publishers, &row.Publishers); err != nil {
			return nil, fmt.Errorf("failed to decode publishers: %w", err)
		}
		if err := decodeJSON(canonical, &row.CanonicalRow); err != nil {
			return nil, fmt.Errorf("failed to decode canonical row: %w", err)
		}
		if err := decodeJSON(conflicts, &row.IdentifierConflicts); err != nil {
			return nil, fmt.Errorf("failed to decode conflicts: %w", err)
		}
		if err := decodeJSON(verrs, &row.ValidationErrors); err != nil {
			return nil, fmt.Errorf("failed to decode validation errors: %w", err)
		}
		if err := decodeJSON(rawR, &row.RawRowData); err != nil {
			return nil, fmt.Errorf("failed to decode raw row: %w", err)
		}
		rows = append(rows, &row)
	}
	return rows, pgRows.Err()
}

func decodeJSON(data []byte, dest any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}

// SupersedeStagingRows marks previous non-superseded rows of a source as
// replaced, so re-imports never duplicate staged data.
func (r *PostgresImportRepository) SupersedeStagingRows(ctx context.Context, tenantID uuid.UUID, source detector.SheetType) error {
	query := `
		UPDATE staging_rows SET superseded = TRUE
		WHERE tenant_id = $1 AND source_sheet = $2 AND superseded = FALSE
	`
	if _, err := r.pgpool.Exec(ctx, query, tenantID, source); err != nil {
		return fmt.Errorf("failed to supersede staging rows: %w", err)
	}
	return nil
}
