package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/tunelodge/royaltydesk/internal/domain/ingest/detector"
)

func TestPostgresImportRepository_GetMappingConfigByFingerprint(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	tenantID := uuid.New()
	configID := uuid.New()
	now := time.Now()
	overrides := []byte(`{"work_title":["composition"]}`)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE fingerprint = $2 AND (tenant_id = $1 OR tenant_id IS NULL)`)).
		WithArgs(tenantID, "abc123").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "tenant_id", "source", "fingerprint", "overrides", "created_at", "updated_at",
		}).AddRow(configID, &tenantID, detector.SheetMLCCatalog, "abc123", overrides, now, now))

	repo := NewPostgresImportRepository(mock)
	config, err := repo.GetMappingConfigByFingerprint(context.Background(), tenantID, "abc123")
	if err != nil {
		t.Fatalf("GetMappingConfigByFingerprint: %v", err)
	}
	if config == nil {
		t.Fatal("expected config")
	}
	if got := config.Overrides["work_title"]; len(got) != 1 || got[0] != "composition" {
		t.Fatalf("overrides not decoded: %+v", config.Overrides)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresImportRepository_GetMappingConfig_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	tenantID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE source = $2 AND (tenant_id = $1 OR tenant_id IS NULL)`)).
		WithArgs(tenantID, detector.SheetSync).
		WillReturnError(pgx.ErrNoRows)

	repo := NewPostgresImportRepository(mock)
	config, err := repo.GetMappingConfig(context.Background(), tenantID, detector.SheetSync)
	if err != nil {
		t.Fatalf("GetMappingConfig: %v", err)
	}
	if config != nil {
		t.Fatalf("expected nil for missing config, got %+v", config)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresImportRepository_BulkInsertStagingRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	tenantID := uuid.New()
	jobID := uuid.New()
	rows := []*StagingRow{
		{
			TenantID:         tenantID,
			ImportJobID:      jobID,
			SourceSheet:      detector.SheetASCAPBMISongview,
			WorkTitle:        "Hold On",
			ArtistName:       "Jane Doe",
			NormalizedTitle:  "hold on",
			Writers:          []Contributor{{Name: "Jane Doe", Role: "writer", PRO: "ASCAP"}},
			ValidationStatus: StatusValid,
			RawRowData:       map[string]string{"Work Title": "Hold On"},
		},
		{
			TenantID:         tenantID,
			ImportJobID:      jobID,
			SourceSheet:      detector.SheetASCAPBMISongview,
			WorkTitle:        "Let Go",
			ArtistName:       "Jane Doe",
			NormalizedTitle:  "let go",
			ValidationStatus: StatusValid,
		},
	}

	mock.ExpectCopyFrom(pgx.Identifier{"staging_rows"}, []string{
		"id", "tenant_id", "import_job_id", "source_sheet", "work_title", "artist_name",
		"isrc", "iswc", "normalized_title", "writers", "publishers", "canonical_row",
		"identifier_conflicts", "validation_status", "validation_errors", "raw_row_data",
		"superseded",
	}).WillReturnResult(2)

	repo := NewPostgresImportRepository(mock)
	count, err := repo.BulkInsertStagingRows(context.Background(), rows)
	if err != nil {
		t.Fatalf("BulkInsertStagingRows: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 inserted, got %d", count)
	}
	if rows[0].ID == uuid.Nil {
		t.Fatal("expected generated row id")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresImportRepository_SupersedeStagingRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	tenantID := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE staging_rows SET superseded = TRUE`)).
		WithArgs(tenantID, detector.SheetMLCCatalog).
		WillReturnResult(pgxmock.NewResult("UPDATE", 40))

	repo := NewPostgresImportRepository(mock)
	if err := repo.SupersedeStagingRows(context.Background(), tenantID, detector.SheetMLCCatalog); err != nil {
		t.Fatalf("SupersedeStagingRows: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresImportRepository_FinishImportJob(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	jobID := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE import_jobs SET`)).
		WithArgs(jobID, "succeeded", true, []string{"iswc"}, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := NewPostgresImportRepository(mock)
	if err := repo.FinishImportJob(context.Background(), jobID, "succeeded", true, []string{"iswc"}, nil); err != nil {
		t.Fatalf("FinishImportJob: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
