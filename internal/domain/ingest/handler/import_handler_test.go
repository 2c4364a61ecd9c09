package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunelodge/royaltydesk/internal/domain/ingest/detector"
	"github.com/tunelodge/royaltydesk/internal/domain/ingest/repository"
	"github.com/tunelodge/royaltydesk/internal/domain/ingest/service"
	reconrepo "github.com/tunelodge/royaltydesk/internal/domain/recon/repository"
	"github.com/tunelodge/royaltydesk/pkg/middleware"
)

type stubImportRepo struct {
	jobs   map[uuid.UUID]*repository.ImportJob
	staged []*repository.StagingRow
}

func newStubImportRepo() *stubImportRepo {
	return &stubImportRepo{jobs: make(map[uuid.UUID]*repository.ImportJob)}
}

func (s *stubImportRepo) GetMappingConfig(context.Context, uuid.UUID, detector.SheetType) (*repository.MappingConfig, error) {
	return nil, nil
}

func (s *stubImportRepo) GetMappingConfigByFingerprint(context.Context, uuid.UUID, string) (*repository.MappingConfig, error) {
	return nil, nil
}

func (s *stubImportRepo) SaveMappingConfig(context.Context, *repository.MappingConfig) error {
	return nil
}

func (s *stubImportRepo) CreateImportJob(_ context.Context, job *repository.ImportJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *stubImportRepo) GetImportJobByID(_ context.Context, _, id uuid.UUID) (*repository.ImportJob, error) {
	return s.jobs[id], nil
}

func (s *stubImportRepo) UpdateImportJobProgress(context.Context, uuid.UUID, int, int) error {
	return nil
}

func (s *stubImportRepo) FinishImportJob(_ context.Context, id uuid.UUID, status string, _ bool, _ []string, _ *string) error {
	if job, ok := s.jobs[id]; ok {
		job.Status = status
	}
	return nil
}

func (s *stubImportRepo) BulkInsertStagingRows(_ context.Context, rows []*repository.StagingRow) (int, error) {
	s.staged = append(s.staged, rows...)
	return len(rows), nil
}

func (s *stubImportRepo) ListStagingRowsByJob(context.Context, uuid.UUID, uuid.UUID) ([]*repository.StagingRow, error) {
	return nil, nil
}

func (s *stubImportRepo) SupersedeStagingRows(context.Context, uuid.UUID, detector.SheetType) error {
	return nil
}

type stubAllocationWriter struct{}

func (stubAllocationWriter) CreateAllocations(_ context.Context, allocations []*reconrepo.Allocation) (int, error) {
	return len(allocations), nil
}

func newTestHandler() (*ImportHandler, *stubImportRepo) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	repo := newStubImportRepo()
	svc := service.NewImportService(repo, stubAllocationWriter{}, logger)
	return NewImportHandler(svc, logger), repo
}

func multipartUpload(t *testing.T, fileName, content, manualSource string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	if manualSource != "" {
		require.NoError(t, w.WriteField("manual_source", manualSource))
	}
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func authedRequest(method, target string, body *bytes.Buffer, contentType string) *http.Request {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req
}

// serve routes the request through the handler's mux, injecting the tenant the
// way the auth middleware would. A nil tenant leaves the context untouched.
func serve(h *ImportHandler, req *http.Request, tenantID uuid.UUID) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.Register(mux)

	if tenantID != uuid.Nil {
		req = req.WithContext(middleware.WithTenantID(req.Context(), tenantID))
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestProcessStatement_HTTP(t *testing.T) {
	h, repo := newTestHandler()
	body, contentType := multipartUpload(t, "ascap_statement.csv",
		"Work Title,Writer,ISWC\nHold On,Jane Doe,T-345246800-1\n", "")

	req := authedRequest(http.MethodPost, "/v1/imports", body, contentType)
	rec := serve(h, req, uuid.New())

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Source     detector.SheetType `json:"Source"`
		RowsStaged int                `json:"RowsStaged"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, detector.SheetASCAPBMISongview, resp.Source)
	assert.Equal(t, 1, resp.RowsStaged)
	assert.Len(t, repo.staged, 1)
}

func TestProcessStatement_HTTP_UnknownSource(t *testing.T) {
	h, _ := newTestHandler()
	body, contentType := multipartUpload(t, "mystery.csv", "Colour,Weight\nred,5\n", "")

	req := authedRequest(http.MethodPost, "/v1/imports", body, contentType)
	rec := serve(h, req, uuid.New())

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestProcessStatement_HTTP_ManualSource(t *testing.T) {
	h, _ := newTestHandler()
	body, contentType := multipartUpload(t, "mystery.csv", "Title,Writer\nHold On,Jane Doe\n", "sync")

	req := authedRequest(http.MethodPost, "/v1/imports", body, contentType)
	rec := serve(h, req, uuid.New())

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestProcessStatement_HTTP_Unauthenticated(t *testing.T) {
	h, _ := newTestHandler()
	body, contentType := multipartUpload(t, "ascap.csv", "Work Title\nHold On\n", "")

	req := authedRequest(http.MethodPost, "/v1/imports", body, contentType)
	rec := serve(h, req, uuid.Nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetImportJob_HTTP_NotFound(t *testing.T) {
	h, _ := newTestHandler()
	req := authedRequest(http.MethodGet, "/v1/imports/"+uuid.NewString(), nil, "")
	rec := serve(h, req, uuid.New())

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
