// Package handler exposes the statement-import pipeline over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/tunelodge/royaltydesk/internal/domain/common"
	"github.com/tunelodge/royaltydesk/internal/domain/ingest/detector"
	"github.com/tunelodge/royaltydesk/internal/domain/ingest/parser"
	"github.com/tunelodge/royaltydesk/internal/domain/ingest/service"
	"github.com/tunelodge/royaltydesk/pkg/middleware"
)

// maxUploadBytes caps statement uploads at 50 MiB.
const maxUploadBytes = 50 << 20

// ImportHandler implements the import HTTP endpoints.
type ImportHandler struct {
	svc    *service.ImportService
	logger *slog.Logger
}

// NewImportHandler constructs a new handler.
func NewImportHandler(svc *service.ImportService, logger *slog.Logger) *ImportHandler {
	return &ImportHandler{svc: svc, logger: logger}
}

// Register mounts the import routes on the mux.
func (h *ImportHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/imports", h.processStatement)
	mux.HandleFunc("POST /v1/imports/analyze", h.analyzeStatement)
	mux.HandleFunc("GET /v1/imports/{id}", h.getImportJob)
	mux.HandleFunc("GET /v1/imports/{id}/rows", h.listStagedRows)
	mux.HandleFunc("POST /v1/imports/{id}/approve", h.approveImport)
	mux.HandleFunc("PUT /v1/mappings", h.saveMapping)
}

func (h *ImportHandler) processStatement(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	fileName, content, manualSource, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	result, err := h.svc.ProcessStatement(r.Context(), tenantID, fileName, content, manualSource)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *ImportHandler) analyzeStatement(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	fileName, content, _, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	result, err := h.svc.AnalyzeStatement(r.Context(), tenantID, fileName, content)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ImportHandler) getImportJob(w http.ResponseWriter, r *http.Request) {
	tenantID, jobID, ok := h.tenantAndID(w, r)
	if !ok {
		return
	}

	job, err := h.svc.GetImportJob(r.Context(), tenantID, jobID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *ImportHandler) listStagedRows(w http.ResponseWriter, r *http.Request) {
	tenantID, jobID, ok := h.tenantAndID(w, r)
	if !ok {
		return
	}

	rows, err := h.svc.ListStagedRows(r.Context(), tenantID, jobID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows, "count": len(rows)})
}

func (h *ImportHandler) approveImport(w http.ResponseWriter, r *http.Request) {
	tenantID, jobID, ok := h.tenantAndID(w, r)
	if !ok {
		return
	}

	result, err := h.svc.ApproveImport(r.Context(), tenantID, jobID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type saveMappingRequest struct {
	Source      detector.SheetType  `json:"source"`
	Fingerprint string              `json:"fingerprint"`
	Overrides   map[string][]string `json:"overrides"`
}

func (h *ImportHandler) saveMapping(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req saveMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Fingerprint == "" || len(req.Overrides) == 0 {
		writeError(w, http.StatusBadRequest, "fingerprint and overrides are required")
		return
	}

	if err := h.svc.SaveMapping(r.Context(), tenantID, req.Source, req.Fingerprint, req.Overrides); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readUpload pulls the statement file and optional manual_source field from a
// multipart form.
func (h *ImportHandler) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, detector.SheetType, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form upload")
		return "", nil, "", false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return "", nil, "", false
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return "", nil, "", false
	}

	manualSource := detector.ParseSheetType(r.FormValue("manual_source"))
	return header.Filename, content, manualSource, true
}

func (h *ImportHandler) tenantAndID(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	tenantID, ok := middleware.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, id, true
}

func (h *ImportHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, common.ErrUnknownSource):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, parser.ErrEmptyFile),
		errors.Is(err, parser.ErrUnreadableFile),
		errors.Is(err, parser.ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("import request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// headers are already sent, nothing to recover here
		return
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
