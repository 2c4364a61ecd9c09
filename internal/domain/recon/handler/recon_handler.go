// Package handler exposes reconciliation and quarterly reporting over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/tunelodge/royaltydesk/internal/domain/common"
	"github.com/tunelodge/royaltydesk/internal/domain/recon/service"
	"github.com/tunelodge/royaltydesk/pkg/middleware"
)

// ReconHandler implements the reconciliation HTTP endpoints.
type ReconHandler struct {
	svc    *service.ReconService
	logger *slog.Logger
}

// NewReconHandler constructs a new handler.
func NewReconHandler(svc *service.ReconService, logger *slog.Logger) *ReconHandler {
	return &ReconHandler{svc: svc, logger: logger}
}

// Register mounts the reconciliation routes on the mux.
func (h *ReconHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/batches/review", h.reviewBatches)
	mux.HandleFunc("POST /v1/allocations/{id}/link", h.linkAllocation)
	mux.HandleFunc("GET /v1/discrepancies", h.discrepancyReport)
	mux.HandleFunc("POST /v1/reports/quarterly/generate", h.generateQuarterlyReports)
	mux.HandleFunc("GET /v1/payees/{id}/reports", h.listPayeeReports)
}

func (h *ReconHandler) reviewBatches(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	results, err := h.svc.ReviewBatches(r.Context(), tenantID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": results, "count": len(results)})
}

type linkAllocationRequest struct {
	BatchID uuid.UUID `json:"batch_id"`
}

func (h *ReconHandler) linkAllocation(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	allocationID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid allocation id")
		return
	}

	var req linkAllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BatchID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "batch_id is required")
		return
	}

	if err := h.svc.LinkAllocation(r.Context(), tenantID, allocationID, req.BatchID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ReconHandler) discrepancyReport(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	report, err := h.svc.DiscrepancyReport(r.Context(), tenantID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *ReconHandler) generateQuarterlyReports(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	count, err := h.svc.GenerateQuarterlyReports(r.Context(), tenantID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reports_generated": count})
}

func (h *ReconHandler) listPayeeReports(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	payeeID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payee id")
		return
	}

	reports, err := h.svc.ListPayeeReports(r.Context(), tenantID, payeeID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports, "count": len(reports)})
}

func (h *ReconHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, common.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("reconciliation request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
