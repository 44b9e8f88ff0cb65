package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/carbon-marketplace/internal/auth"
	"github.com/carbon-marketplace/internal/certificate"
	"github.com/carbon-marketplace/internal/service"
	"github.com/carbon-marketplace/internal/types"
)

// handleListOffsets handles GET /api/offsets - Holdings and past retirements
func (s *Server) handleListOffsets(w http.ResponseWriter, r *http.Request) {
	view, err := s.services.Retirements.Offsets(r.Context(), auth.UserFrom(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// handleRetire handles POST /api/offsets - Retire credits on chain
func (s *Server) handleRetire(w http.ResponseWriter, r *http.Request) {
	var req service.RetireInput
	if err := parseJSONBody(r, &req); err != nil {
		invalidBody(w)
		return
	}

	result, err := s.services.Retirements.Retire(r.Context(), auth.UserFrom(r.Context()), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Retirement.Status != types.RetirementConfirmed {
		// mined later; the reconciliation worker confirms it
		status = http.StatusAccepted
	}
	respondJSON(w, status, result)
}

// handleCertificate handles GET /api/offsets/{id}/certificate - PDF certificate
func (s *Server) handleCertificate(w http.ResponseWriter, r *http.Request) {
	ret, err := s.services.Retirements.Certificate(r.Context(), auth.UserFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	cert := certificate.FromRetirement(ret)
	var buf bytes.Buffer
	if err := certificate.Render(&buf, cert); err != nil {
		respondServiceError(w, r, fmt.Errorf("failed to render certificate: %w", err))
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", cert.Filename()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
