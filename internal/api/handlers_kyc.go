package api

import (
	"net/http"

	"github.com/carbon-marketplace/internal/auth"
	"github.com/carbon-marketplace/internal/service"
	"github.com/carbon-marketplace/internal/types"
)

// defaultMaxUpload bounds multipart bodies when no limit is configured
const defaultMaxUpload = 10 << 20

// handleGetKYC handles GET /api/kyc - Verification status and the submitted form
func (s *Server) handleGetKYC(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())
	status := s.services.KYC.Status(r.Context(), user)

	submission, err := s.services.KYC.GetSubmission(r.Context(), user)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":        status,
		"kyc":           status.Tri(),
		"submission":    submission,
		"readOnly":      submission != nil,
		"documentTypes": types.DocumentTypes,
	})
}

// handleSubmitKYC handles POST /api/kyc - Submit identity details once
func (s *Server) handleSubmitKYC(w http.ResponseWriter, r *http.Request) {
	var form service.KYCForm
	if err := parseJSONBody(r, &form); err != nil {
		invalidBody(w)
		return
	}

	submission, err := s.services.KYC.Submit(r.Context(), auth.UserFrom(r.Context()), form)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, submission)
}

// handleUploadKYCDocument handles POST /api/kyc/document - Store the document image
func (s *Server) handleUploadKYCDocument(w http.ResponseWriter, r *http.Request) {
	limit := s.maxUpload()
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid or oversized upload", nil)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "A document image is required", map[string]interface{}{"field": "file"})
		return
	}
	defer file.Close()

	obj, err := s.services.KYC.UploadDocument(r.Context(), auth.UserFrom(r.Context()), header.Filename, file)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, obj)
}

func (s *Server) maxUpload() int64 {
	if s.config.MaxUploadSize > 0 {
		return s.config.MaxUploadSize
	}
	return defaultMaxUpload
}
