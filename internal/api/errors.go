package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/carbon-marketplace/internal/errors"
	"github.com/carbon-marketplace/internal/logging"
	"github.com/carbon-marketplace/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// Common error codes
const (
	ErrCodeInvalidInput  = types.CodeInvalidInput
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// respondServiceError maps err through the error categories and writes the
// envelope. System failures are logged and their detail is not exposed.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := apperrors.Categorize(err)
	if catErr.StatusCode >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
			"code":     catErr.Code,
			"category": string(catErr.Category),
		}).Error("request failed")
	}

	if catErr.StatusCode == http.StatusInternalServerError {
		respondError(w, catErr.StatusCode, ErrCodeInternalError, "An internal error occurred", nil)
		return
	}
	respondError(w, catErr.StatusCode, catErr.Code, catErr.Message, catErr.Details)
}

// invalidBody reports a body that could not be decoded
func invalidBody(w http.ResponseWriter) {
	respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
}
