package api

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/carbon-marketplace/internal/auth"
	"github.com/carbon-marketplace/internal/catalog"
	"github.com/carbon-marketplace/internal/models"
	"github.com/carbon-marketplace/internal/service"
	"github.com/carbon-marketplace/internal/types"
)

var errMissingProperty = errors.New("missing property field")

// propertyForm reads the admin form: either a JSON body, or multipart with a
// "property" JSON field and an optional "image" file.
func (s *Server) propertyForm(w http.ResponseWriter, r *http.Request) (*models.Property, *service.ImageUpload, func(), error) {
	noop := func() {}
	var in service.PropertyInput

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := parseJSONBody(r, &in); err != nil {
			return nil, nil, noop, err
		}
		p, err := in.ToProperty()
		return p, nil, noop, err
	}

	limit := s.maxUpload()
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		return nil, nil, noop, err
	}
	raw := r.FormValue("property")
	if raw == "" {
		return nil, nil, noop, errMissingProperty
	}
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, nil, noop, err
	}
	p, err := in.ToProperty()
	if err != nil {
		return nil, nil, noop, err
	}

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return p, nil, noop, nil
	}
	if err != nil {
		return nil, nil, noop, err
	}
	return p, &service.ImageUpload{Filename: header.Filename, Body: file}, closeFile(file), nil
}

func closeFile(f multipart.File) func() {
	return func() { f.Close() }
}

// respondFormError keeps service validation errors and reports anything else as a bad body
func respondFormError(w http.ResponseWriter, r *http.Request, err error) {
	var se *types.ServiceError
	if errors.As(err, &se) {
		respondServiceError(w, r, err)
		return
	}
	respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid property form", nil)
}

// handleAdminListProperties handles GET /api/admin/properties - Manage view, newest first
func (s *Server) handleAdminListProperties(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := s.services.AdminProperties.List(r.Context(), catalog.AdminFilter{
		Search: q.Get("search"),
		Status: q.Get("status"),
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"properties": rows, "total": len(rows)})
}

// handleAdminGetProperty handles GET /api/admin/properties/{id} - Full record for editing
func (s *Server) handleAdminGetProperty(w http.ResponseWriter, r *http.Request) {
	p, err := s.services.AdminProperties.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, p)
}

// handleAdminCreateProperty handles POST /api/admin/properties - Create a listing
func (s *Server) handleAdminCreateProperty(w http.ResponseWriter, r *http.Request) {
	p, image, cleanup, err := s.propertyForm(w, r)
	defer cleanup()
	if err != nil {
		respondFormError(w, r, err)
		return
	}

	draft := service.NewPropertyDraft()
	draft.Apply(p)

	created, err := s.services.AdminProperties.Create(r.Context(), auth.UserFrom(r.Context()), draft, image)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, created)
}

// handleAdminUpdateProperty handles PUT /api/admin/properties/{id} - Replace a listing
func (s *Server) handleAdminUpdateProperty(w http.ResponseWriter, r *http.Request) {
	p, image, cleanup, err := s.propertyForm(w, r)
	defer cleanup()
	if err != nil {
		respondFormError(w, r, err)
		return
	}

	updated, err := s.services.AdminProperties.Update(r.Context(), auth.UserFrom(r.Context()), mux.Vars(r)["id"], p, image)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

func userFilter(r *http.Request) (catalog.UserFilter, bool) {
	q := r.URL.Query()
	kyc, ok := types.ParseKYCFilter(q.Get("kyc"))
	return catalog.UserFilter{Search: q.Get("search"), KYC: kyc}, ok
}

// handleAdminListUsers handles GET /api/admin/users - User management list
func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	f, ok := userFilter(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "kyc must be all, approved or pending", map[string]interface{}{"field": "kyc"})
		return
	}

	users, err := s.services.AdminUsers.List(r.Context(), f)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"users": users, "total": len(users)})
}

// handleAdminToggleKYC handles POST /api/admin/users/{id}/kyc/toggle - Flip the kyc flag
func (s *Server) handleAdminToggleKYC(w http.ResponseWriter, r *http.Request) {
	f, _ := userFilter(r)
	users, err := s.services.AdminUsers.ToggleKYC(r.Context(), auth.UserFrom(r.Context()), mux.Vars(r)["id"], f)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"users": users, "total": len(users)})
}

// handleAdminDeleteUser handles DELETE /api/admin/users/{id} - Remove an account
func (s *Server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	f, _ := userFilter(r)
	users, err := s.services.AdminUsers.Delete(r.Context(), auth.UserFrom(r.Context()), mux.Vars(r)["id"], f)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"users": users, "total": len(users)})
}
