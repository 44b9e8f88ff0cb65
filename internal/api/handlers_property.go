package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/carbon-marketplace/internal/auth"
	"github.com/carbon-marketplace/internal/catalog"
	"github.com/carbon-marketplace/internal/service"
	"github.com/carbon-marketplace/internal/types"
)

// handleListProperties handles GET /api/properties - Filtered and sorted catalog
func (s *Server) handleListProperties(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sort, ok := types.ParsePriceSort(q.Get("sort"))
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "sort must be low-to-high or high-to-low", map[string]interface{}{"field": "sort"})
		return
	}

	result, err := s.services.Properties.Catalog(r.Context(), catalog.Filter{
		Search: q.Get("search"),
		Type:   q.Get("type"),
		Sort:   sort,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleGetProperty handles GET /api/properties/{id} - Detail, metrics and invest action
func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	detail, err := s.services.Properties.GetProperty(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	gate := s.services.Properties.Gate(r.Context(), auth.UserFrom(r.Context()))
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"property": detail.Property,
		"metrics":  detail.Metrics,
		"invest":   gate,
	})
}

// handleInvestGate handles GET /api/properties/{id}/invest - The single call to action
func (s *Server) handleInvestGate(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.services.Properties.Gate(r.Context(), auth.UserFrom(r.Context())))
}

// handleCreateOrder handles POST /api/properties/{id}/orders - Open a checkout
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Shares service.RawShares `json:"shares"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		invalidBody(w)
		return
	}

	checkout, err := s.services.Orders.CreateOrder(r.Context(), auth.UserFrom(r.Context()), mux.Vars(r)["id"], req.Shares)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, checkout)
}

// handleVerifyPayment handles POST /api/orders/verify - Confirm a completed checkout
func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req service.VerifyPaymentInput
	if err := parseJSONBody(r, &req); err != nil {
		invalidBody(w)
		return
	}

	if err := s.services.Orders.VerifyPayment(r.Context(), auth.UserFrom(r.Context()), req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
