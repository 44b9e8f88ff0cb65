package api

import (
	"net/http"

	"github.com/carbon-marketplace/internal/auth"
	"github.com/carbon-marketplace/internal/catalog"
)

// handleGetPortfolio handles GET /api/portfolio - Holdings, totals and recent activity
func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view, err := s.services.Portfolio.GetPortfolio(r.Context(), auth.UserFrom(r.Context()), catalog.HoldingFilter{
		Search: q.Get("search"),
		Type:   q.Get("type"),
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}
