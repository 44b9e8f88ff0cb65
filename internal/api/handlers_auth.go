package api

import (
	"net/http"

	"github.com/carbon-marketplace/internal/auth"
	"github.com/carbon-marketplace/internal/logging"
	"github.com/carbon-marketplace/internal/types"
)

// handleSignup handles POST /api/auth/signup - Create an account and sign in
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupInput
	if err := parseJSONBody(r, &req); err != nil {
		invalidBody(w)
		return
	}

	session, err := s.services.Sessions.Signup(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, session)
}

// handleLogin handles POST /api/auth/login - Exchange credentials for a token
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		invalidBody(w)
		return
	}

	session, err := s.services.Sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, session)
}

// handleLogout handles POST /api/auth/logout - Revoke the current token
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFrom(r.Context())
	if token != "" {
		if err := s.services.Sessions.Logout(r.Context(), token); err != nil {
			logging.FromContext(r.Context()).WithError(err).Warn("logout failed")
			respondError(w, http.StatusServiceUnavailable, types.CodeServiceUnavailable, "Logout failed, please try again", nil)
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleSession handles GET /api/session - The current user, or null
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user": auth.UserFrom(r.Context()),
	})
}
