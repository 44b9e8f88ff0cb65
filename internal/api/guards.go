package api

import (
	"context"
	"net/http"

	"github.com/carbon-marketplace/internal/auth"
	"github.com/carbon-marketplace/internal/logging"
	"github.com/carbon-marketplace/internal/types"
)

// LoginPath is where clients render the login prompt
const LoginPath = "/login"

// AdminChecker looks up the admin flag of a user
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// RequireAuth refuses anonymous requests with a login prompt; the handler is not invoked.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.UserFrom(r.Context()) == nil {
			respondError(w, http.StatusUnauthorized, types.CodeLoginRequired, "Please log in to continue", map[string]interface{}{
				"loginPath": LoginPath,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin serves the handler only to users whose admin flag is set.
// The flag is read from the store on every request, not from the token.
func RequireAdmin(admins AdminChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := auth.UserFrom(r.Context())
			if user == nil {
				respondError(w, http.StatusUnauthorized, types.CodeAdminLoginRequired, "Admin login required", map[string]interface{}{
					"loginPath": LoginPath,
				})
				return
			}

			isAdmin, err := admins.IsAdmin(r.Context(), user.ID)
			if err != nil {
				logging.FromContext(r.Context()).WithError(err).Warn("admin check failed")
				respondError(w, http.StatusServiceUnavailable, types.CodePermissionPending, "Checking permissions", nil)
				return
			}
			if !isAdmin {
				respondError(w, http.StatusForbidden, types.CodeForbidden, "Admin access required", map[string]interface{}{
					"redirect": "/",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
