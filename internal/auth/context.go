package auth

import (
	"context"

	"github.com/carbon-marketplace/internal/models"
)

type userKey struct{}
type tokenKey struct{}

// WithUser stores the resolved user (possibly nil) and raw token in ctx
func WithUser(ctx context.Context, user *models.User, token string) context.Context {
	ctx = context.WithValue(ctx, userKey{}, user)
	return context.WithValue(ctx, tokenKey{}, token)
}

// UserFrom returns the current user, or nil for anonymous requests
func UserFrom(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey{}).(*models.User)
	return u
}

// TokenFrom returns the raw session token of the request
func TokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey{}).(string)
	return t
}
