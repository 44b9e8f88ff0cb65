package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/carbon-marketplace/internal/logging"
	"github.com/carbon-marketplace/internal/models"
	"github.com/carbon-marketplace/internal/storage"
	"github.com/carbon-marketplace/internal/types"
)

// UserStore is the subset of the user repository the provider needs
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// RevocationStore records logged-out token ids
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Provider is the session provider
type Provider struct {
	users      UserStore
	revoked    RevocationStore
	tokens     *TokenManager
	adminEmail string
	cost       int
}

// NewProvider creates a session provider. Signups using adminEmail become admins.
func NewProvider(users UserStore, revoked RevocationStore, tokens *TokenManager, adminEmail string) *Provider {
	return &Provider{
		users:      users,
		revoked:    revoked,
		tokens:     tokens,
		adminEmail: strings.ToLower(strings.TrimSpace(adminEmail)),
		cost:       bcrypt.DefaultCost,
	}
}

// SignupInput is the account creation form
type SignupInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Session is a signed-in user and their token
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

// Signup creates the account and signs it in
func (p *Provider) Signup(ctx context.Context, in SignupInput) (*Session, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, &types.ServiceError{Code: types.CodeInvalidInput, Message: "a valid email is required",
			Details: map[string]interface{}{"field": "email"}}
	}
	if len(in.Password) < 8 {
		return nil, &types.ServiceError{Code: types.CodeInvalidInput, Message: "password must be at least 8 characters",
			Details: map[string]interface{}{"field": "password"}}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), p.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:        email,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		PasswordHash: string(hash),
		IsAdmin:      p.adminEmail != "" && email == p.adminEmail,
	}
	if err := p.users.Create(ctx, user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, types.NewServiceError(types.CodeEmailTaken, "an account with this email already exists")
		}
		return nil, err
	}

	logging.FromContext(ctx).WithField("userId", user.ID).Info("account created")
	return p.issue(user)
}

// Login verifies credentials and issues a session token
func (p *Provider) Login(ctx context.Context, email, password string) (*Session, error) {
	invalid := types.NewServiceError(types.CodeInvalidCredentials, "invalid email or password")

	user, err := p.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, invalid
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, invalid
	}
	return p.issue(user)
}

func (p *Provider) issue(user *models.User) (*Session, error) {
	token, claims, err := p.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: claims.ExpiresAt.Time, User: user}, nil
}

// Logout revokes the token. On failure the session remains valid and the error is returned.
func (p *Provider) Logout(ctx context.Context, token string) error {
	claims, err := p.tokens.Parse(token)
	if err != nil {
		// an invalid token is already signed out
		return nil
	}
	if err := p.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	return nil
}

// CurrentUser resolves a bearer token to its user. Any failure, including a
// revoked token or a deleted account, yields nil: the caller is anonymous.
func (p *Provider) CurrentUser(ctx context.Context, token string) *models.User {
	if token == "" {
		return nil
	}
	logger := logging.FromContext(ctx)

	claims, err := p.tokens.Parse(token)
	if err != nil {
		logger.WithError(err).Debug("session token rejected")
		return nil
	}

	revoked, err := p.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		logger.WithError(err).Warn("session revocation check failed")
		return nil
	}
	if revoked {
		return nil
	}

	user, err := p.users.GetByID(ctx, claims.Sub)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.WithError(err).Warn("session user lookup failed")
		}
		return nil
	}
	return user
}
