package service

import (
	"context"

	"github.com/carbon-marketplace/internal/catalog"
	"github.com/carbon-marketplace/internal/logging"
	"github.com/carbon-marketplace/internal/models"
	"github.com/carbon-marketplace/internal/types"
)

// StatusInvalidator drops cached KYC status for users
type StatusInvalidator interface {
	Invalidate(ctx context.Context, userIDs ...string)
}

// AdminUserService handles user management and admin checks
type AdminUserService struct {
	users UserRepository
	kyc   StatusInvalidator
}

// NewAdminUserService creates a new admin user service
func NewAdminUserService(users UserRepository, kyc StatusInvalidator) *AdminUserService {
	return &AdminUserService{users: users, kyc: kyc}
}

// IsAdmin reports whether the user holds the admin flag
func (s *AdminUserService) IsAdmin(ctx context.Context, userID string) (bool, error) {
	return s.users.IsAdmin(ctx, userID)
}

// List returns users newest first, filtered
func (s *AdminUserService) List(ctx context.Context, f catalog.UserFilter) ([]models.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.ApplyUsers(users, f), nil
}

// ToggleKYC flips the user's kyc flag and returns the re-fetched list
func (s *AdminUserService) ToggleKYC(ctx context.Context, admin *models.User, userID string, f catalog.UserFilter) ([]models.User, error) {
	kyc, err := s.users.ToggleKYC(ctx, userID)
	if err != nil {
		return nil, notFoundAs(err, types.CodeUserNotFound, "user not found")
	}
	s.kyc.Invalidate(ctx, userID)

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"adminId": admin.ID,
		"userId":  userID,
		"kyc":     kyc,
	}).Info("user kyc toggled")
	return s.List(ctx, f)
}

// Delete removes the user and returns the re-fetched list
func (s *AdminUserService) Delete(ctx context.Context, admin *models.User, userID string, f catalog.UserFilter) ([]models.User, error) {
	if userID == admin.ID {
		return nil, invalidInput("id", "admins cannot delete their own account")
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		return nil, notFoundAs(err, types.CodeUserNotFound, "user not found")
	}
	s.kyc.Invalidate(ctx, userID)

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"adminId": admin.ID,
		"userId":  userID,
	}).Info("user deleted")
	return s.List(ctx, f)
}
