package catalog

import (
	"strings"

	"github.com/carbon-marketplace/internal/models"
	"github.com/carbon-marketplace/internal/types"
)

// AdminFilter is the property management query. Status "all" or empty disables the status predicate.
type AdminFilter struct {
	Search string `json:"search"`
	Status string `json:"status"`
}

// Matches searches name, location and type case-insensitively, AND status equality
func (f AdminFilter) Matches(p *models.Property) bool {
	if f.Search != "" {
		if !containsFold(p.Name, f.Search) &&
			!containsFold(p.Location, f.Search) &&
			!containsFold(p.Type, f.Search) {
			return false
		}
	}
	if f.Status != "" && !strings.EqualFold(f.Status, "all") && string(p.Status) != f.Status {
		return false
	}
	return true
}

// ApplyAdmin filters rows, preserving their order
func ApplyAdmin(rows []models.Property, f AdminFilter) []models.Property {
	out := make([]models.Property, 0, len(rows))
	for i := range rows {
		if f.Matches(&rows[i]) {
			out = append(out, rows[i])
		}
	}
	return out
}

// UserFilter is the user management query
type UserFilter struct {
	Search string          `json:"search"`
	KYC    types.KYCFilter `json:"kyc"`
}

// Matches searches email and first name case-insensitively, AND the kyc predicate
func (f UserFilter) Matches(u *models.User) bool {
	if f.Search != "" && !containsFold(u.Email, f.Search) && !containsFold(u.FirstName, f.Search) {
		return false
	}
	switch f.KYC {
	case types.KYCFilterApproved:
		return u.KYCApproved()
	case types.KYCFilterPending:
		return !u.KYCApproved()
	}
	return true
}

// ApplyUsers filters users, preserving their order
func ApplyUsers(users []models.User, f UserFilter) []models.User {
	out := make([]models.User, 0, len(users))
	for i := range users {
		if f.Matches(&users[i]) {
			out = append(out, users[i])
		}
	}
	return out
}

// HoldingFilter narrows a portfolio by project name and type
type HoldingFilter struct {
	Search string `json:"search"`
	Type   string `json:"type"`
}

// ApplyHoldings filters holdings, preserving their order
func ApplyHoldings(rows []models.Holding, f HoldingFilter) []models.Holding {
	out := make([]models.Holding, 0, len(rows))
	for _, h := range rows {
		if f.Search != "" && !containsFold(h.ProjectName, f.Search) {
			continue
		}
		if f.Type != "" && h.Type != f.Type {
			continue
		}
		out = append(out, h)
	}
	return out
}
