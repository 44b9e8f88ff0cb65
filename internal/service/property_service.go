package service

import (
	"context"
	"strings"

	"github.com/carbon-marketplace/internal/catalog"
	"github.com/carbon-marketplace/internal/models"
	"github.com/carbon-marketplace/internal/storage"
	"github.com/carbon-marketplace/internal/types"
)

// KYCStatusResolver resolves the verification state of a user
type KYCStatusResolver interface {
	Status(ctx context.Context, user *models.User) types.KYCStatus
}

// PropertyService serves the public catalog and property detail pages
type PropertyService struct {
	props PropertyRepository
	cache *storage.PropertyCache
	kyc   KYCStatusResolver
}

// NewPropertyService creates a new property service
func NewPropertyService(props PropertyRepository, cache *storage.PropertyCache, kyc KYCStatusResolver) *PropertyService {
	return &PropertyService{props: props, cache: cache, kyc: kyc}
}

// CatalogResult is one filtered view of the catalog
type CatalogResult struct {
	Properties []models.Property `json:"properties"`
	Types      []string          `json:"types"`
	Total      int               `json:"total"`
}

// Catalog fetches every property once and applies the filter in memory.
// The catalog always reads the store; it does not use the detail cache.
func (s *PropertyService) Catalog(ctx context.Context, f catalog.Filter) (*CatalogResult, error) {
	rows, err := s.props.List(ctx, false)
	if err != nil {
		return nil, err
	}
	view := catalog.NewView(rows)
	return &CatalogResult{
		Properties: view.Query(f),
		Types:      view.Types(),
		Total:      view.Len(),
	}, nil
}

// PropertyDetail is a property with its derived metrics
type PropertyDetail struct {
	Property *models.Property `json:"property"`
	Metrics  models.Metrics   `json:"metrics"`
}

// GetProperty returns one property through the write-once detail cache
func (s *PropertyService) GetProperty(ctx context.Context, id string) (*PropertyDetail, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, invalidInput("id", "property id is required")
	}

	p, err := s.cache.GetOrLoad(ctx, id, s.props.GetByID)
	if err != nil {
		return nil, notFoundAs(err, types.CodePropertyNotFound, "property not found")
	}
	return &PropertyDetail{Property: p, Metrics: p.ComputeMetrics()}, nil
}

// InvestGate is the call to action shown on a property page
type InvestGate struct {
	Action    types.InvestAction `json:"action"`
	Label     string             `json:"label"`
	KYCStatus types.KYCStatus    `json:"kycStatus"`
	KYC       *bool              `json:"kyc"`
}

// Gate resolves exactly one invest action for the current user
func (s *PropertyService) Gate(ctx context.Context, user *models.User) InvestGate {
	status := types.KYCUnknown
	if user != nil {
		status = s.kyc.Status(ctx, user)
	}
	action := types.InvestActionFor(user != nil, status)
	return InvestGate{Action: action, Label: action.Label(), KYCStatus: status, KYC: status.Tri()}
}
