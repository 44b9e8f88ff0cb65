package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/carbon-marketplace/internal/catalog"
	"github.com/carbon-marketplace/internal/logging"
	"github.com/carbon-marketplace/internal/models"
)

// recentActivityLimit caps the ledger rows shown on the dashboard
const recentActivityLimit = 20

// PortfolioSummary aggregates a user's holdings
type PortfolioSummary struct {
	Properties int    `json:"properties"`
	Shares     int64  `json:"shares"`
	Value      string `json:"value"`
}

// PortfolioView is the dashboard payload
type PortfolioView struct {
	Holdings []models.Holding       `json:"holdings"`
	Summary  PortfolioSummary       `json:"summary"`
	Types    []string               `json:"types"`
	Activity []models.ActivityEvent `json:"activity"`
}

// PortfolioService handles the investor dashboard
type PortfolioService struct {
	owners OwnershipRepository
	ledger ActivityLedger
}

// NewPortfolioService creates a new portfolio service
func NewPortfolioService(owners OwnershipRepository, ledger ActivityLedger) *PortfolioService {
	if ledger == nil {
		ledger = NopLedger{}
	}
	return &PortfolioService{owners: owners, ledger: ledger}
}

// GetPortfolio returns the filtered holdings, totals over the filtered rows and recent activity.
// Types always lists every type held so the filter can be widened again.
func (s *PortfolioService) GetPortfolio(ctx context.Context, user *models.User, f catalog.HoldingFilter) (*PortfolioView, error) {
	if user == nil {
		return nil, loginRequired()
	}

	all, err := s.owners.ListHoldings(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	view := &PortfolioView{
		Holdings: catalog.ApplyHoldings(all, f),
		Types:    holdingTypes(all),
	}
	view.Summary = summarize(ctx, view.Holdings)

	activity, err := s.ledger.Recent(ctx, user.ID, recentActivityLimit)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("activity ledger unavailable")
		activity = []models.ActivityEvent{}
	}
	view.Activity = activity
	return view, nil
}

// summarize computes the totals; a holding with an unparseable price contributes no value
func summarize(ctx context.Context, holdings []models.Holding) PortfolioSummary {
	value := decimal.Zero
	var shares int64
	for _, h := range holdings {
		shares += h.Credits
		price, err := decimal.NewFromString(h.Price)
		if err != nil {
			logging.FromContext(ctx).WithField("propertyId", h.PropertyID).Warn("holding has no numeric price")
			continue
		}
		value = value.Add(price.Mul(decimal.NewFromInt(h.Credits)))
	}
	return PortfolioSummary{
		Properties: len(holdings),
		Shares:     shares,
		Value:      value.StringFixed(2),
	}
}

func holdingTypes(holdings []models.Holding) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, h := range holdings {
		if h.Type == "" || seen[h.Type] {
			continue
		}
		seen[h.Type] = true
		out = append(out, h.Type)
	}
	return out
}
