package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbon-marketplace/internal/catalog"
	"github.com/carbon-marketplace/internal/models"
	"github.com/carbon-marketplace/internal/storage"
	"github.com/carbon-marketplace/internal/types"
)

func TestPropertyService_Catalog(t *testing.T) {
	ctx := context.Background()
	props := newMockPropertyRepository()
	for _, p := range []models.Property{
		{Name: "Solar A", Type: "Solar", Price: decimal.NewFromInt(30), Status: types.StatusTrading},
		{Name: "Forest B", Type: "Forestry", Price: decimal.NewFromInt(10), Status: types.StatusTrading},
		{Name: "Solar C", Type: "Solar", Price: decimal.NewFromInt(20), Status: types.StatusLaunchpad},
	} {
		p := p
		require.NoError(t, props.Create(ctx, &p))
	}
	svc := NewPropertyService(props, storage.NewPropertyCache(), staticKYC(types.KYCUnknown))

	res, err := svc.Catalog(ctx, catalog.Filter{Type: "Solar", Sort: types.SortLowToHigh})
	require.NoError(t, err)
	require.Len(t, res.Properties, 2)
	assert.Equal(t, "Solar C", res.Properties[0].Name)
	assert.Equal(t, []string{"Solar", "Forestry"}, res.Types)
	assert.Equal(t, 3, res.Total)
}

func TestPropertyService_GetPropertyCachesOnce(t *testing.T) {
	ctx := context.Background()
	props := newMockPropertyRepository()
	p := &models.Property{Name: "Wetland", Status: types.StatusTrading}
	require.NoError(t, props.Create(ctx, p))
	svc := NewPropertyService(props, storage.NewPropertyCache(), staticKYC(types.KYCUnknown))

	for i := 0; i < 3; i++ {
		detail, err := svc.GetProperty(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "Wetland", detail.Property.Name)
	}
	assert.Equal(t, 1, props.gets)

	_, err := svc.GetProperty(ctx, "nope")
	assert.Equal(t, types.CodePropertyNotFound, serviceCode(t, err))
	_, err = svc.GetProperty(ctx, " ")
	assert.Equal(t, types.CodeInvalidInput, serviceCode(t, err))
}

func TestPropertyService_Gate(t *testing.T) {
	ctx := context.Background()
	user := &models.User{ID: "u1"}

	tests := []struct {
		name   string
		user   *models.User
		status types.KYCStatus
		want   types.InvestAction
		kyc    *bool
	}{
		{"anonymous", nil, types.KYCVerified, types.ActionLogin, nil},
		{"checking", user, types.KYCUnknown, types.ActionChecking, nil},
		{"pending", user, types.KYCPending, types.ActionPending, boolPtr(false)},
		{"not submitted", user, types.KYCNotSubmitted, types.ActionCompleteKYC, boolPtr(false)},
		{"verified", user, types.KYCVerified, types.ActionInvest, boolPtr(true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewPropertyService(newMockPropertyRepository(), storage.NewPropertyCache(), staticKYC(tt.status))
			gate := svc.Gate(ctx, tt.user)
			assert.Equal(t, tt.want, gate.Action)
			assert.Equal(t, tt.want.Label(), gate.Label)
			assert.Equal(t, tt.kyc, gate.KYC)
		})
	}
}
