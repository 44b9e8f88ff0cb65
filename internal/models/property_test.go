package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbon-marketplace/internal/types"
)

func TestAttributes_AcceptsArrayAndObjectShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want decimal.Decimal
	}{
		{"plain object", `{"initialPropertyValue": 50000, "sharePerNFT": 2}`, decimal.NewFromInt(50000)},
		{"single element array", `[{"initialPropertyValue": "50000", "sharePerNFT": 2}]`, decimal.NewFromInt(50000)},
		{"empty array", `[]`, decimal.Zero},
		{"null", `null`, decimal.Zero},
		{"empty string numeric", `{"initialPropertyValue": ""}`, decimal.Zero},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a Attributes
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &a))
			assert.True(t, tt.want.Equal(a.InitialPropertyValue), "got %s", a.InitialPropertyValue)
		})
	}
}

func TestAttributes_LenientScalarFields(t *testing.T) {
	var a Attributes
	require.NoError(t, json.Unmarshal([]byte(`{"owners": "12", "irr": 11.1, "nftSymbol": "SUN"}`), &a))
	assert.Equal(t, int64(12), a.Owners)
	assert.Equal(t, "11.1", a.IRR)
	assert.Equal(t, "SUN", a.NFTSymbol)
}

func TestAttributes_RejectsScalarDocument(t *testing.T) {
	var a Attributes
	assert.Error(t, json.Unmarshal([]byte(`42`), &a))
}

func TestValueParameters_ArrayShape(t *testing.T) {
	var vp ValueParameters
	require.NoError(t, json.Unmarshal([]byte(`[{"roi": 12.5, "appreciation": 3, "rentalYield": ""}]`), &vp))
	assert.Equal(t, "12.5", vp.ROI.String())
	assert.True(t, vp.RentalYield.IsZero())
}

func TestComputeMetrics(t *testing.T) {
	p := Property{
		Price:           decimal.NewFromInt(120),
		AvailableShares: 80,
		TotalShares:     100,
		Attributes: Attributes{
			InitialPropertyValue: decimal.NewFromInt(1000),
			InitialSharePrice:    decimal.NewFromInt(100),
		},
	}
	m := p.ComputeMetrics()
	assert.Equal(t, "120000", m.CurrentValue.String())
	assert.Equal(t, "1000", m.OriginalValue.String())

	p.Attributes.InitialPropertyValue = decimal.Zero
	assert.True(t, p.ComputeMetrics().CurrentValue.IsZero())
}

func TestPropertyValidate(t *testing.T) {
	base := func() Property {
		return Property{Name: "Solar", Status: types.StatusLaunchpad, Price: decimal.NewFromInt(10), AvailableShares: 5, TotalShares: 5}
	}

	p := base()
	assert.NoError(t, p.Validate())

	p = base()
	p.Status = "sold"
	assert.Error(t, p.Validate())

	p = base()
	p.AvailableShares = 6
	assert.Error(t, p.Validate())

	p = base()
	p.Price = decimal.NewFromInt(-1)
	assert.Error(t, p.Validate())

	p = base()
	p.Name = ""
	assert.Error(t, p.Validate())
}
