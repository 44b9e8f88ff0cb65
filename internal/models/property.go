package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/carbon-marketplace/internal/types"
)

// Property is a listed project in property_data
type Property struct {
	ID              string               `json:"id" db:"id"`
	Name            string               `json:"name" db:"name"`
	Status          types.PropertyStatus `json:"status" db:"status"`
	Price           decimal.Decimal      `json:"price" db:"price"`
	AvailableShares int64                `json:"availableShares" db:"available_shares"`
	TotalShares     int64                `json:"totalShares" db:"total_shares"`
	Location        string               `json:"location" db:"location"`
	Type            string               `json:"type" db:"type"`
	Growth          string               `json:"growth" db:"growth"`
	Description     string               `json:"description" db:"description"`
	Image           string               `json:"image" db:"image"`
	Progress        []ProgressItem       `json:"progress" db:"progress"`
	Updates         []Update             `json:"updates" db:"updates"`
	Highlights      []Highlight          `json:"highlights" db:"highlights"`
	Documents       []string             `json:"documents" db:"documents"`
	Attributes      Attributes           `json:"attributes" db:"attributes"`
	ValueParameters ValueParameters      `json:"valueParameters" db:"value_parameters"`
	CreatedAt       time.Time            `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time            `json:"updatedAt" db:"updated_at"`
}

// ProgressItem is one milestone on the project timeline
type ProgressItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Date        string `json:"date"`
	Completed   bool   `json:"completed"`
}

// Update is a dated news entry for a project
type Update struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Date        string `json:"date"`
}

// Highlight is a short selling point
type Highlight struct {
	Highlight string `json:"highlight"`
}

// Attributes holds the token and offering parameters of a project
type Attributes struct {
	SharePerNFT          decimal.Decimal `json:"sharePerNFT"`
	InitialSharePrice    decimal.Decimal `json:"initialSharePrice"`
	InitialPropertyValue decimal.Decimal `json:"initialPropertyValue"`
	CarbonCredits        decimal.Decimal `json:"carbonCredits"`
	Invested             decimal.Decimal `json:"invested"`
	Owners               int64           `json:"owners"`
	NFTSymbol            string          `json:"nftSymbol,omitempty"`
	IRR                  string          `json:"irr,omitempty"`
	ARR                  string          `json:"arr,omitempty"`
	ContractAddress      string          `json:"contractAddress,omitempty"`
}

// ValueParameters holds the projected returns of a project
type ValueParameters struct {
	ROI          decimal.Decimal `json:"roi"`
	Appreciation decimal.Decimal `json:"appreciation"`
	RentalYield  decimal.Decimal `json:"rentalYield"`
}

// Validate checks the invariants every stored property must satisfy
func (p *Property) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !p.Status.Valid() {
		return fmt.Errorf("status must be %q or %q", types.StatusLaunchpad, types.StatusTrading)
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("price must not be negative")
	}
	if p.AvailableShares < 0 {
		return fmt.Errorf("available shares must not be negative")
	}
	if p.TotalShares < p.AvailableShares {
		return fmt.Errorf("available shares (%d) exceed total shares (%d)", p.AvailableShares, p.TotalShares)
	}
	return nil
}

// Metrics are values derived from a property for display
type Metrics struct {
	CurrentValue    decimal.Decimal `json:"currentValue"`
	OriginalValue   decimal.Decimal `json:"originalValue"`
	InitialPrice    decimal.Decimal `json:"initialSharePrice"`
	Invested        decimal.Decimal `json:"invested"`
	AvailableShares int64           `json:"availableShares"`
	TotalShares     int64           `json:"totalShares"`
}

// ComputeMetrics derives display metrics. Current value is price times initial
// property value, and zero when either is missing.
func (p *Property) ComputeMetrics() Metrics {
	current := decimal.Zero
	if !p.Price.IsZero() && !p.Attributes.InitialPropertyValue.IsZero() {
		current = p.Price.Mul(p.Attributes.InitialPropertyValue)
	}
	return Metrics{
		CurrentValue:    current,
		OriginalValue:   p.Attributes.InitialPropertyValue,
		InitialPrice:    p.Attributes.InitialSharePrice,
		Invested:        p.Attributes.Invested,
		AvailableShares: p.AvailableShares,
		TotalShares:     p.TotalShares,
	}
}

// numericAttributeKeys are decoded as decimals; empty strings are treated as absent
var numericAttributeKeys = map[string]bool{
	"sharePerNFT": true, "initialSharePrice": true, "initialPropertyValue": true,
	"carbonCredits": true, "invested": true, "owners": true,
	"roi": true, "appreciation": true, "rentalYield": true,
}

// normalizeObject accepts a JSON object, a single-element array of objects,
// an empty array or null, and returns the plain object form.
func normalizeObject(raw []byte) (map[string]interface{}, error) {
	raw = bytes.TrimSpace(raw)
	out := map[string]interface{}{}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return out, nil
	}

	switch raw[0] {
	case '[':
		var arr []map[string]interface{}
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil, err
		}
		if len(arr) > 0 && arr[0] != nil {
			out = arr[0]
		}
	case '{':
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("expected object or array, got %q", raw[0])
	}

	for k, v := range out {
		if f, isNum := v.(float64); isNum && (k == "irr" || k == "arr" || k == "nftSymbol") {
			out[k] = strconv.FormatFloat(f, 'f', -1, 64)
			continue
		}
		s, ok := v.(string)
		if !ok || !numericAttributeKeys[k] {
			continue
		}
		if s == "" {
			delete(out, k)
			continue
		}
		if k == "owners" {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("owners: %w", err)
			}
			out[k] = n
		}
	}
	return out, nil
}

func decodeNormalized(raw []byte, dst interface{}) error {
	obj, err := normalizeObject(raw)
	if err != nil {
		return err
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

// UnmarshalJSON accepts both the stored object shape and the legacy single-element array shape
func (a *Attributes) UnmarshalJSON(raw []byte) error {
	type plain Attributes
	var v plain
	if err := decodeNormalized(raw, &v); err != nil {
		return fmt.Errorf("attributes: %w", err)
	}
	*a = Attributes(v)
	return nil
}

// UnmarshalJSON accepts both the stored object shape and the legacy single-element array shape
func (vp *ValueParameters) UnmarshalJSON(raw []byte) error {
	type plain ValueParameters
	var v plain
	if err := decodeNormalized(raw, &v); err != nil {
		return fmt.Errorf("value parameters: %w", err)
	}
	*vp = ValueParameters(v)
	return nil
}
