// Package catalog filters and orders project listings in memory.
//
// Every function here is pure: inputs are never mutated, and the same
// input always yields the same output. Filters are AND-combined and run
// before sorting; sorting is stable so equal prices keep fetch order.
package catalog

import (
	"sort"
	"strings"

	"github.com/carbon-marketplace/internal/models"
	"github.com/carbon-marketplace/internal/types"
)

// Filter is the catalog query entered by a visitor
type Filter struct {
	Search string          `json:"search"`
	Type   string          `json:"type"`
	Sort   types.PriceSort `json:"sort"`
}

// Matches reports whether p passes every active predicate of f
func (f Filter) Matches(p *models.Property) bool {
	if f.Search != "" && !containsFold(p.Name, f.Search) {
		return false
	}
	if f.Type != "" && p.Type != f.Type {
		return false
	}
	return true
}

// Apply returns the filtered and sorted rows as a new slice
func Apply(rows []models.Property, f Filter) []models.Property {
	out := make([]models.Property, 0, len(rows))
	for i := range rows {
		if f.Matches(&rows[i]) {
			out = append(out, rows[i])
		}
	}

	switch f.Sort {
	case types.SortLowToHigh:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	case types.SortHighToLow:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price.GreaterThan(out[j].Price) })
	}
	return out
}

// DistinctTypes returns the non-empty project types in first-seen order
func DistinctTypes(rows []models.Property) []string {
	seen := make(map[string]struct{}, len(rows))
	out := []string{}
	for _, r := range rows {
		if r.Type == "" {
			continue
		}
		if _, ok := seen[r.Type]; ok {
			continue
		}
		seen[r.Type] = struct{}{}
		out = append(out, r.Type)
	}
	return out
}

// View holds one fetched result set and answers any number of filter queries
// against it without going back to the store.
type View struct {
	rows  []models.Property
	types []string
}

// NewView snapshots rows; later changes to the caller's slice do not leak in
func NewView(rows []models.Property) *View {
	cp := make([]models.Property, len(rows))
	copy(cp, rows)
	return &View{rows: cp, types: DistinctTypes(cp)}
}

// Query applies f to the snapshot
func (v *View) Query(f Filter) []models.Property {
	return Apply(v.rows, f)
}

// Types returns the distinct types of the snapshot
func (v *View) Types() []string {
	out := make([]string, len(v.types))
	copy(out, v.types)
	return out
}

// Len is the number of fetched rows
func (v *View) Len() int {
	return len(v.rows)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
