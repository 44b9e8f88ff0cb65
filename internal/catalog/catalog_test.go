package catalog

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/carbon-marketplace/internal/models"
	"github.com/carbon-marketplace/internal/types"
)

func listing() []models.Property {
	return []models.Property{
		{ID: "a", Name: "Green Valley Solar", Type: "Solar", Location: "Pune", Status: types.StatusLaunchpad, Price: decimal.NewFromInt(300)},
		{ID: "b", Name: "Mangrove Restore", Type: "Forestry", Location: "Sundarbans", Status: types.StatusTrading, Price: decimal.NewFromInt(100)},
		{ID: "c", Name: "Desert Sun", Type: "Solar", Location: "Jaisalmer", Status: types.StatusTrading, Price: decimal.NewFromInt(100)},
		{ID: "d", Name: "Coastal Wind", Type: "Wind", Location: "Gujarat", Status: types.StatusLaunchpad, Price: decimal.NewFromInt(200)},
	}
}

func TestApply_SearchAndTypeAreCombined(t *testing.T) {
	got := Apply(listing(), Filter{Search: "SOL", Type: "Solar"})
	assert.Equal(t, []string{"a"}, ids(got))

	got = Apply(listing(), Filter{Search: "s", Type: "Forestry"})
	assert.Equal(t, []string{"b"}, ids(got))

	assert.Empty(t, Apply(listing(), Filter{Search: "sol", Type: "Wind"}))
}

func TestApply_SortIsStable(t *testing.T) {
	assert.Equal(t, []string{"b", "c", "d", "a"}, ids(Apply(listing(), Filter{Sort: types.SortLowToHigh})))
	assert.Equal(t, []string{"a", "d", "b", "c"}, ids(Apply(listing(), Filter{Sort: types.SortHighToLow})))
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(Apply(listing(), Filter{})))
}

func TestDistinctTypes_FirstSeenOrder(t *testing.T) {
	assert.Equal(t, []string{"Solar", "Forestry", "Wind"}, DistinctTypes(listing()))
	assert.Equal(t, []string{}, DistinctTypes(nil))
}

func TestView_SnapshotsRows(t *testing.T) {
	rows := listing()
	v := NewView(rows)
	rows[0].Name = "changed"

	assert.Equal(t, 4, v.Len())
	assert.Equal(t, []string{"a"}, ids(v.Query(Filter{Search: "green"})))
	assert.Equal(t, []string{"Solar", "Forestry", "Wind"}, v.Types())
}

func TestApplyAdmin(t *testing.T) {
	assert.Equal(t, []string{"b"}, ids(ApplyAdmin(listing(), AdminFilter{Search: "sundar"})))
	assert.Equal(t, []string{"a", "c"}, ids(ApplyAdmin(listing(), AdminFilter{Search: "solar", Status: "all"})))
	assert.Equal(t, []string{"c"}, ids(ApplyAdmin(listing(), AdminFilter{Search: "solar", Status: "trading"})))
	assert.Equal(t, []string{"a", "d"}, ids(ApplyAdmin(listing(), AdminFilter{Status: "launchpad"})))
}

func TestApplyUsers(t *testing.T) {
	yes, no := true, false
	users := []models.User{
		{ID: "1", Email: "asha@example.com", FirstName: "Asha", KYC: &yes},
		{ID: "2", Email: "ben@example.com", FirstName: "Ben", KYC: &no},
		{ID: "3", Email: "cara@example.com", FirstName: "Cara"},
	}
	userIDs := func(us []models.User) []string {
		out := []string{}
		for _, u := range us {
			out = append(out, u.ID)
		}
		return out
	}

	assert.Equal(t, []string{"1"}, userIDs(ApplyUsers(users, UserFilter{KYC: types.KYCFilterApproved})))
	assert.Equal(t, []string{"2", "3"}, userIDs(ApplyUsers(users, UserFilter{KYC: types.KYCFilterPending})))
	assert.Equal(t, []string{"2"}, userIDs(ApplyUsers(users, UserFilter{Search: "BEN", KYC: types.KYCFilterAll})))
	assert.Empty(t, ApplyUsers(users, UserFilter{Search: "asha", KYC: types.KYCFilterPending}))
}

func TestApplyHoldings(t *testing.T) {
	rows := []models.Holding{
		{ProjectName: "Green Valley Solar", Type: "Solar"},
		{ProjectName: "Coastal Wind", Type: "Wind"},
	}
	assert.Len(t, ApplyHoldings(rows, HoldingFilter{Search: "wind"}), 1)
	assert.Len(t, ApplyHoldings(rows, HoldingFilter{Type: "Solar"}), 1)
	assert.Len(t, ApplyHoldings(rows, HoldingFilter{}), 2)
}
