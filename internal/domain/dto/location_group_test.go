package dto

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ougirez/cmregistry/internal/domain"
)

func f64(v float64) *float64 { return &v }

func TestAggregate(t *testing.T) {
	const loc = "Drax Power Station, Selby YO8 8PH"
	components := []*domain.Component{
		{ID: 3, CMUID: "DRAX01", CompanyName: "Drax Power Limited", Technology: "Biomass", AuctionName: "T-4 2024-25", Location: loc, Description: "Unit 1", DeratedCapacityMW: f64(600.1234)},
		{ID: 1, CMUID: "DRAX01", CompanyName: "Drax Power Limited", Technology: "Biomass", AuctionName: "T-4 2019-20", Location: loc, Description: "Unit 1", DeratedCapacityMW: f64(590)},
		{ID: 2, CMUID: "DRAX02", CompanyName: "", Technology: "Gas", AuctionName: "T-1 2020-21", Location: loc, Description: "Unit 5", Latitude: f64(53.73), Longitude: f64(-0.99), County: "North Yorkshire"},
		{ID: 3, CMUID: "DRAX01", CompanyName: "Drax Power Limited", Technology: "Biomass", AuctionName: "T-4 2024-25", Location: loc, Description: "Unit 1", DeratedCapacityMW: f64(600.1234)},
	}

	lg, errs := Aggregate(loc, components)
	require.Empty(t, errs)
	require.NotNil(t, lg)

	assert.Equal(t, 3, lg.ComponentCount)
	assert.Equal(t, map[string]int{"Drax Power Limited": 2, domain.UnknownName: 1}, lg.Companies)
	assert.Equal(t, map[string]int{"Biomass": 2, "Gas": 1}, lg.Technologies)
	assert.Equal(t, []string{"DRAX01", "DRAX02"}, lg.CMUIDs)
	assert.Equal(t, []string{"Unit 1", "Unit 5"}, lg.Descriptions)
	assert.Equal(t, []string{"T-4 2019-20", "T-1 2020-21", "T-4 2024-25"}, lg.AuctionYears)
	assert.True(t, lg.IsActive)
	assert.Equal(t, 1190.123, lg.NormalizedCapacityMW)
	assert.Equal(t, domain.ConfidenceMedium, lg.CapacityConfidence)
	assert.Equal(t, "YO8", lg.OutwardCode)
	assert.Equal(t, "North Yorkshire", lg.County)

	// the only component with coordinates wins over higher capacity
	require.NotNil(t, lg.RepresentativeComponentID)
	assert.Equal(t, int64(2), *lg.RepresentativeComponentID)
	assert.Equal(t, 53.73, *lg.Latitude)
}

func TestAggregateRepresentativeTieBreak(t *testing.T) {
	const loc = "Site A"
	lg, errs := Aggregate(loc, []*domain.Component{
		{ID: 9, Location: loc, DeratedCapacityMW: f64(10)},
		{ID: 4, Location: loc, DeratedCapacityMW: f64(10)},
		{ID: 7, Location: loc, DeratedCapacityMW: f64(5)},
	})
	require.Empty(t, errs)
	assert.Equal(t, int64(4), *lg.RepresentativeComponentID)
	assert.Equal(t, domain.ConfidenceHigh, lg.CapacityConfidence)
	assert.False(t, lg.IsActive)
	assert.Equal(t, []string{}, lg.AuctionYears)
}

func TestAggregateSkipsBadComponents(t *testing.T) {
	const loc = "Site B"
	lg, errs := Aggregate(loc, []*domain.Component{
		{ID: 1, Location: loc, Technology: "Battery"},
		{ID: 2, Location: "Elsewhere", Technology: "Battery"},
		{ID: 3, Location: loc, DeratedCapacityMW: f64(-1)},
		nil,
	})
	assert.Len(t, errs, 3)
	require.NotNil(t, lg)
	assert.Equal(t, 1, lg.ComponentCount)
	assert.Equal(t, domain.ConfidenceNone, lg.CapacityConfidence)
}

func TestAggregateRejectsInvalidLocation(t *testing.T) {
	lg, errs := Aggregate("TBC", []*domain.Component{{ID: 1, Location: "TBC"}})
	assert.Nil(t, lg)
	assert.NotEmpty(t, errs)
}

// matchesComponents evaluates filters over source components, independently of the aggregate.
func matchesComponents(f domain.Filters, components []*domain.Component) bool {
	if f.Technology != "" && !anyComponent(components, func(c *domain.Component) bool { return c.Technology == f.Technology }) {
		return false
	}
	if f.Company != "" && !anyComponent(components, func(c *domain.Component) bool { return c.CompanyName == f.Company }) {
		return false
	}
	if f.Auction != "" && !anyComponent(components, func(c *domain.Component) bool { return strings.Contains(c.AuctionName, f.Auction) }) {
		return false
	}
	active := anyComponent(components, func(c *domain.Component) bool {
		return domain.IsActiveAuctionYears([]string{c.AuctionName})
	})
	switch f.Status {
	case domain.StatusActive:
		return active
	case domain.StatusInactive:
		return !active
	}
	return true
}

// matchesGroup evaluates filters the way the aggregate query does.
func matchesGroup(f domain.Filters, lg *domain.LocationGroup) bool {
	if _, ok := lg.Technologies[f.Technology]; f.Technology != "" && !ok {
		return false
	}
	if _, ok := lg.Companies[f.Company]; f.Company != "" && !ok {
		return false
	}
	if f.Auction != "" {
		found := false
		for _, y := range lg.AuctionYears {
			found = found || strings.Contains(y, f.Auction)
		}
		if !found {
			return false
		}
	}
	switch f.Status {
	case domain.StatusActive:
		return lg.IsActive
	case domain.StatusInactive:
		return !lg.IsActive
	}
	return true
}

func anyComponent(components []*domain.Component, pred func(*domain.Component) bool) bool {
	for _, c := range components {
		if pred(c) {
			return true
		}
	}
	return false
}

func TestAggregateProperties(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	techs := []string{"Battery", "Gas", "DSR", "Solar"}
	companies := []string{"Drax Power Limited", "GridBeyond Limited", "Octopus Energy"}
	auctions := []string{"T-4 2019-20", "T-1 2022-23", "T-4 2024-25", "T-4 2027-28", "T-1 2023-24"}

	var id int64
	for i := 0; i < 300; i++ {
		loc := fmt.Sprintf("Site %d", i)
		var components []*domain.Component
		for n := 1 + rnd.Intn(6); n > 0; n-- {
			id++
			components = append(components, &domain.Component{
				ID:          id,
				CMUID:       fmt.Sprintf("CMU%d", rnd.Intn(4)),
				CompanyName: companies[rnd.Intn(len(companies))],
				Technology:  techs[rnd.Intn(len(techs))],
				AuctionName: auctions[rnd.Intn(len(auctions))],
				Location:    loc,
				Description: fmt.Sprintf("Unit %d", rnd.Intn(3)),
			})
		}

		lg, errs := Aggregate(loc, components)
		require.Empty(t, errs)
		require.NoError(t, lg.Validate())
		assert.Equal(t, len(components), lg.ComponentCount)

		filters := domain.Filters{
			Technology: []string{"", techs[rnd.Intn(len(techs))]}[rnd.Intn(2)],
			Company:    []string{"", companies[rnd.Intn(len(companies))]}[rnd.Intn(2)],
			Auction:    []string{"", "2024-25", "2019-20"}[rnd.Intn(3)],
			Status:     []domain.Status{domain.StatusAny, domain.StatusActive, domain.StatusInactive}[rnd.Intn(3)],
		}
		if matchesGroup(filters, lg) {
			assert.True(t, matchesComponents(filters, components), "%+v", filters)
		}

		again, _ := Aggregate(loc, components)
		assert.Equal(t, lg, again)
	}
}
