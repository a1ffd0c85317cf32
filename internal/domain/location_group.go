package domain

import (
	"fmt"
	"sort"
	"time"
)

type CapacityConfidence string

const (
	ConfidenceHigh   CapacityConfidence = "high"
	ConfidenceMedium CapacityConfidence = "medium"
	ConfidenceLow    CapacityConfidence = "low"
	ConfidenceNone   CapacityConfidence = "none"
)

// UnknownName fills empty company and technology names so that every
// component is counted in both fan-out maps.
const UnknownName = "Unknown"

// LocationGroup is the per-location aggregate all read paths query.
type LocationGroup struct {
	ID                        int64              `db:"id"`
	Location                  string             `db:"location"`
	County                    string             `db:"county"`
	OutwardCode               string             `db:"outward_code"`
	Latitude                  *float64           `db:"latitude"`
	Longitude                 *float64           `db:"longitude"`
	ComponentCount            int                `db:"component_count"`
	NormalizedCapacityMW      float64            `db:"normalized_capacity_mw"`
	CapacityConfidence        CapacityConfidence `db:"capacity_confidence"`
	Companies                 map[string]int     `db:"companies"`
	Technologies              map[string]int     `db:"technologies"`
	Descriptions              []string           `db:"descriptions"`
	AuctionYears              []string           `db:"auction_years"`
	CMUIDs                    []string           `db:"cmu_ids"`
	IsActive                  bool               `db:"is_active"`
	RepresentativeComponentID *int64             `db:"representative_component_id"`
	CreatedAt                 time.Time          `db:"created_at"`
	UpdatedAt                 time.Time          `db:"updated_at"`
}

// Validate checks the aggregate invariants. The builder refuses to write a group that fails.
func (lg *LocationGroup) Validate() error {
	if !IsValidLocation(lg.Location) {
		return fmt.Errorf("invalid location %q", lg.Location)
	}
	if lg.ComponentCount < 1 {
		return fmt.Errorf("location %q: component_count %d < 1", lg.Location, lg.ComponentCount)
	}
	if n := sumCounts(lg.Companies); n != lg.ComponentCount {
		return fmt.Errorf("location %q: companies sum %d != component_count %d", lg.Location, n, lg.ComponentCount)
	}
	if n := sumCounts(lg.Technologies); n != lg.ComponentCount {
		return fmt.Errorf("location %q: technologies sum %d != component_count %d", lg.Location, n, lg.ComponentCount)
	}
	if len(lg.CMUIDs) > lg.ComponentCount || len(lg.Descriptions) > lg.ComponentCount {
		return fmt.Errorf("location %q: more distinct values than components", lg.Location)
	}
	if lg.IsActive != IsActiveAuctionYears(lg.AuctionYears) {
		return fmt.Errorf("location %q: is_active disagrees with auction_years", lg.Location)
	}
	return nil
}

func sumCounts(m map[string]int) int {
	var n int
	for _, v := range m {
		n += v
	}
	return n
}

// TechPriorities orders technologies for display; more specific ones win.
var TechPriorities = map[string]int{
	"EV Charging":    1,
	"Pumped Hydro":   2,
	"Battery":        3,
	"Nuclear":        4,
	"Interconnector": 5,
	"Solar":          6,
	"Wind":           7,
	"Hydro":          8,
	"CHP":            9,
	"OCGT":           10,
	"Gas":            10,
	"Biomass":        11,
	"Coal":           12,
	"DSR":            13,
}

const defaultTechPriority = 999

func TechPriority(technology string) int {
	if p, ok := TechPriorities[technology]; ok {
		return p
	}
	return defaultTechPriority
}

// PrimaryTechnology picks the highest-priority technology, alphabetical among equals.
func PrimaryTechnology(technologies map[string]int) string {
	best := ""
	for tech := range technologies {
		if best == "" || TechPriority(tech) < TechPriority(best) ||
			(TechPriority(tech) == TechPriority(best) && tech < best) {
			best = tech
		}
	}
	if best == "" {
		return UnknownName
	}
	return best
}

// PrimaryCompany picks the company with the most components, alphabetical among equals.
func PrimaryCompany(companies map[string]int) string {
	names := make([]string, 0, len(companies))
	for name := range companies {
		names = append(names, name)
	}
	if len(names) == 0 {
		return UnknownName
	}
	sort.Slice(names, func(i, j int) bool {
		if companies[names[i]] != companies[names[j]] {
			return companies[names[i]] > companies[names[j]]
		}
		return names[i] < names[j]
	})
	return names[0]
}
