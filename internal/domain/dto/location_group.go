package dto

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ougirez/cmregistry/internal/domain"
)

const capacityPlaces = 3

// orderedSet keeps distinct non-empty strings in first-seen order.
type orderedSet struct {
	items []string
	seen  map[string]struct{}
}

func (s *orderedSet) Put(v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}

func (s *orderedSet) Items() []string {
	if s.items == nil {
		return []string{}
	}
	return s.items
}

// LocationGroupAccumulator folds the components of one location into a LocationGroup.
// Components must be added in ascending id order for the ordered fan-outs to be stable.
type LocationGroupAccumulator struct {
	Location string

	count        int
	withCapacity int
	capacity     decimal.Decimal
	companies    map[string]int
	technologies map[string]int
	descriptions orderedSet
	auctionYears orderedSet
	cmuIDs       orderedSet
	seen         map[int64]struct{}

	representative *domain.Component
	county         string
	outwardCode    string
}

func NewLocationGroupAccumulator(location string) *LocationGroupAccumulator {
	return &LocationGroupAccumulator{
		Location:     location,
		companies:    make(map[string]int),
		technologies: make(map[string]int),
		seen:         make(map[int64]struct{}),
	}
}

func (a *LocationGroupAccumulator) Len() int {
	return a.count
}

// Add folds c into the group. A component seen before is ignored.
func (a *LocationGroupAccumulator) Add(c *domain.Component) error {
	if c == nil {
		return fmt.Errorf("nil component")
	}
	if c.Location != a.Location {
		return fmt.Errorf("component %d: location %q does not belong to %q", c.ID, c.Location, a.Location)
	}
	if !domain.IsValidLocation(c.Location) {
		return fmt.Errorf("component %d: invalid location %q", c.ID, c.Location)
	}
	if c.DeratedCapacityMW != nil && *c.DeratedCapacityMW < 0 {
		return fmt.Errorf("component %d: negative capacity %v", c.ID, *c.DeratedCapacityMW)
	}
	if _, ok := a.seen[c.ID]; ok {
		return nil
	}
	a.seen[c.ID] = struct{}{}

	a.count++
	if c.DeratedCapacityMW != nil {
		a.withCapacity++
		a.capacity = a.capacity.Add(decimal.NewFromFloat(*c.DeratedCapacityMW))
	}

	a.companies[nameOrUnknown(c.CompanyName)]++
	a.technologies[nameOrUnknown(c.Technology)]++
	a.descriptions.Put(c.Description)
	a.cmuIDs.Put(c.CMUID)
	if c.AuctionName != "" {
		a.auctionYears.Put(c.AuctionName)
	} else {
		a.auctionYears.Put(c.DeliveryYear)
	}

	if a.county == "" {
		a.county = strings.TrimSpace(c.County)
	}
	if a.outwardCode == "" {
		a.outwardCode = strings.ToUpper(strings.TrimSpace(c.OutwardCode))
	}
	if a.representative == nil || betterRepresentative(c, a.representative) {
		a.representative = c
	}
	return nil
}

func nameOrUnknown(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.UnknownName
	}
	return name
}

// betterRepresentative orders by (has coordinates desc, capacity desc, id asc).
func betterRepresentative(c, cur *domain.Component) bool {
	if c.HasCoordinates() != cur.HasCoordinates() {
		return c.HasCoordinates()
	}
	if c.Capacity() != cur.Capacity() {
		return c.Capacity() > cur.Capacity()
	}
	return c.ID < cur.ID
}

func (a *LocationGroupAccumulator) confidence() domain.CapacityConfidence {
	switch {
	case a.withCapacity == 0:
		return domain.ConfidenceNone
	case a.withCapacity == a.count:
		return domain.ConfidenceHigh
	case a.withCapacity*2 >= a.count:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

// Build returns the aggregate. It fails when no component was added.
func (a *LocationGroupAccumulator) Build() (*domain.LocationGroup, error) {
	if a.count == 0 {
		return nil, fmt.Errorf("location %q has no valid components", a.Location)
	}

	auctionYears := a.auctionYears.Items()
	lg := &domain.LocationGroup{
		Location:             a.Location,
		County:               a.county,
		OutwardCode:          a.outwardCode,
		ComponentCount:       a.count,
		NormalizedCapacityMW: a.capacity.Round(capacityPlaces).InexactFloat64(),
		CapacityConfidence:   a.confidence(),
		Companies:            a.companies,
		Technologies:         a.technologies,
		Descriptions:         a.descriptions.Items(),
		AuctionYears:         auctionYears,
		CMUIDs:               a.cmuIDs.Items(),
		IsActive:             domain.IsActiveAuctionYears(auctionYears),
	}
	if lg.OutwardCode == "" {
		lg.OutwardCode = domain.OutwardCode(a.Location)
	}
	if rep := a.representative; rep != nil {
		id := rep.ID
		lg.RepresentativeComponentID = &id
		lg.Latitude = rep.Latitude
		lg.Longitude = rep.Longitude
		if rep.County != "" {
			lg.County = rep.County
		}
	}
	return lg, lg.Validate()
}

// Aggregate folds the components of one location. Components that fail to fold are
// returned as errors and left out; the group is built from the rest.
func Aggregate(location string, components []*domain.Component) (*domain.LocationGroup, []error) {
	var errs []error
	sorted := make([]*domain.Component, 0, len(components))
	for _, c := range components {
		if c == nil {
			errs = append(errs, fmt.Errorf("location %q: nil component", location))
			continue
		}
		sorted = append(sorted, c)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	acc := NewLocationGroupAccumulator(location)
	for _, c := range sorted {
		if err := acc.Add(c); err != nil {
			errs = append(errs, err)
		}
	}

	lg, err := acc.Build()
	if err != nil {
		return nil, append(errs, err)
	}
	return lg, errs
}
