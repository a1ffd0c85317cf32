package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Status string

const (
	StatusAny      Status = ""
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

type SortKey string

const (
	SortRelevance      SortKey = "relevance"
	SortCapacity       SortKey = "capacity"
	SortComponentCount SortKey = "component_count"
	SortLocation       SortKey = "location"
)

// Filters is the user-facing filter set shared by every read path. Empty values mean "no filter".
type Filters struct {
	Query      string `json:"q,omitempty"`
	Status     Status `json:"status,omitempty"`
	Auction    string `json:"auction,omitempty"`
	Technology string `json:"technology,omitempty"`
	Company    string `json:"company,omitempty"`
}

func (f Filters) IsEmpty() bool {
	return f == Filters{}
}

// Facet is a dropdown whose options come from the metadata sampler.
type Facet string

const (
	FacetTechnology Facet = "technology"
	FacetAuction    Facet = "auction"
	FacetCompany    Facet = "company"
)

// Without returns the filters with facet cleared, so a dropdown lists the
// options available under every other filter.
func (f Filters) Without(facet Facet) Filters {
	switch facet {
	case FacetTechnology:
		f.Technology = ""
	case FacetAuction:
		f.Auction = ""
	case FacetCompany:
		f.Company = ""
	}
	return f
}

// Field is a projected LocationGroup column.
type Field string

const (
	FieldID                 Field = "id"
	FieldLocation           Field = "location"
	FieldCounty             Field = "county"
	FieldOutwardCode        Field = "outward_code"
	FieldLatitude           Field = "latitude"
	FieldLongitude          Field = "longitude"
	FieldComponentCount     Field = "component_count"
	FieldCapacity           Field = "normalized_capacity_mw"
	FieldCapacityConfidence Field = "capacity_confidence"
	FieldIsActive           Field = "is_active"
	FieldPrimaryTechnology  Field = "primary_technology"
	FieldPrimaryCompany     Field = "primary_company"
	FieldCompanies          Field = "companies"
	FieldTechnologies       Field = "technologies"
	FieldDescriptions       Field = "descriptions"
	FieldAuctionYears       Field = "auction_years"
	FieldCMUIDs             Field = "cmu_ids"
)

// ListFields is what list and detail pages render.
var ListFields = []Field{
	FieldID, FieldLocation, FieldCounty, FieldOutwardCode, FieldComponentCount, FieldCapacity,
	FieldCapacityConfidence, FieldIsActive, FieldPrimaryTechnology, FieldPrimaryCompany,
	FieldCompanies, FieldTechnologies, FieldDescriptions, FieldAuctionYears, FieldCMUIDs,
}

// MapFields is what map endpoints render. The long fan-outs are never sent to a map.
var MapFields = []Field{
	FieldID, FieldLocation, FieldLatitude, FieldLongitude, FieldComponentCount,
	FieldCapacity, FieldPrimaryTechnology, FieldPrimaryCompany,
}

// BBox is a map viewport in degrees.
type BBox struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

// ParseBBox parses "minLon,minLat,maxLon,maxLat".
func ParseBBox(s string) (*BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox must have 4 comma separated numbers, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("bbox value %q is not a number", p)
		}
		v[i] = f
	}
	b := &BBox{MinLon: v[0], MinLat: v[1], MaxLon: v[2], MaxLat: v[3]}
	if b.MinLon > b.MaxLon || b.MinLat > b.MaxLat {
		return nil, fmt.Errorf("bbox minimum exceeds maximum")
	}
	if b.MinLat < -90 || b.MaxLat > 90 || b.MinLon < -180 || b.MaxLon > 180 {
		return nil, fmt.Errorf("bbox out of range")
	}
	return b, nil
}
