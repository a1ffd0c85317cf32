package dto

import (
	"github.com/ougirez/cmregistry/internal/domain"
)

// LocationGroupView is a projected LocationGroup. Columns outside the
// requested projection are left zero and dropped from JSON.
type LocationGroupView struct {
	ID                   int64          `db:"id" json:"id"`
	Location             string         `db:"location" json:"location"`
	County               string         `db:"county" json:"county,omitempty"`
	OutwardCode          string         `db:"outward_code" json:"outward_code,omitempty"`
	Latitude             *float64       `db:"latitude" json:"latitude,omitempty"`
	Longitude            *float64       `db:"longitude" json:"longitude,omitempty"`
	ComponentCount       int            `db:"component_count" json:"component_count"`
	NormalizedCapacityMW float64        `db:"normalized_capacity_mw" json:"normalized_capacity_mw"`
	CapacityConfidence   string         `db:"capacity_confidence" json:"capacity_confidence,omitempty"`
	IsActive             *bool          `db:"is_active" json:"is_active,omitempty"`
	PrimaryTechnology    string         `db:"primary_technology" json:"primary_technology,omitempty"`
	PrimaryCompany       string         `db:"primary_company" json:"primary_company,omitempty"`
	Companies            map[string]int `db:"companies" json:"companies,omitempty"`
	Technologies         map[string]int `db:"technologies" json:"technologies,omitempty"`
	Descriptions         []string       `db:"descriptions" json:"descriptions,omitempty"`
	AuctionYears         []string       `db:"auction_years" json:"auction_years,omitempty"`
	CMUIDs               []string       `db:"cmu_ids" json:"cmu_ids,omitempty"`
	Relevance            float64        `db:"relevance" json:"-"`
}

type Page[T any] struct {
	Items   []T `json:"items"`
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Pages   int `json:"pages"`
}

func NewPage[T any](items []T, total, page, perPage int) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if perPage > 0 {
		pages = (total + perPage - 1) / perPage
	}
	return Page[T]{Items: items, Total: total, Page: page, PerPage: perPage, Pages: pages}
}

// DropdownMetadata lists filter options for the current scope.
type DropdownMetadata struct {
	Technologies []string `json:"technologies"`
	AuctionYears []string `json:"auction_years"`
	Companies    []string `json:"companies"`
	Exact        bool     `json:"exact"`
}

type TechnologyStat struct {
	Technology      string  `db:"technology" json:"technology"`
	Locations       int     `db:"locations" json:"locations"`
	ActiveLocations int     `db:"active_locations" json:"active_locations"`
	Components      int     `db:"components" json:"components"`
	CapacityMW      float64 `db:"capacity_mw" json:"capacity_mw"`
}

// Company is one entry of the company slug index.
type Company struct {
	Name      string `db:"name" json:"name"`
	Slug      string `json:"slug"`
	Locations int    `db:"locations" json:"locations"`
}

// MapCluster is one cell of the clustered map grid. Count is 1 for an individual marker.
type MapCluster struct {
	Latitude          float64 `db:"latitude" json:"latitude"`
	Longitude         float64 `db:"longitude" json:"longitude"`
	Count             int     `db:"count" json:"count"`
	Components        int     `db:"components" json:"components"`
	CapacityMW        float64 `db:"capacity_mw" json:"capacity_mw"`
	ID                *int64  `db:"id" json:"id,omitempty"`
	Location          string  `db:"location" json:"location,omitempty"`
	PrimaryTechnology string  `db:"primary_technology" json:"primary_technology,omitempty"`
}

// GeoJSON FeatureCollection as returned by the map endpoints.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
	Total    int       `json:"total,omitempty"`
}

type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type Geometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

func NewFeatureCollection(features []Feature) FeatureCollection {
	if features == nil {
		features = []Feature{}
	}
	return FeatureCollection{Type: "FeatureCollection", Features: features}
}

func point(lat, lon float64) Geometry {
	return Geometry{Type: "Point", Coordinates: [2]float64{lon, lat}}
}

// GeoJSONFeatures converts map-projected views to features. Views without coordinates are skipped.
func GeoJSONFeatures(views []LocationGroupView) []Feature {
	features := make([]Feature, 0, len(views))
	for _, v := range views {
		if v.Latitude == nil || v.Longitude == nil {
			continue
		}
		features = append(features, Feature{
			Type:     "Feature",
			Geometry: point(*v.Latitude, *v.Longitude),
			Properties: map[string]any{
				"id":                     v.ID,
				"location":               v.Location,
				"component_count":        v.ComponentCount,
				"normalized_capacity_mw": v.NormalizedCapacityMW,
				"primary_technology":     v.PrimaryTechnology,
				"primary_company":        v.PrimaryCompany,
			},
		})
	}
	return features
}

func ClusterFeatures(clusters []MapCluster) []Feature {
	features := make([]Feature, 0, len(clusters))
	for _, c := range clusters {
		props := map[string]any{
			"count":       c.Count,
			"components":  c.Components,
			"capacity_mw": c.CapacityMW,
			"cluster":     c.Count > 1,
		}
		if c.ID != nil {
			props["id"] = *c.ID
			props["location"] = c.Location
			props["primary_technology"] = c.PrimaryTechnology
		}
		features = append(features, Feature{Type: "Feature", Geometry: point(c.Latitude, c.Longitude), Properties: props})
	}
	return features
}

// ViewFromGroup projects a full LocationGroup, used where the aggregate is already in memory.
func ViewFromGroup(lg *domain.LocationGroup) LocationGroupView {
	active := lg.IsActive
	return LocationGroupView{
		ID:                   lg.ID,
		Location:             lg.Location,
		County:               lg.County,
		OutwardCode:          lg.OutwardCode,
		Latitude:             lg.Latitude,
		Longitude:            lg.Longitude,
		ComponentCount:       lg.ComponentCount,
		NormalizedCapacityMW: lg.NormalizedCapacityMW,
		CapacityConfidence:   string(lg.CapacityConfidence),
		IsActive:             &active,
		PrimaryTechnology:    domain.PrimaryTechnology(lg.Technologies),
		PrimaryCompany:       domain.PrimaryCompany(lg.Companies),
		Companies:            lg.Companies,
		Technologies:         lg.Technologies,
		Descriptions:         lg.Descriptions,
		AuctionYears:         lg.AuctionYears,
		CMUIDs:               lg.CMUIDs,
	}
}
