package search

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/pkg/constants"
)

const (
	DefaultListPerPage = 50
	DefaultMapPerPage  = 25
	MaxPerPage         = 100

	DefaultGeoJSONLimit = 100
	MaxGeoJSONLimit     = 100

	// markerZoom is the first zoom level that shows individual markers instead of clusters.
	markerZoom   = 8
	maxMarkers   = 500
	defaultZoom  = 6
	maxQueryRune = 200

	// maxPage keeps (page-1)*per_page within int for every allowed per_page.
	maxPage = math.MaxInt/MaxPerPage + 1
)

// Params is a validated list request.
type Params struct {
	Filters domain.Filters
	Sort    domain.SortKey
	Desc    bool
	Page    int
	PerPage int
}

func (p Params) Offset() uint64 {
	return uint64((p.Page - 1) * p.PerPage)
}

var listKeys = []string{"q", "status", "auction", "technology", "company", "sort", "order", "page", "per_page"}

type ParseOpts struct {
	DefaultPerPage int
	// Extra are additional query keys the caller handles itself, e.g. "format".
	Extra []string
}

// ParseParams validates list query parameters. Unknown keys and out of range values
// are rejected with a BadRequest error.
func ParseParams(values url.Values, opts ParseOpts) (Params, error) {
	if opts.DefaultPerPage == 0 {
		opts.DefaultPerPage = DefaultListPerPage
	}
	if err := rejectUnknown(values, append(listKeys, opts.Extra...)); err != nil {
		return Params{}, err
	}

	filters, err := parseFilters(values, "technology")
	if err != nil {
		return Params{}, err
	}
	p := Params{Filters: filters, Page: 1, PerPage: opts.DefaultPerPage}

	if raw := values.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 || page > maxPage {
			return Params{}, constants.BadRequestf("page must be between 1 and %d, got %q", maxPage, raw)
		}
		p.Page = page
	}
	if raw := values.Get("per_page"); raw != "" {
		perPage, err := strconv.Atoi(raw)
		if err != nil || perPage < 1 || perPage > MaxPerPage {
			return Params{}, constants.BadRequestf("per_page must be between 1 and %d, got %q", MaxPerPage, raw)
		}
		p.PerPage = perPage
	}

	p.Sort, p.Desc, err = parseSort(values.Get("sort"), values.Get("order"), p.Filters.Query != "")
	if err != nil {
		return Params{}, err
	}
	return p, nil
}

func rejectUnknown(values url.Values, allowed []string) error {
	for key := range values {
		known := false
		for _, a := range allowed {
			if key == a {
				known = true
				break
			}
		}
		if !known {
			return constants.BadRequestf("unknown parameter %q", key)
		}
	}
	return nil
}

func parseFilters(values url.Values, technologyKey string) (domain.Filters, error) {
	f := domain.Filters{
		Query:      strings.TrimSpace(values.Get("q")),
		Auction:    strings.TrimSpace(values.Get("auction")),
		Technology: strings.TrimSpace(values.Get(technologyKey)),
		Company:    strings.TrimSpace(values.Get("company")),
	}
	if len([]rune(f.Query)) > maxQueryRune {
		return domain.Filters{}, constants.BadRequestf("q is longer than %d characters", maxQueryRune)
	}

	switch status := domain.Status(strings.TrimSpace(values.Get("status"))); status {
	case domain.StatusAny, domain.StatusActive, domain.StatusInactive:
		f.Status = status
	default:
		return domain.Filters{}, constants.BadRequestf("unknown status %q", status)
	}
	return f, nil
}

// parseSort applies the defaults: relevance when there is a query, location otherwise.
// Numeric keys and relevance sort descending unless order says otherwise.
func parseSort(rawSort, rawOrder string, hasQuery bool) (domain.SortKey, bool, error) {
	key := domain.SortKey(rawSort)
	switch key {
	case "":
		key = domain.SortLocation
		if hasQuery {
			key = domain.SortRelevance
		}
	case domain.SortRelevance:
		if !hasQuery {
			return "", false, constants.BadRequestf("sort=relevance requires q")
		}
	case domain.SortCapacity, domain.SortComponentCount, domain.SortLocation:
	default:
		return "", false, constants.BadRequestf("unknown sort %q", rawSort)
	}

	desc := key != domain.SortLocation
	switch rawOrder {
	case "":
	case "asc":
		desc = false
	case "desc":
		desc = true
	default:
		return "", false, constants.BadRequestf("order must be asc or desc, got %q", rawOrder)
	}
	return key, desc, nil
}

// GeoJSONParams is a validated /api/search-geojson request.
type GeoJSONParams struct {
	Filters domain.Filters
	Limit   int
}

var geoJSONKeys = []string{"tech", "q", "limit", "status", "company", "auction"}

// ParseGeoJSONParams reads tech, q and limit. limit defaults to 100 and is clamped to [1, 100].
func ParseGeoJSONParams(values url.Values) (GeoJSONParams, error) {
	if err := rejectUnknown(values, geoJSONKeys); err != nil {
		return GeoJSONParams{}, err
	}
	filters, err := parseFilters(values, "tech")
	if err != nil {
		return GeoJSONParams{}, err
	}

	p := GeoJSONParams{Filters: filters, Limit: DefaultGeoJSONLimit}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return GeoJSONParams{}, constants.BadRequestf("limit must be an integer, got %q", raw)
		}
		p.Limit = min(max(limit, 1), MaxGeoJSONLimit)
	}
	return p, nil
}

// MapDataParams is a validated /api/map-data request.
type MapDataParams struct {
	Filters domain.Filters
	BBox    *domain.BBox
	Zoom    int
}

var mapDataKeys = []string{"technology", "bbox", "zoom", "q", "status", "company", "auction"}

func ParseMapDataParams(values url.Values) (MapDataParams, error) {
	if err := rejectUnknown(values, mapDataKeys); err != nil {
		return MapDataParams{}, err
	}
	filters, err := parseFilters(values, "technology")
	if err != nil {
		return MapDataParams{}, err
	}

	p := MapDataParams{Filters: filters, Zoom: defaultZoom}
	if raw := values.Get("bbox"); raw != "" {
		if p.BBox, err = domain.ParseBBox(raw); err != nil {
			return MapDataParams{}, constants.BadRequestf("%v", err)
		}
	}
	if raw := values.Get("zoom"); raw != "" {
		zoom, err := strconv.Atoi(raw)
		if err != nil || zoom < 0 || zoom > 22 {
			return MapDataParams{}, constants.BadRequestf("zoom must be between 0 and 22, got %q", raw)
		}
		p.Zoom = zoom
	}
	return p, nil
}

// GridFor returns the cluster cell size in degrees for zoom, or 0 for individual markers.
func GridFor(zoom int) float64 {
	switch {
	case zoom < 6:
		return 0.5
	case zoom < markerZoom:
		return 0.1
	default:
		return 0
	}
}
