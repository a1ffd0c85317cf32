package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/domain/dto"
	"github.com/ougirez/cmregistry/internal/pkg/cache"
	"github.com/ougirez/cmregistry/internal/pkg/constants"
	"github.com/ougirez/cmregistry/internal/pkg/egress"
	"github.com/ougirez/cmregistry/internal/pkg/logger"
	"github.com/ougirez/cmregistry/internal/pkg/store"
)

type Store interface {
	store.SearchStore
	LatestBuildVersion(ctx context.Context) (int64, error)
}

type Readiness interface {
	ShouldUseAggregate(ctx context.Context) bool
}

type Service struct {
	store      Store
	gate       Readiness
	cache      *cache.Governor
	aggregate  Backend
	components Backend
}

func NewSearchService(s Store, gate Readiness, governor *cache.Governor) *Service {
	return &Service{
		store:      s,
		gate:       gate,
		cache:      governor,
		aggregate:  NewAggregateBackend(s),
		components: NewComponentBackend(s),
	}
}

func (s *Service) backend(ctx context.Context) Backend {
	egress.RecordAPICall(ctx)
	if s.gate.ShouldUseAggregate(ctx) {
		return s.aggregate
	}
	return s.components
}

// version is the id of the last finished rebuild; cache keys embed it so a rebuild
// retires every derived entry even in processes that did not run it.
func (s *Service) version(ctx context.Context) int64 {
	v, err := cache.Fetch(ctx, s.cache, cache.NamespaceStatistics, constants.CacheKeyBuildVersion, 0,
		func(ctx context.Context) (int64, error) {
			return s.store.LatestBuildVersion(ctx)
		})
	if err != nil {
		logger.Warnf(ctx, "build version: %v", err)
		return 0
	}
	return v
}

func filtersKey(f domain.Filters) string {
	return strings.Join([]string{
		"q=" + strings.ToLower(f.Query),
		"status=" + string(f.Status),
		"auction=" + f.Auction,
		"technology=" + f.Technology,
		"company=" + f.Company,
	}, "&")
}

func (s *Service) cacheKey(ctx context.Context, kind string, b Backend, parts ...string) string {
	head := []string{kind, b.Source().String(), "v" + strconv.FormatInt(s.version(ctx), 10)}
	return strings.Join(append(head, parts...), "|")
}

func paramsKey(p Params) string {
	return fmt.Sprintf("%s|sort=%s|desc=%t|page=%d|per_page=%d", filtersKey(p.Filters), p.Sort, p.Desc, p.Page, p.PerPage)
}

// Search returns one page of location groups matching p.
func (s *Service) Search(ctx context.Context, p Params) (*dto.Page[dto.LocationGroupView], error) {
	return s.list(ctx, "search", p, domain.ListFields)
}

func (s *Service) list(ctx context.Context, kind string, p Params, fields []domain.Field) (*dto.Page[dto.LocationGroupView], error) {
	b := s.backend(ctx)
	opts := store.ListLocationGroupsOpts{
		Filters: p.Filters,
		Fields:  fields,
		Sort:    p.Sort,
		Desc:    p.Desc,
		Limit:   uint64(p.PerPage),
		Offset:  p.Offset(),
	}

	res, err := cache.Fetch(ctx, s.cache, cache.NamespaceSearch, s.cacheKey(ctx, kind, b, paramsKey(p)), 0,
		func(ctx context.Context) (dto.Page[dto.LocationGroupView], error) {
			items, total, err := b.Page(ctx, opts)
			if err != nil {
				return dto.Page[dto.LocationGroupView]{}, err
			}
			return dto.NewPage(items, total, p.Page, p.PerPage), nil
		})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	return &res, nil
}

type CompanyPage struct {
	Company dto.Company
	Page    *dto.Page[dto.LocationGroupView]
}

// CompanyDetail lists the locations of the company the slug resolves to.
func (s *Service) CompanyDetail(ctx context.Context, slug string, p Params) (*CompanyPage, error) {
	company, err := s.ResolveCompany(ctx, slug)
	if err != nil {
		return nil, err
	}
	p.Filters.Company = company.Name

	res, err := s.list(ctx, "company", p, domain.ListFields)
	if err != nil {
		return nil, err
	}
	return &CompanyPage{Company: company, Page: res}, nil
}

type TechnologyPage struct {
	Technology string
	Page       *dto.Page[dto.LocationGroupView]
}

// TechnologyDetail lists locations hosting technology. The name is matched
// case-insensitively against the known technologies.
func (s *Service) TechnologyDetail(ctx context.Context, technology string, p Params) (*TechnologyPage, error) {
	name, err := s.ResolveTechnology(ctx, technology)
	if err != nil {
		return nil, err
	}
	p.Filters.Technology = name

	res, err := s.list(ctx, "technology", p, domain.ListFields)
	if err != nil {
		return nil, err
	}
	return &TechnologyPage{Technology: name, Page: res}, nil
}

func (s *Service) ResolveTechnology(ctx context.Context, technology string) (string, error) {
	meta, err := s.DropdownMetadata(ctx, domain.Filters{}, true)
	if err != nil {
		return "", err
	}
	for _, t := range meta.Technologies {
		if strings.EqualFold(t, technology) {
			return t, nil
		}
	}
	return "", constants.NotFoundf("technology %q", technology)
}

// MapRegion returns map-projected groups with coordinates, largest first.
func (s *Service) MapRegion(ctx context.Context, filters domain.Filters, bbox *domain.BBox, limit int) ([]dto.LocationGroupView, error) {
	b := s.backend(ctx)
	opts := store.ListLocationGroupsOpts{
		Filters:         filters,
		Fields:          domain.MapFields,
		Sort:            domain.SortCapacity,
		Desc:            true,
		BBox:            bbox,
		WithCoordinates: true,
		Limit:           uint64(limit),
	}

	key := s.cacheKey(ctx, "region", b, filtersKey(filters), bboxKey(bbox), "limit="+strconv.Itoa(limit))
	views, err := cache.Fetch(ctx, s.cache, cache.NamespaceMapData, key, 0,
		func(ctx context.Context) ([]dto.LocationGroupView, error) {
			return b.List(ctx, opts)
		})
	if err != nil {
		return nil, fmt.Errorf("map region: %w", err)
	}
	return views, nil
}

// GeoJSON serves /api/search-geojson.
func (s *Service) GeoJSON(ctx context.Context, p GeoJSONParams) (dto.FeatureCollection, error) {
	views, err := s.MapRegion(ctx, p.Filters, nil, p.Limit)
	if err != nil {
		return dto.FeatureCollection{}, err
	}
	fc := dto.NewFeatureCollection(dto.GeoJSONFeatures(views))
	fc.Total = len(fc.Features)
	return fc, nil
}

// MapData serves /api/map-data: grid clusters below marker zoom, individual markers above.
func (s *Service) MapData(ctx context.Context, p MapDataParams) (dto.FeatureCollection, error) {
	grid := GridFor(p.Zoom)
	if grid == 0 {
		views, err := s.MapRegion(ctx, p.Filters, p.BBox, maxMarkers)
		if err != nil {
			return dto.FeatureCollection{}, err
		}
		fc := dto.NewFeatureCollection(dto.GeoJSONFeatures(views))
		fc.Total = len(fc.Features)
		return fc, nil
	}

	b := s.backend(ctx)
	opts := store.MapClustersOpts{Filters: p.Filters, BBox: p.BBox, Grid: grid, Limit: maxMarkers}
	key := s.cacheKey(ctx, "clusters", b, filtersKey(p.Filters), bboxKey(p.BBox), "grid="+strconv.FormatFloat(grid, 'f', -1, 64))

	clusters, err := cache.Fetch(ctx, s.cache, cache.NamespaceMapData, key, 0,
		func(ctx context.Context) ([]dto.MapCluster, error) {
			return b.Clusters(ctx, opts)
		})
	if err != nil {
		return dto.FeatureCollection{}, fmt.Errorf("map clusters: %w", err)
	}

	fc := dto.NewFeatureCollection(dto.ClusterFeatures(clusters))
	for _, c := range clusters {
		fc.Total += c.Count
	}
	return fc, nil
}

func bboxKey(b *domain.BBox) string {
	if b == nil {
		return "bbox="
	}
	return fmt.Sprintf("bbox=%.4f,%.4f,%.4f,%.4f", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}
