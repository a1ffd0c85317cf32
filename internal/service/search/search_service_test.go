package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/domain/dto"
	"github.com/ougirez/cmregistry/internal/pkg/cache"
	"github.com/ougirez/cmregistry/internal/pkg/constants"
	"github.com/ougirez/cmregistry/internal/pkg/store"
)

type fakeStore struct {
	mu sync.Mutex

	views     []dto.LocationGroupView
	total     int
	clusters  []dto.MapCluster
	facets    dto.DropdownMetadata
	companies []dto.Company
	stats     []dto.TechnologyStat
	err       error

	listOpts    []store.ListLocationGroupsOpts
	clusterOpts []store.MapClustersOpts
	facetOpts   []store.FacetOpts
	calls       map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{calls: map[string]int{}}
}

func (f *fakeStore) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeStore) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeStore) ListLocationGroups(_ context.Context, opts store.ListLocationGroupsOpts) ([]dto.LocationGroupView, error) {
	f.record("list")
	f.mu.Lock()
	f.listOpts = append(f.listOpts, opts)
	f.mu.Unlock()
	return f.views, f.err
}

func (f *fakeStore) CountLocationGroups(context.Context, store.ListLocationGroupsOpts) (int, error) {
	f.record("count")
	return f.total, f.err
}

func (f *fakeStore) ListMapClusters(_ context.Context, opts store.MapClustersOpts) ([]dto.MapCluster, error) {
	f.record("clusters")
	f.clusterOpts = append(f.clusterOpts, opts)
	return f.clusters, f.err
}

func (f *fakeStore) FacetValues(_ context.Context, opts store.FacetOpts) (*dto.DropdownMetadata, error) {
	f.record("facets")
	f.facetOpts = append(f.facetOpts, opts)
	m := f.facets
	m.Exact = opts.SampleSize == 0
	return &m, f.err
}

func (f *fakeStore) TechnologyStats(context.Context) ([]dto.TechnologyStat, error) {
	f.record("stats")
	return f.stats, f.err
}

func (f *fakeStore) ListCompanies(context.Context, store.Source) ([]dto.Company, error) {
	f.record("companies")
	return append([]dto.Company(nil), f.companies...), f.err
}

func (f *fakeStore) LatestBuildVersion(context.Context) (int64, error) {
	f.record("version")
	return 7, nil
}

type fakeGate struct{ ready bool }

func (g *fakeGate) ShouldUseAggregate(context.Context) bool { return g.ready }

func newService(t *testing.T, ready bool) (*Service, *fakeStore, *cache.MemoryBackend) {
	t.Helper()
	now := func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	backend := cache.NewMemoryBackend(1<<20, now)
	governor := cache.NewGovernor(backend, cache.Options{Now: now})
	fs := newFakeStore()
	return NewSearchService(fs, &fakeGate{ready: ready}, governor), fs, backend
}

func float(v float64) *float64 { return &v }

func TestSearchPushesFiltersDown(t *testing.T) {
	svc, fs, _ := newService(t, true)
	fs.views = []dto.LocationGroupView{{ID: 1, Location: "Mill Lane Battery"}}
	fs.total = 2244

	p := Params{
		Filters: domain.Filters{Query: "battery", Status: domain.StatusActive},
		Sort:    domain.SortRelevance,
		Desc:    true,
		Page:    3,
		PerPage: 25,
	}
	res, err := svc.Search(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, 2244, res.Total)
	assert.Equal(t, 90, res.Pages)
	assert.Equal(t, 3, res.Page)
	require.Len(t, fs.listOpts, 1)
	opts := fs.listOpts[0]
	assert.Equal(t, store.SourceAggregate, opts.Source)
	assert.Equal(t, p.Filters, opts.Filters)
	assert.EqualValues(t, 25, opts.Limit)
	assert.EqualValues(t, 50, opts.Offset)
	assert.Equal(t, domain.ListFields, opts.Fields)
}

func TestSearchUsesComponentsUntilReady(t *testing.T) {
	svc, fs, _ := newService(t, false)

	_, err := svc.Search(context.Background(), Params{Page: 1, PerPage: 50, Sort: domain.SortLocation})
	require.NoError(t, err)
	require.Len(t, fs.listOpts, 1)
	assert.Equal(t, store.SourceComponents, fs.listOpts[0].Source)
}

func TestSearchIsCached(t *testing.T) {
	svc, fs, backend := newService(t, true)
	ctx := context.Background()
	p := Params{Filters: domain.Filters{Technology: "Battery"}, Page: 1, PerPage: 50, Sort: domain.SortLocation}

	_, err := svc.Search(ctx, p)
	require.NoError(t, err)
	_, err = svc.Search(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 1, fs.count("list"))
	assert.Equal(t, 1, fs.count("count"))

	keys, err := backend.Keys(ctx, "search:*")
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	p.Page = 2
	_, err = svc.Search(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 2, fs.count("list"))
}

func TestSearchSurfacesUpstream(t *testing.T) {
	svc, fs, _ := newService(t, true)
	fs.err = constants.Upstreamf(context.DeadlineExceeded, "database")

	_, err := svc.Search(context.Background(), Params{Page: 1, PerPage: 50})
	assert.ErrorIs(t, err, constants.ErrUpstream)
}

func TestCompanyDetail(t *testing.T) {
	svc, fs, _ := newService(t, true)
	fs.companies = []dto.Company{
		{Name: "Zenobe Energy", Locations: 4},
		{Name: "GridBeyond Limited", Locations: 323},
	}
	ctx := context.Background()

	res, err := svc.CompanyDetail(ctx, "gridbeyondlimited", Params{
		Filters: domain.Filters{Status: domain.StatusInactive},
		Page:    1,
		PerPage: 50,
		Sort:    domain.SortLocation,
	})
	require.NoError(t, err)
	assert.Equal(t, "GridBeyond Limited", res.Company.Name)
	require.Len(t, fs.listOpts, 1)
	assert.Equal(t, "GridBeyond Limited", fs.listOpts[0].Filters.Company)
	assert.Equal(t, domain.StatusInactive, fs.listOpts[0].Filters.Status)

	_, err = svc.CompanyDetail(ctx, "nobody", Params{Page: 1, PerPage: 50})
	assert.ErrorIs(t, err, constants.ErrNotFound)
	assert.Equal(t, 1, fs.count("companies"), "company index is cached")
}

func TestBuildCompanyIndex(t *testing.T) {
	index := buildCompanyIndex([]dto.Company{
		{Name: "Kiwi Power Ltd."},
		{Name: "Kiwi Power Ltd"},
		{Name: "--"},
		{Name: "Drax"},
	})
	require.Len(t, index, 2)
	assert.Equal(t, "drax", index[0].Slug)
	assert.Equal(t, "Kiwi Power Ltd", index[1].Name)
	assert.Equal(t, "kiwipowerltd", index[1].Slug)
}

func TestTechnologyDetail(t *testing.T) {
	svc, fs, _ := newService(t, true)
	fs.facets = dto.DropdownMetadata{Technologies: []string{"Battery", "Gas"}}
	ctx := context.Background()

	res, err := svc.TechnologyDetail(ctx, "battery", Params{Page: 1, PerPage: 50, Sort: domain.SortLocation})
	require.NoError(t, err)
	assert.Equal(t, "Battery", res.Technology)
	assert.Equal(t, "Battery", fs.listOpts[0].Filters.Technology)
	assert.EqualValues(t, 0, fs.facetOpts[0].SampleSize, "technology lookup uses exact options")

	_, err = svc.TechnologyDetail(ctx, "fusion", Params{Page: 1, PerPage: 50})
	assert.ErrorIs(t, err, constants.ErrNotFound)
}

func TestGeoJSON(t *testing.T) {
	svc, fs, _ := newService(t, true)
	fs.views = []dto.LocationGroupView{
		{ID: 1, Location: "A", Latitude: float(51.5), Longitude: float(-0.1), PrimaryTechnology: "Battery"},
		{ID: 2, Location: "B"},
	}

	fc, err := svc.GeoJSON(context.Background(), GeoJSONParams{Filters: domain.Filters{Technology: "Battery"}, Limit: 50})
	require.NoError(t, err)

	require.Len(t, fc.Features, 1)
	assert.Equal(t, "FeatureCollection", fc.Type)
	assert.Equal(t, [2]float64{-0.1, 51.5}, fc.Features[0].Geometry.Coordinates)
	assert.NotContains(t, fc.Features[0].Properties, "descriptions")

	opts := fs.listOpts[0]
	assert.Equal(t, domain.MapFields, opts.Fields)
	assert.True(t, opts.WithCoordinates)
	assert.EqualValues(t, 50, opts.Limit)
}

func TestMapDataZoomLevels(t *testing.T) {
	svc, fs, _ := newService(t, true)
	fs.clusters = []dto.MapCluster{{Latitude: 52, Longitude: -1, Count: 3}, {Latitude: 51, Longitude: 0, Count: 1}}
	ctx := context.Background()

	fc, err := svc.MapData(ctx, MapDataParams{Zoom: 5})
	require.NoError(t, err)
	assert.Equal(t, 4, fc.Total)
	assert.Equal(t, 0.5, fs.clusterOpts[0].Grid)

	_, err = svc.MapData(ctx, MapDataParams{Zoom: 7})
	require.NoError(t, err)
	assert.Equal(t, 0.1, fs.clusterOpts[1].Grid)

	_, err = svc.MapData(ctx, MapDataParams{Zoom: 9})
	require.NoError(t, err)
	assert.Len(t, fs.clusterOpts, 2)
	require.Len(t, fs.listOpts, 1)
	assert.EqualValues(t, maxMarkers, fs.listOpts[0].Limit)
}

func TestDropdownMetadataSamples(t *testing.T) {
	svc, fs, _ := newService(t, true)
	fs.facets = dto.DropdownMetadata{Technologies: []string{"Battery"}, AuctionYears: []string{"T-4 2027-28"}}
	ctx := context.Background()
	filters := domain.Filters{Technology: "Battery", Status: domain.StatusActive}

	meta, err := svc.DropdownMetadata(ctx, filters, false)
	require.NoError(t, err)
	assert.False(t, meta.Exact)
	assert.EqualValues(t, SampleSize, fs.facetOpts[0].SampleSize)
	assert.Equal(t, filters, fs.facetOpts[0].Filters)

	_, err = svc.DropdownMetadata(ctx, filters, false)
	require.NoError(t, err)
	assert.Equal(t, 1, fs.count("facets"))
}

func TestComponentBackendNeverScansExactly(t *testing.T) {
	svc, fs, _ := newService(t, false)

	meta, err := svc.DropdownMetadata(context.Background(), domain.Filters{}, true)
	require.NoError(t, err)
	assert.False(t, meta.Exact)
	assert.Equal(t, store.SourceComponents, fs.facetOpts[0].Source)
}

func TestTechnologyStatsCached(t *testing.T) {
	svc, fs, _ := newService(t, true)
	fs.stats = []dto.TechnologyStat{{Technology: "Battery", Locations: 2244}}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		stats, err := svc.TechnologyStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, fs.stats, stats)
	}
	assert.Equal(t, 1, fs.count("stats"))
}

func TestPageRunsCountAndListTogether(t *testing.T) {
	fs := newFakeStore()
	fs.err = errors.New("boom")

	_, _, err := page(context.Background(), fs, store.ListLocationGroupsOpts{})
	assert.Error(t, err)
	assert.Equal(t, 1, fs.count("list"))
	assert.Equal(t, 1, fs.count("count"))
}
