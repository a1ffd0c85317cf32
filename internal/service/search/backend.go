package search

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/domain/dto"
	"github.com/ougirez/cmregistry/internal/pkg/store"
)

// Backend answers read queries from one physical source. The aggregate backend reads
// location_groups; the component backend groups raw components per request and is
// only used until the aggregate covers enough of the registry.
type Backend interface {
	Source() store.Source
	Page(ctx context.Context, opts store.ListLocationGroupsOpts) ([]dto.LocationGroupView, int, error)
	List(ctx context.Context, opts store.ListLocationGroupsOpts) ([]dto.LocationGroupView, error)
	Clusters(ctx context.Context, opts store.MapClustersOpts) ([]dto.MapCluster, error)
	Facets(ctx context.Context, filters domain.Filters, sampleSize uint64) (*dto.DropdownMetadata, error)
	Companies(ctx context.Context) ([]dto.Company, error)
}

type aggregateBackend struct {
	store store.SearchStore
}

func NewAggregateBackend(s store.SearchStore) Backend {
	return &aggregateBackend{store: s}
}

func (b *aggregateBackend) Source() store.Source { return store.SourceAggregate }

func (b *aggregateBackend) Page(ctx context.Context, opts store.ListLocationGroupsOpts) ([]dto.LocationGroupView, int, error) {
	opts.Source = store.SourceAggregate
	return page(ctx, b.store, opts)
}

func (b *aggregateBackend) List(ctx context.Context, opts store.ListLocationGroupsOpts) ([]dto.LocationGroupView, error) {
	opts.Source = store.SourceAggregate
	return b.store.ListLocationGroups(ctx, opts)
}

func (b *aggregateBackend) Clusters(ctx context.Context, opts store.MapClustersOpts) ([]dto.MapCluster, error) {
	opts.Source = store.SourceAggregate
	return b.store.ListMapClusters(ctx, opts)
}

func (b *aggregateBackend) Facets(ctx context.Context, filters domain.Filters, sampleSize uint64) (*dto.DropdownMetadata, error) {
	return b.store.FacetValues(ctx, store.FacetOpts{Source: store.SourceAggregate, Filters: filters, SampleSize: sampleSize})
}

func (b *aggregateBackend) Companies(ctx context.Context) ([]dto.Company, error) {
	return b.store.ListCompanies(ctx, store.SourceAggregate)
}

type componentBackend struct {
	store store.SearchStore
}

func NewComponentBackend(s store.SearchStore) Backend {
	return &componentBackend{store: s}
}

func (b *componentBackend) Source() store.Source { return store.SourceComponents }

func (b *componentBackend) Page(ctx context.Context, opts store.ListLocationGroupsOpts) ([]dto.LocationGroupView, int, error) {
	opts.Source = store.SourceComponents
	return page(ctx, b.store, opts)
}

func (b *componentBackend) List(ctx context.Context, opts store.ListLocationGroupsOpts) ([]dto.LocationGroupView, error) {
	opts.Source = store.SourceComponents
	return b.store.ListLocationGroups(ctx, opts)
}

func (b *componentBackend) Clusters(ctx context.Context, opts store.MapClustersOpts) ([]dto.MapCluster, error) {
	opts.Source = store.SourceComponents
	return b.store.ListMapClusters(ctx, opts)
}

// Facets always samples here: an exact scan would group the whole registry.
func (b *componentBackend) Facets(ctx context.Context, filters domain.Filters, sampleSize uint64) (*dto.DropdownMetadata, error) {
	if sampleSize == 0 {
		sampleSize = SampleSize
	}
	return b.store.FacetValues(ctx, store.FacetOpts{Source: store.SourceComponents, Filters: filters, SampleSize: sampleSize})
}

func (b *componentBackend) Companies(ctx context.Context) ([]dto.Company, error) {
	return b.store.ListCompanies(ctx, store.SourceComponents)
}

// page fetches one page and the total under the same filters concurrently.
func page(ctx context.Context, s store.SearchStore, opts store.ListLocationGroupsOpts) ([]dto.LocationGroupView, int, error) {
	var (
		items []dto.LocationGroupView
		total int
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		if items, err = s.ListLocationGroups(egCtx, opts); err != nil {
			return fmt.Errorf("store.ListLocationGroups: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		var err error
		if total, err = s.CountLocationGroups(egCtx, opts); err != nil {
			return fmt.Errorf("store.CountLocationGroups: %w", err)
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
