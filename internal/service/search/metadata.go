package search

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/domain/dto"
	"github.com/ougirez/cmregistry/internal/pkg/cache"
	"github.com/ougirez/cmregistry/internal/pkg/constants"
	"github.com/ougirez/cmregistry/internal/pkg/utils"
)

// SampleSize is how many of the densest locations feed each dropdown.
const SampleSize = 100

const (
	technologyStatsKey = "technology_stats"
	companyIndexKey    = "companies"
)

// DropdownMetadata lists technology, auction year and company options under filters.
// Each dropdown ignores its own filter. Options come from a sample of the densest
// locations unless exact is set.
func (s *Service) DropdownMetadata(ctx context.Context, filters domain.Filters, exact bool) (*dto.DropdownMetadata, error) {
	b := s.backend(ctx)
	sampleSize := uint64(SampleSize)
	if exact {
		sampleSize = 0
	}

	key := s.cacheKey(ctx, "dropdowns", b, filtersKey(filters), "sample="+strconv.FormatUint(sampleSize, 10))
	meta, err := cache.Fetch(ctx, s.cache, cache.NamespaceStatsMetadata, key, 0,
		func(ctx context.Context) (dto.DropdownMetadata, error) {
			m, err := b.Facets(ctx, filters, sampleSize)
			if err != nil {
				return dto.DropdownMetadata{}, err
			}
			return *m, nil
		})
	if err != nil {
		return nil, fmt.Errorf("dropdown metadata: %w", err)
	}
	return &meta, nil
}

// TechnologyStats reports per-technology location and capacity totals from the aggregate.
func (s *Service) TechnologyStats(ctx context.Context) ([]dto.TechnologyStat, error) {
	key := technologyStatsKey + ":v" + strconv.FormatInt(s.version(ctx), 10)
	stats, err := cache.Fetch(ctx, s.cache, cache.NamespaceStatistics, key, 0, s.store.TechnologyStats)
	if err != nil {
		return nil, fmt.Errorf("technology stats: %w", err)
	}
	return stats, nil
}

// Companies is the company slug index, sorted by name. When two names share a slug the
// first one in name order owns it.
func (s *Service) Companies(ctx context.Context) ([]dto.Company, error) {
	b := s.backend(ctx)
	key := s.cacheKey(ctx, companyIndexKey, b)
	companies, err := cache.Fetch(ctx, s.cache, cache.NamespaceCompanyIndex, key, 0,
		func(ctx context.Context) ([]dto.Company, error) {
			list, err := b.Companies(ctx)
			if err != nil {
				return nil, err
			}
			return buildCompanyIndex(list), nil
		})
	if err != nil {
		return nil, fmt.Errorf("company index: %w", err)
	}
	return companies, nil
}

func buildCompanyIndex(list []dto.Company) []dto.Company {
	sort.SliceStable(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	seen := make(map[string]bool, len(list))
	index := make([]dto.Company, 0, len(list))
	for _, c := range list {
		c.Slug = utils.Slugify(c.Name)
		if c.Slug == "" || seen[c.Slug] {
			continue
		}
		seen[c.Slug] = true
		index = append(index, c)
	}
	return index
}

func (s *Service) ResolveCompany(ctx context.Context, slug string) (dto.Company, error) {
	companies, err := s.Companies(ctx)
	if err != nil {
		return dto.Company{}, err
	}
	slug = utils.Slugify(slug)
	for _, c := range companies {
		if c.Slug == slug {
			return c, nil
		}
	}
	return dto.Company{}, constants.NotFoundf("company %q", slug)
}
