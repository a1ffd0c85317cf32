package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/pkg/logger"
)

var locationGroupWriteColumns = []string{
	"location", "county", "outward_code", "latitude", "longitude",
	"component_count", "normalized_capacity_mw", "capacity_confidence",
	"companies", "technologies", "descriptions", "auction_years", "cmu_ids",
	"is_active", "representative_component_id", "updated_at",
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// upsertLocationGroupQuery writes the whole aggregate for one location in a single
// statement, so readers see either the previous row or the new one.
func upsertLocationGroupQuery(lg *domain.LocationGroup, touchedAt time.Time) sq.InsertBuilder {
	return builder().Insert(tableLocationGroups).
		Columns(locationGroupWriteColumns...).
		Values(
			lg.Location,
			nullIfEmpty(lg.County),
			nullIfEmpty(lg.OutwardCode),
			lg.Latitude,
			lg.Longitude,
			lg.ComponentCount,
			lg.NormalizedCapacityMW,
			string(lg.CapacityConfidence),
			lg.Companies,
			lg.Technologies,
			lg.Descriptions,
			lg.AuctionYears,
			lg.CMUIDs,
			lg.IsActive,
			lg.RepresentativeComponentID,
			touchedAt,
		).
		Suffix(`
on conflict (location)
do update
set
	county = excluded.county,
	outward_code = excluded.outward_code,
	latitude = excluded.latitude,
	longitude = excluded.longitude,
	component_count = excluded.component_count,
	normalized_capacity_mw = excluded.normalized_capacity_mw,
	capacity_confidence = excluded.capacity_confidence,
	companies = excluded.companies,
	technologies = excluded.technologies,
	descriptions = excluded.descriptions,
	auction_years = excluded.auction_years,
	cmu_ids = excluded.cmu_ids,
	is_active = excluded.is_active,
	representative_component_id = excluded.representative_component_id,
	updated_at = excluded.updated_at
returning (xmax = 0) as created`)
}

// UpsertLocationGroup reports whether the row was created rather than updated.
func (s *store) UpsertLocationGroup(ctx context.Context, lg *domain.LocationGroup, touchedAt time.Time) (bool, error) {
	var created bool
	if err := s.pool.Getx(ctx, &created, upsertLocationGroupQuery(lg, touchedAt)); err != nil {
		logger.Errorf(ctx, "UpsertLocationGroup %q: %s", lg.Location, err.Error())
		return false, wrapErr(err)
	}
	return created, nil
}

func (s *store) DeleteLocationGroupsNotTouchedSince(ctx context.Context, since time.Time) (int64, error) {
	query := builder().Delete(tableLocationGroups).
		Where(sq.Lt{"updated_at": since})

	tag, err := s.pool.Execx(ctx, query)
	if err != nil {
		logger.Errorf(ctx, "DeleteLocationGroupsNotTouchedSince: %s", err.Error())
		return 0, wrapErr(err)
	}
	return tag.RowsAffected(), nil
}

func (s *store) SumGroupComponentCount(ctx context.Context) (int64, error) {
	query := builder().Select("COALESCE(sum(component_count), 0)").
		From(tableLocationGroups)

	var n int64
	if err := s.pool.Getx(ctx, &n, query); err != nil {
		return 0, wrapErr(err)
	}
	return n, nil
}
