package store

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/pkg/logger"
)

type ListLocationKeysOpts struct {
	// From is the first location to return; the empty string starts from the beginning.
	From string
	// After excludes From itself, for continuing after the last key of a batch.
	After bool
	Limit uint64
}

var componentColumns = []string{
	"c.id",
	"COALESCE(c.component_id, '') AS component_id",
	"COALESCE(c.cmu_id, '') AS cmu_id",
	"COALESCE(c.company_name, '') AS company_name",
	"COALESCE(c.technology, '') AS technology",
	"COALESCE(c.auction_name, '') AS auction_name",
	"COALESCE(c.delivery_year, '') AS delivery_year",
	"c.location",
	"COALESCE(c.description, '') AS description",
	"c.derated_capacity_mw",
	"c.latitude",
	"c.longitude",
	"COALESCE(c.county, '') AS county",
	"COALESCE(c.outward_code, '') AS outward_code",
	"c.updated_at",
}

// validLocation keeps components whose location names a real site.
func validLocation(column string) sq.Sqlizer {
	upper := make([]string, 0, len(domain.InvalidLocations))
	for _, v := range domain.InvalidLocations {
		if v != "" {
			upper = append(upper, strings.ToUpper(v))
		}
	}
	return sq.And{
		sq.NotEq{column: nil},
		sq.Expr(fmt.Sprintf("btrim(%s) <> ''", column)),
		sq.NotEq{fmt.Sprintf("upper(btrim(%s))", column): upper},
		sq.Expr(fmt.Sprintf("%s NOT ILIKE ?", column), "%"+domain.InvalidLocationFragment+"%"),
	}
}

func listLocationKeysQuery(opts ListLocationKeysOpts) sq.SelectBuilder {
	query := builder().Select("DISTINCT c.location").
		From(tableComponents + " c").
		Where(validLocation("c.location")).
		OrderBy("c.location").
		Limit(opts.Limit)

	if opts.From != "" {
		if opts.After {
			query = query.Where(sq.Gt{"c.location": opts.From})
		} else {
			query = query.Where(sq.GtOrEq{"c.location": opts.From})
		}
	}
	return query
}

func (s *store) ListLocationKeys(ctx context.Context, opts ListLocationKeysOpts) ([]string, error) {
	var keys []string
	if err := s.pool.Selectx(ctx, &keys, listLocationKeysQuery(opts)); err != nil {
		logger.Errorf(ctx, "ListLocationKeys: %s", err.Error())
		return nil, wrapErr(err)
	}
	return keys, nil
}

func listComponentsByLocationsQuery(locations []string) sq.SelectBuilder {
	return builder().Select(componentColumns...).
		From(tableComponents + " c").
		Where(sq.Eq{"c.location": locations}).
		OrderBy("c.location", "c.id")
}

func (s *store) ListComponentsByLocations(ctx context.Context, locations []string) ([]*domain.Component, error) {
	if len(locations) == 0 {
		return nil, nil
	}

	var selected []*domain.Component
	if err := s.pool.Selectx(ctx, &selected, listComponentsByLocationsQuery(locations)); err != nil {
		logger.Errorf(ctx, "ListComponentsByLocations: %s", err.Error())
		return nil, wrapErr(err)
	}
	return selected, nil
}

func (s *store) CountValidComponents(ctx context.Context) (int64, error) {
	query := builder().Select("count(*)").
		From(tableComponents + " c").
		Where(validLocation("c.location"))

	var n int64
	if err := s.pool.Getx(ctx, &n, query); err != nil {
		return 0, wrapErr(err)
	}
	return n, nil
}

type outwardCounty struct {
	OutwardCode string `db:"outward_code"`
	County      string `db:"county"`
}

// OutwardCountyMapping maps each outward code to the county most components there report.
func (s *store) OutwardCountyMapping(ctx context.Context) (map[string]string, error) {
	query := builder().Select(
		"upper(c.outward_code) AS outward_code",
		"mode() WITHIN GROUP (ORDER BY c.county) AS county",
	).
		From(tableComponents + " c").
		Where(sq.And{
			sq.Expr("COALESCE(c.outward_code, '') <> ''"),
			sq.Expr("COALESCE(c.county, '') <> ''"),
		}).
		GroupBy("upper(c.outward_code)")

	var rows []outwardCounty
	if err := s.pool.Selectx(ctx, &rows, query); err != nil {
		logger.Errorf(ctx, "OutwardCountyMapping: %s", err.Error())
		return nil, wrapErr(err)
	}

	mapping := make(map[string]string, len(rows))
	for _, r := range rows {
		mapping[r.OutwardCode] = r.County
	}
	return mapping, nil
}
