package store

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/domain/dto"
	"github.com/ougirez/cmregistry/internal/pkg/logger"
)

type facetScope struct {
	name   string
	facet  domain.Facet
	column string
	// keys expands column into one text row per option.
	keys string
}

var facetScopes = []facetScope{
	{name: "tech_scope", facet: domain.FacetTechnology, column: "technologies", keys: "jsonb_object_keys"},
	{name: "auction_scope", facet: domain.FacetAuction, column: "auction_years", keys: "jsonb_array_elements_text"},
	{name: "company_scope", facet: domain.FacetCompany, column: "companies", keys: "jsonb_object_keys"},
}

// facetScopeQuery selects the rows a dropdown is built from: every filter except the
// dropdown's own, limited to the densest locations unless exact.
func facetScopeQuery(s facetScope, opts FacetOpts) sq.SelectBuilder {
	query := sq.Select("lg." + s.column)
	query = fromSource(query, opts.Source).Where(filterPredicates(opts.Filters.Without(s.facet)))
	if opts.SampleSize > 0 {
		query = query.OrderBy("lg.component_count DESC", "lg.location").Limit(opts.SampleSize)
	}
	return query
}

func facetValuesQuery(opts FacetOpts) (sq.SelectBuilder, error) {
	ctes := make([]string, 0, len(facetScopes))
	var args []interface{}
	for _, s := range facetScopes {
		sql, scopeArgs, err := facetScopeQuery(s, opts).ToSql()
		if err != nil {
			return sq.SelectBuilder{}, err
		}
		ctes = append(ctes, fmt.Sprintf("%s AS (%s)", s.name, sql))
		args = append(args, scopeArgs...)
	}

	columns := make([]string, 0, len(facetScopes))
	for _, s := range facetScopes {
		columns = append(columns, fmt.Sprintf(
			"COALESCE((SELECT array_agg(DISTINCT k ORDER BY k) FROM %[1]s, %[2]s(%[1]s.%[3]s) k WHERE k <> ''), '{}'::text[]) AS %[3]s",
			s.name, s.keys, s.column))
	}

	return builder().Select(columns...).
		Prefix("WITH "+strings.Join(ctes, ", "), args...), nil
}

type facetRow struct {
	Technologies []string `db:"technologies"`
	AuctionYears []string `db:"auction_years"`
	Companies    []string `db:"companies"`
}

// FacetValues collects dropdown options for the three facets in one round trip.
func (s *store) FacetValues(ctx context.Context, opts FacetOpts) (*dto.DropdownMetadata, error) {
	query, err := facetValuesQuery(opts)
	if err != nil {
		return nil, err
	}

	var row facetRow
	if err = s.pool.Getx(ctx, &row, query); err != nil {
		logger.Errorf(ctx, "FacetValues(%s): %s", opts.Source, err.Error())
		return nil, wrapErr(err)
	}
	return &dto.DropdownMetadata{
		Technologies: row.Technologies,
		AuctionYears: row.AuctionYears,
		Companies:    row.Companies,
		Exact:        opts.SampleSize == 0,
	}, nil
}

func technologyStatsQuery() sq.SelectBuilder {
	return builder().Select(
		"t.key AS technology",
		"count(*) AS locations",
		"count(*) FILTER (WHERE lg.is_active) AS active_locations",
		"sum(t.value::int) AS components",
		"round(sum(lg.normalized_capacity_mw)::numeric, 3)::float8 AS capacity_mw",
	).
		From(tableLocationGroups + " lg").
		CrossJoin("LATERAL jsonb_each_text(lg.technologies) t").
		GroupBy("t.key").
		OrderBy("components DESC", "technology")
}

// TechnologyStats reports per technology the locations hosting it. CapacityMW is the
// capacity of those locations, so a mixed site counts towards each of its technologies.
func (s *store) TechnologyStats(ctx context.Context) ([]dto.TechnologyStat, error) {
	var selected []dto.TechnologyStat
	if err := s.pool.Selectx(ctx, &selected, technologyStatsQuery()); err != nil {
		logger.Errorf(ctx, "TechnologyStats: %s", err.Error())
		return nil, wrapErr(err)
	}
	return selected, nil
}

func listCompaniesQuery(source Source) sq.SelectBuilder {
	if source == SourceComponents {
		return builder().Select("btrim(c.company_name) AS name", "count(DISTINCT c.location) AS locations").
			From(tableComponents + " c").
			Where(sq.And{validLocation("c.location"), sq.Expr("COALESCE(btrim(c.company_name), '') <> ''")}).
			GroupBy("btrim(c.company_name)").
			OrderBy("name")
	}
	return builder().Select("k AS name", "count(*) AS locations").
		From(tableLocationGroups + " lg").
		CrossJoin("LATERAL jsonb_object_keys(lg.companies) k").
		Where(sq.NotEq{"k": domain.UnknownName}).
		GroupBy("k").
		OrderBy("name")
}

func (s *store) ListCompanies(ctx context.Context, source Source) ([]dto.Company, error) {
	var selected []dto.Company
	if err := s.pool.Selectx(ctx, &selected, listCompaniesQuery(source)); err != nil {
		logger.Errorf(ctx, "ListCompanies(%s): %s", source, err.Error())
		return nil, wrapErr(err)
	}
	return selected, nil
}
