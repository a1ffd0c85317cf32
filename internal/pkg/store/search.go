package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/domain/dto"
	"github.com/ougirez/cmregistry/internal/pkg/logger"
)

// Source selects the relation read paths query. SourceComponents groups raw
// components on the fly into rows shaped like location_groups; it serves
// reads while the aggregate table is not ready.
type Source int

const (
	SourceAggregate Source = iota
	SourceComponents
)

func (s Source) String() string {
	if s == SourceComponents {
		return "components"
	}
	return "aggregate"
}

type ListLocationGroupsOpts struct {
	Source  Source
	Filters domain.Filters
	Fields  []domain.Field
	Sort    domain.SortKey
	Desc    bool
	BBox    *domain.BBox
	// WithCoordinates keeps only groups that can be placed on a map.
	WithCoordinates bool
	Limit           uint64
	Offset          uint64
}

type MapClustersOpts struct {
	Source  Source
	Filters domain.Filters
	BBox    *domain.BBox
	// Grid is the cell size in degrees.
	Grid  float64
	Limit uint64
}

type FacetOpts struct {
	Source  Source
	Filters domain.Filters
	// SampleSize bounds each facet scan to the densest locations. Zero means exact.
	SampleSize uint64
}

// futureYearPatterns are LIKE patterns matching an active auction year.
func futureYearPatterns() []string {
	patterns := make([]string, len(domain.FutureAuctionYears))
	for i, y := range domain.FutureAuctionYears {
		patterns[i] = "%" + y + "%"
	}
	return patterns
}

const componentAuction = "COALESCE(NULLIF(c.auction_name, ''), c.delivery_year, '')"

// componentGroupsQuery projects components grouped by location into the location_groups shape.
func componentGroupsQuery() sq.SelectBuilder {
	fanOut := func(expr string) string {
		return fmt.Sprintf(
			`(SELECT jsonb_object_agg(t.k, t.n) FROM (SELECT COALESCE(NULLIF(btrim(c2.%s), ''), %s) AS k, count(*) AS n FROM %s c2 WHERE c2.location = c.location GROUP BY 1) t)`,
			expr, sqlString(domain.UnknownName), tableComponents)
	}
	distinctList := func(expr string) string {
		return fmt.Sprintf(`COALESCE(jsonb_agg(DISTINCT %[1]s) FILTER (WHERE COALESCE(%[1]s, '') <> ''), '[]'::jsonb)`, expr)
	}

	return sq.Select(
		"min(c.id) AS id",
		"c.location AS location",
		"max(c.county) AS county",
		"max(c.outward_code) AS outward_code",
		"(array_agg(c.latitude ORDER BY c.latitude IS NULL, c.derated_capacity_mw DESC NULLS LAST, c.id))[1] AS latitude",
		"(array_agg(c.longitude ORDER BY c.latitude IS NULL, c.derated_capacity_mw DESC NULLS LAST, c.id))[1] AS longitude",
		"count(*) AS component_count",
		"round(COALESCE(sum(c.derated_capacity_mw), 0)::numeric, 3)::float8 AS normalized_capacity_mw",
		`CASE WHEN count(c.derated_capacity_mw) = 0 THEN 'none'
			WHEN count(c.derated_capacity_mw) = count(*) THEN 'high'
			WHEN count(c.derated_capacity_mw) * 2 >= count(*) THEN 'medium'
			ELSE 'low' END AS capacity_confidence`,
		fanOut("company_name")+" AS companies",
		fanOut("technology")+" AS technologies",
		distinctList("c.description")+" AS descriptions",
		distinctList(componentAuction)+" AS auction_years",
		distinctList("c.cmu_id")+" AS cmu_ids",
	).
		Column(sq.Expr("bool_or("+componentAuction+" LIKE ANY (?)) AS is_active", futureYearPatterns())).
		From(tableComponents + " c").
		Where(validLocation("c.location")).
		GroupBy("c.location")
}

func fromSource(query sq.SelectBuilder, source Source) sq.SelectBuilder {
	if source == SourceComponents {
		return query.FromSelect(componentGroupsQuery(), "lg")
	}
	return query.From(tableLocationGroups + " lg")
}

func techPriorityCase(column string) string {
	techs := make([]string, 0, len(domain.TechPriorities))
	for t := range domain.TechPriorities {
		techs = append(techs, t)
	}
	sort.Strings(techs)

	var b strings.Builder
	b.WriteString("CASE " + column)
	for _, t := range techs {
		fmt.Fprintf(&b, " WHEN %s THEN %d", sqlString(t), domain.TechPriorities[t])
	}
	fmt.Fprintf(&b, " ELSE %d END", domain.TechPriority(""))
	return b.String()
}

var primaryTechnologyExpr = "COALESCE((SELECT t.key FROM jsonb_each(lg.technologies) t ORDER BY " +
	techPriorityCase("t.key") + ", t.key LIMIT 1), " + sqlString(domain.UnknownName) + ")"

var primaryCompanyExpr = "COALESCE((SELECT t.key FROM jsonb_each_text(lg.companies) t ORDER BY t.value::int DESC, t.key LIMIT 1), " +
	sqlString(domain.UnknownName) + ")"

var fieldExpressions = map[domain.Field]string{
	domain.FieldID:                 "lg.id",
	domain.FieldLocation:           "lg.location",
	domain.FieldCounty:             "COALESCE(lg.county, '') AS county",
	domain.FieldOutwardCode:        "COALESCE(lg.outward_code, '') AS outward_code",
	domain.FieldLatitude:           "lg.latitude",
	domain.FieldLongitude:          "lg.longitude",
	domain.FieldComponentCount:     "lg.component_count",
	domain.FieldCapacity:           "lg.normalized_capacity_mw",
	domain.FieldCapacityConfidence: "COALESCE(lg.capacity_confidence, 'none') AS capacity_confidence",
	domain.FieldIsActive:           "lg.is_active",
	domain.FieldPrimaryTechnology:  primaryTechnologyExpr + " AS primary_technology",
	domain.FieldPrimaryCompany:     primaryCompanyExpr + " AS primary_company",
	domain.FieldCompanies:          "lg.companies",
	domain.FieldTechnologies:       "lg.technologies",
	domain.FieldDescriptions:       "lg.descriptions",
	domain.FieldAuctionYears:       "lg.auction_years",
	domain.FieldCMUIDs:             "lg.cmu_ids",
}

func projection(fields []domain.Field) ([]string, error) {
	if len(fields) == 0 {
		fields = domain.ListFields
	}
	columns := make([]string, 0, len(fields))
	for _, f := range fields {
		expr, ok := fieldExpressions[f]
		if !ok {
			return nil, fmt.Errorf("unknown field %q", f)
		}
		columns = append(columns, expr)
	}
	return columns, nil
}

// textMatch requires every word of q to appear in one of the searchable surfaces.
func textMatch(q string) sq.Sqlizer {
	q = strings.TrimSpace(q)
	if domain.IsOutwardCode(q) {
		return sq.Expr("upper(lg.outward_code) LIKE ?", likeEscaper.Replace(strings.ToUpper(q))+"%")
	}
	if domain.IsCMUID(strings.ToUpper(q)) {
		return sq.Or{
			sq.Expr("lg.cmu_ids ?? ?", strings.ToUpper(q)),
			sq.ILike{"lg.location": containsPattern(q)},
		}
	}

	words := strings.Fields(q)
	match := make(sq.And, 0, len(words))
	for _, w := range words {
		pattern := containsPattern(w)
		match = append(match, sq.Or{
			sq.ILike{"lg.location": pattern},
			sq.ILike{"lg.county": pattern},
			sq.ILike{"lg.companies::text": pattern},
			sq.ILike{"lg.technologies::text": pattern},
			sq.ILike{"lg.descriptions::text": pattern},
			sq.ILike{"lg.cmu_ids::text": pattern},
		})
	}
	return match
}

func filterPredicates(f domain.Filters) sq.And {
	where := sq.And{}
	switch f.Status {
	case domain.StatusActive:
		where = append(where, sq.Eq{"lg.is_active": true})
	case domain.StatusInactive:
		where = append(where, sq.Eq{"lg.is_active": false})
	}
	if f.Auction != "" {
		where = append(where, sq.Expr(
			"EXISTS (SELECT 1 FROM jsonb_array_elements_text(lg.auction_years) y WHERE y ILIKE ?)",
			containsPattern(f.Auction)))
	}
	if f.Technology != "" {
		where = append(where, sq.Expr("lg.technologies ?? ?", f.Technology))
	}
	if f.Company != "" {
		where = append(where, sq.Expr("lg.companies ?? ?", f.Company))
	}
	if strings.TrimSpace(f.Query) != "" {
		where = append(where, textMatch(f.Query))
	}
	return where
}

func bboxPredicate(b *domain.BBox) sq.Sqlizer {
	return sq.And{
		sq.Expr("lg.latitude BETWEEN ? AND ?", b.MinLat, b.MaxLat),
		sq.Expr("lg.longitude BETWEEN ? AND ?", b.MinLon, b.MaxLon),
	}
}

func relevanceColumn(q string) sq.Sqlizer {
	return sq.Expr(`GREATEST(
		similarity(lg.location, ?),
		similarity(COALESCE(lg.county, ''), ?),
		word_similarity(?, lg.companies::text),
		word_similarity(?, lg.technologies::text)
	) AS relevance`, q, q, q, q)
}

var sortColumns = map[domain.SortKey]string{
	domain.SortCapacity:       "lg.normalized_capacity_mw",
	domain.SortComponentCount: "lg.component_count",
	domain.SortLocation:       "lg.location",
}

func orderBy(key domain.SortKey, desc bool) []string {
	dir := " ASC"
	if desc {
		dir = " DESC"
	}
	switch key {
	case domain.SortRelevance:
		return []string{"relevance" + dir, "lg.location ASC", "lg.id ASC"}
	case domain.SortLocation, "":
		return []string{"lg.location" + dir, "lg.id ASC"}
	default:
		return []string{sortColumns[key] + dir, "lg.location ASC", "lg.id ASC"}
	}
}

func scopedQuery(query sq.SelectBuilder, opts ListLocationGroupsOpts) sq.SelectBuilder {
	query = fromSource(query, opts.Source).Where(filterPredicates(opts.Filters))
	if opts.WithCoordinates {
		query = query.Where(sq.NotEq{"lg.latitude": nil, "lg.longitude": nil})
	}
	if opts.BBox != nil {
		query = query.Where(bboxPredicate(opts.BBox))
	}
	return query
}

func listLocationGroupsQuery(opts ListLocationGroupsOpts) (sq.SelectBuilder, error) {
	columns, err := projection(opts.Fields)
	if err != nil {
		return sq.SelectBuilder{}, err
	}

	query := builder().Select(columns...)
	if opts.Sort == domain.SortRelevance {
		if strings.TrimSpace(opts.Filters.Query) == "" {
			return sq.SelectBuilder{}, fmt.Errorf("relevance sort requires a query")
		}
		query = query.Column(relevanceColumn(strings.TrimSpace(opts.Filters.Query)))
	}

	query = scopedQuery(query, opts).OrderBy(orderBy(opts.Sort, opts.Desc)...)
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}
	return query, nil
}

func (s *store) ListLocationGroups(ctx context.Context, opts ListLocationGroupsOpts) ([]dto.LocationGroupView, error) {
	query, err := listLocationGroupsQuery(opts)
	if err != nil {
		return nil, err
	}

	var selected []dto.LocationGroupView
	if err = s.pool.Selectx(ctx, &selected, query); err != nil {
		logger.Errorf(ctx, "ListLocationGroups(%s): %s", opts.Source, err.Error())
		return nil, wrapErr(err)
	}
	return selected, nil
}

func countLocationGroupsQuery(opts ListLocationGroupsOpts) sq.SelectBuilder {
	return scopedQuery(builder().Select("count(*)"), opts)
}

func (s *store) CountLocationGroups(ctx context.Context, opts ListLocationGroupsOpts) (int, error) {
	var n int
	if err := s.pool.Getx(ctx, &n, countLocationGroupsQuery(opts)); err != nil {
		logger.Errorf(ctx, "CountLocationGroups(%s): %s", opts.Source, err.Error())
		return 0, wrapErr(err)
	}
	return n, nil
}

func mapClustersQuery(opts MapClustersOpts) sq.SelectBuilder {
	grid := strconv.FormatFloat(opts.Grid, 'f', -1, 64)
	cellLat := "floor(lg.latitude / " + grid + ")"
	cellLon := "floor(lg.longitude / " + grid + ")"

	query := builder().Select(
		"avg(lg.latitude)::float8 AS latitude",
		"avg(lg.longitude)::float8 AS longitude",
		"count(*) AS count",
		"sum(lg.component_count) AS components",
		"round(sum(lg.normalized_capacity_mw)::numeric, 3)::float8 AS capacity_mw",
		"CASE WHEN count(*) = 1 THEN min(lg.id) END AS id",
		"COALESCE(CASE WHEN count(*) = 1 THEN min(lg.location) END, '') AS location",
		"COALESCE(CASE WHEN count(*) = 1 THEN min("+primaryTechnologyExpr+") END, '') AS primary_technology",
	)
	query = scopedQuery(query, ListLocationGroupsOpts{
		Source:          opts.Source,
		Filters:         opts.Filters,
		BBox:            opts.BBox,
		WithCoordinates: true,
	})
	return query.GroupBy(cellLat, cellLon).
		OrderBy("count DESC", "latitude", "longitude").
		Limit(opts.Limit)
}

func (s *store) ListMapClusters(ctx context.Context, opts MapClustersOpts) ([]dto.MapCluster, error) {
	var selected []dto.MapCluster
	if err := s.pool.Selectx(ctx, &selected, mapClustersQuery(opts)); err != nil {
		logger.Errorf(ctx, "ListMapClusters(%s): %s", opts.Source, err.Error())
		return nil, wrapErr(err)
	}
	return selected, nil
}
