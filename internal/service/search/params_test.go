package search

import (
	"math"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/pkg/constants"
)

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    Params
		wantErr bool
	}{
		{
			name:  "defaults",
			query: "",
			want:  Params{Sort: domain.SortLocation, Page: 1, PerPage: DefaultListPerPage},
		},
		{
			name:  "query defaults to relevance",
			query: "q=battery&status=active&page=1&per_page=25",
			want: Params{
				Filters: domain.Filters{Query: "battery", Status: domain.StatusActive},
				Sort:    domain.SortRelevance,
				Desc:    true,
				Page:    1,
				PerPage: 25,
			},
		},
		{
			name:  "capacity ascending",
			query: "technology=Gas&sort=capacity&order=asc",
			want: Params{
				Filters: domain.Filters{Technology: "Gas"},
				Sort:    domain.SortCapacity,
				Page:    1,
				PerPage: DefaultListPerPage,
			},
		},
		{name: "per_page zero", query: "per_page=0", wantErr: true},
		{name: "per_page above max", query: "per_page=101", wantErr: true},
		{name: "page zero", query: "page=0", wantErr: true},
		{name: "page not a number", query: "page=two", wantErr: true},
		{name: "page offset overflows", query: "page=922337203685477581&per_page=100", wantErr: true},
		{name: "unknown status", query: "status=pending", wantErr: true},
		{name: "unknown sort", query: "sort=random", wantErr: true},
		{name: "relevance without q", query: "sort=relevance", wantErr: true},
		{name: "bad order", query: "sort=capacity&order=up", wantErr: true},
		{name: "unknown key", query: "colour=red", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.query)
			require.NoError(t, err)

			got, err := ParseParams(values, ParseOpts{})
			if tt.wantErr {
				assert.ErrorIs(t, err, constants.ErrBadRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLastPageOffsetFits(t *testing.T) {
	values := url.Values{"page": {strconv.Itoa(maxPage)}, "per_page": {strconv.Itoa(MaxPerPage)}}

	p, err := ParseParams(values, ParseOpts{})
	require.NoError(t, err)
	assert.Equal(t, uint64(maxPage-1)*MaxPerPage, p.Offset())
	assert.LessOrEqual(t, p.Offset(), uint64(math.MaxInt))

	values.Set("page", strconv.Itoa(maxPage+1))
	_, err = ParseParams(values, ParseOpts{})
	assert.ErrorIs(t, err, constants.ErrBadRequest)
}

func TestParseParamsExtraKeys(t *testing.T) {
	values := url.Values{"format": {"json"}}

	_, err := ParseParams(values, ParseOpts{})
	assert.Error(t, err)

	p, err := ParseParams(values, ParseOpts{DefaultPerPage: DefaultMapPerPage, Extra: []string{"format"}})
	require.NoError(t, err)
	assert.Equal(t, DefaultMapPerPage, p.PerPage)
}

func TestParseGeoJSONParams(t *testing.T) {
	tests := []struct {
		query string
		limit int
	}{
		{query: "tech=Battery", limit: 100},
		{query: "tech=Battery&limit=50", limit: 50},
		{query: "limit=0", limit: 1},
		{query: "limit=-5", limit: 1},
		{query: "limit=5000", limit: 100},
	}
	for _, tt := range tests {
		values, err := url.ParseQuery(tt.query)
		require.NoError(t, err)

		p, err := ParseGeoJSONParams(values)
		require.NoError(t, err, tt.query)
		assert.Equal(t, tt.limit, p.Limit, tt.query)
	}

	p, err := ParseGeoJSONParams(url.Values{"tech": {"Battery"}})
	require.NoError(t, err)
	assert.Equal(t, "Battery", p.Filters.Technology)

	_, err = ParseGeoJSONParams(url.Values{"limit": {"ten"}})
	assert.ErrorIs(t, err, constants.ErrBadRequest)
	_, err = ParseGeoJSONParams(url.Values{"bbox": {"1,2,3,4"}})
	assert.ErrorIs(t, err, constants.ErrBadRequest)
}

func TestParseMapDataParams(t *testing.T) {
	p, err := ParseMapDataParams(url.Values{"technology": {"Battery"}, "bbox": {"-2.5,50.1,1.8,53"}, "zoom": {"7"}})
	require.NoError(t, err)
	assert.Equal(t, 7, p.Zoom)
	assert.Equal(t, &domain.BBox{MinLon: -2.5, MinLat: 50.1, MaxLon: 1.8, MaxLat: 53}, p.BBox)

	_, err = ParseMapDataParams(url.Values{"bbox": {"1,2,3"}})
	assert.ErrorIs(t, err, constants.ErrBadRequest)
	_, err = ParseMapDataParams(url.Values{"bbox": {"3,2,1,4"}})
	assert.ErrorIs(t, err, constants.ErrBadRequest)
	_, err = ParseMapDataParams(url.Values{"zoom": {"30"}})
	assert.ErrorIs(t, err, constants.ErrBadRequest)
}

func TestGridFor(t *testing.T) {
	assert.Equal(t, 0.5, GridFor(0))
	assert.Equal(t, 0.5, GridFor(5))
	assert.Equal(t, 0.1, GridFor(6))
	assert.Equal(t, 0.1, GridFor(7))
	assert.Zero(t, GridFor(8))
	assert.Zero(t, GridFor(12))
}
