package controller

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/domain/dto"
	"github.com/ougirez/cmregistry/internal/pkg/cache"
	"github.com/ougirez/cmregistry/internal/pkg/constants"
	"github.com/ougirez/cmregistry/internal/pkg/egress"
	"github.com/ougirez/cmregistry/internal/service/search"
)

type SearchService interface {
	Search(ctx context.Context, p search.Params) (*dto.Page[dto.LocationGroupView], error)
	DropdownMetadata(ctx context.Context, filters domain.Filters, exact bool) (*dto.DropdownMetadata, error)
	CompanyDetail(ctx context.Context, slug string, p search.Params) (*search.CompanyPage, error)
	TechnologyDetail(ctx context.Context, technology string, p search.Params) (*search.TechnologyPage, error)
	ResolveCompany(ctx context.Context, slug string) (dto.Company, error)
	ResolveTechnology(ctx context.Context, technology string) (string, error)
	MapRegion(ctx context.Context, filters domain.Filters, bbox *domain.BBox, limit int) ([]dto.LocationGroupView, error)
	GeoJSON(ctx context.Context, p search.GeoJSONParams) (dto.FeatureCollection, error)
	MapData(ctx context.Context, p search.MapDataParams) (dto.FeatureCollection, error)
	TechnologyStats(ctx context.Context) ([]dto.TechnologyStat, error)
}

type AccessService interface {
	AuthorizeMap(ctx context.Context, subject *domain.Subject) (domain.Tier, error)
	AuthorizeList(ctx context.Context, subject *domain.Subject, premium bool) (domain.Tier, error)
	MapRendered(ctx context.Context, subject *domain.Subject)
}

type Monitor interface {
	Dashboard() egress.Dashboard
}

type CacheAdmin interface {
	Status(ctx context.Context) cache.Report
	ClearNamespace(ctx context.Context, ns cache.Namespace) (int, error)
}

type Controller struct {
	search  SearchService
	access  AccessService
	monitor Monitor
	cache   CacheAdmin
}

func NewController(search SearchService, access AccessService, monitor Monitor, cache CacheAdmin) *Controller {
	return &Controller{search: search, access: access, monitor: monitor, cache: cache}
}

const formatParam = "format"

// wantsJSON is true for ?format=json or an Accept header that asks for JSON and not HTML.
func wantsJSON(c echo.Context) bool {
	switch c.QueryParam(formatParam) {
	case "json":
		return true
	case "html":
		return false
	}
	accept := c.Request().Header.Get(echo.HeaderAccept)
	return strings.Contains(accept, echo.MIMEApplicationJSON) && !strings.Contains(accept, echo.MIMETextHTML)
}

// Subject returns the subject the auth middleware stored on the request.
func Subject(c echo.Context) *domain.Subject {
	if s, ok := c.Get(constants.CtxKeySubject).(*domain.Subject); ok {
		return s
	}
	return &domain.Subject{}
}

func ctx(c echo.Context) context.Context {
	return c.Request().Context()
}

func (cn *Controller) respond(c echo.Context, page string, data any) error {
	if wantsJSON(c) {
		return c.JSON(http.StatusOK, data)
	}
	return render(c, http.StatusOK, page, data)
}
