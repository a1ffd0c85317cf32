package controller

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/domain/dto"
	"github.com/ougirez/cmregistry/internal/service/search"
)

type mapPage struct {
	Title    string
	DataURL  string
	Features dto.FeatureCollection
}

var mapOpts = search.ParseOpts{DefaultPerPage: search.DefaultMapPerPage, Extra: []string{formatParam}}

// mapScope narrows the request filters to the page's subject and returns the page title.
type mapScope func(f domain.Filters) (domain.Filters, string, error)

// SearchMap serves GET /search-map/.
func (cn *Controller) SearchMap(c echo.Context) error {
	return cn.renderMap(c, func(f domain.Filters) (domain.Filters, string, error) {
		return f, "Map", nil
	})
}

// CompanyMap serves GET /company-map/:slug/.
func (cn *Controller) CompanyMap(c echo.Context) error {
	return cn.renderMap(c, func(f domain.Filters) (domain.Filters, string, error) {
		company, err := cn.search.ResolveCompany(ctx(c), c.Param("slug"))
		if err != nil {
			return f, "", err
		}
		f.Company = company.Name
		return f, company.Name + " map", nil
	})
}

// TechnologyMap serves GET /technology-map/:name/.
func (cn *Controller) TechnologyMap(c echo.Context) error {
	return cn.renderMap(c, func(f domain.Filters) (domain.Filters, string, error) {
		name, err := cn.search.ResolveTechnology(ctx(c), c.Param("name"))
		if err != nil {
			return f, "", err
		}
		f.Technology = name
		return f, name + " map", nil
	})
}

// renderMap authorizes the subject before any data is read and counts the render
// against the subject's trial quota once it succeeded.
func (cn *Controller) renderMap(c echo.Context, scope mapScope) error {
	subject := Subject(c)
	if _, err := cn.access.AuthorizeMap(ctx(c), subject); err != nil {
		return err
	}

	p, err := search.ParseParams(c.QueryParams(), mapOpts)
	if err != nil {
		return err
	}
	filters, title, err := scope(p.Filters)
	if err != nil {
		return err
	}

	views, err := cn.search.MapRegion(ctx(c), filters, nil, p.PerPage)
	if err != nil {
		return err
	}
	fc := dto.NewFeatureCollection(dto.GeoJSONFeatures(views))
	fc.Total = len(fc.Features)

	cn.access.MapRendered(ctx(c), subject)

	if wantsJSON(c) {
		return c.JSON(http.StatusOK, fc)
	}
	return render(c, http.StatusOK, "map.html", mapPage{Title: title, DataURL: mapDataURL(filters), Features: fc})
}

func mapDataURL(f domain.Filters) string {
	q := url.Values{}
	for key, value := range map[string]string{
		"q":          f.Query,
		"status":     string(f.Status),
		"auction":    f.Auction,
		"technology": f.Technology,
		"company":    f.Company,
	} {
		if value != "" {
			q.Set(key, value)
		}
	}
	if len(q) == 0 {
		return "/api/map-data"
	}
	return "/api/map-data?" + q.Encode()
}

// SearchGeoJSON godoc
//
//	GET /api/search-geojson?tech&q&limit
func (cn *Controller) SearchGeoJSON(c echo.Context) error {
	if _, err := cn.access.AuthorizeMap(ctx(c), Subject(c)); err != nil {
		return err
	}
	p, err := search.ParseGeoJSONParams(c.QueryParams())
	if err != nil {
		return err
	}
	fc, err := cn.search.GeoJSON(ctx(c), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, fc)
}

// MapData godoc
//
//	GET /api/map-data?technology&bbox&zoom
//
// Views are counted on the map page render, not here.
func (cn *Controller) MapData(c echo.Context) error {
	if _, err := cn.access.AuthorizeMap(ctx(c), Subject(c)); err != nil {
		return err
	}
	p, err := search.ParseMapDataParams(c.QueryParams())
	if err != nil {
		return err
	}
	fc, err := cn.search.MapData(ctx(c), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, fc)
}
