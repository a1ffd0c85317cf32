package controller

import (
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/domain/dto"
	"github.com/ougirez/cmregistry/internal/service/search"
)

// listPage backs the search, company and technology pages and their JSON variants.
type listPage struct {
	Title      string                           `json:"-"`
	Filters    domain.Filters                   `json:"-"`
	Results    *dto.Page[dto.LocationGroupView] `json:"results"`
	Dropdowns  *dto.DropdownMetadata            `json:"dropdowns,omitempty"`
	Company    *dto.Company                     `json:"company,omitempty"`
	Technology string                           `json:"technology,omitempty"`
	MapURL     string                           `json:"-"`
	PrevURL    string                           `json:"-"`
	NextURL    string                           `json:"-"`
}

func (p *listPage) paginate(u *url.URL) {
	p.PrevURL = pageURL(u, p.Results.Page-1, p.Results.Pages)
	p.NextURL = pageURL(u, p.Results.Page+1, p.Results.Pages)
}

var listOpts = search.ParseOpts{Extra: []string{formatParam}}

// Search godoc
//
//	GET /search?q&status&auction&technology&company&sort&order&page&per_page
func (cn *Controller) Search(c echo.Context) error {
	p, err := search.ParseParams(c.QueryParams(), listOpts)
	if err != nil {
		return err
	}

	results, err := cn.search.Search(ctx(c), p)
	if err != nil {
		return err
	}
	dropdowns, err := cn.search.DropdownMetadata(ctx(c), p.Filters, false)
	if err != nil {
		return err
	}

	page := &listPage{Title: "Search", Filters: p.Filters, Results: results, Dropdowns: dropdowns}
	if p.Filters.Query != "" {
		page.Title = "Results for " + p.Filters.Query
	}
	page.paginate(c.Request().URL)
	return cn.respond(c, "search.html", page)
}

// CompanyDetail serves GET /company/:slug/. Detail lists are premium: anonymous
// visitors are sent to sign up.
func (cn *Controller) CompanyDetail(c echo.Context) error {
	if _, err := cn.access.AuthorizeList(ctx(c), Subject(c), true); err != nil {
		return err
	}
	p, err := search.ParseParams(c.QueryParams(), listOpts)
	if err != nil {
		return err
	}

	res, err := cn.search.CompanyDetail(ctx(c), c.Param("slug"), p)
	if err != nil {
		return err
	}

	page := &listPage{
		Title:   res.Company.Name,
		Filters: p.Filters,
		Results: res.Page,
		Company: &res.Company,
		MapURL:  "/company-map/" + url.PathEscape(res.Company.Slug) + "/",
	}
	page.paginate(c.Request().URL)
	return cn.respond(c, "detail.html", page)
}

// TechnologyDetail serves GET /technology/:name/.
func (cn *Controller) TechnologyDetail(c echo.Context) error {
	if _, err := cn.access.AuthorizeList(ctx(c), Subject(c), true); err != nil {
		return err
	}
	p, err := search.ParseParams(c.QueryParams(), listOpts)
	if err != nil {
		return err
	}

	res, err := cn.search.TechnologyDetail(ctx(c), c.Param("name"), p)
	if err != nil {
		return err
	}

	page := &listPage{
		Title:      res.Technology,
		Filters:    p.Filters,
		Results:    res.Page,
		Technology: res.Technology,
		MapURL:     "/technology-map/" + url.PathEscape(res.Technology) + "/",
	}
	page.paginate(c.Request().URL)
	return cn.respond(c, "detail.html", page)
}
