package controller

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ougirez/cmregistry/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

var funcs = template.FuncMap{
	"mw": func(v float64) string {
		return strconv.FormatFloat(v, 'f', 1, 64)
	},
	"active": func(v *bool) string {
		switch {
		case v == nil:
			return ""
		case *v:
			return "Active"
		default:
			return "Inactive"
		}
	},
}

// Renderer serves the embedded HTML pages through echo's Render.
type Renderer struct {
	pages *template.Template
}

func NewRenderer() (*Renderer, error) {
	pages, err := template.New("pages").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{pages: pages}, nil
}

func (r *Renderer) Render(w io.Writer, name string, data interface{}, _ echo.Context) error {
	return r.pages.ExecuteTemplate(w, name, data)
}

func render(c echo.Context, code int, page string, data any) error {
	return c.Render(code, page, data)
}

type errorPage struct {
	Title   string
	Code    int
	Message string
}

// RenderError writes the HTML error page.
func RenderError(c echo.Context, code int, msg string) error {
	return render(c, code, "error.html", errorPage{Title: http.StatusText(code), Code: code, Message: msg})
}

type deniedPage struct {
	Title string
	Tier  domain.Tier
}

// RenderDenied writes the access denied page. It is served with 200 so that
// browsers show it in place of the map.
func RenderDenied(c echo.Context, tier string) error {
	return render(c, http.StatusOK, "denied.html", deniedPage{Title: "Map access not included", Tier: domain.Tier(tier)})
}

// pageURL returns the current request URL with page replaced, or "" when page is out of range.
func pageURL(u *url.URL, page, pages int) string {
	if page < 1 || page > pages {
		return ""
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	next := *u
	next.RawQuery = q.Encode()
	return next.RequestURI()
}

//go:embed static
var staticFS embed.FS

// StaticFS holds the stylesheet and map script served under /static/.
func StaticFS() fs.FS {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
