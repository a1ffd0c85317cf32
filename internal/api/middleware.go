package api

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ougirez/cmregistry/internal/api/controller"
	"github.com/ougirez/cmregistry/internal/pkg/constants"
	"github.com/ougirez/cmregistry/internal/pkg/egress"
	"github.com/ougirez/cmregistry/internal/pkg/logger"
	"github.com/ougirez/cmregistry/internal/pkg/utils"
)

var maintenanceExempt = []string{"/static/", "/admin/", "/maintenance/"}

func (svc *APIService) RequestIDMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(echo.HeaderXRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Response().Header().Set(echo.HeaderXRequestID, id)
		c.Set(constants.CtxKeyRequestID, id)

		ctx := logger.With(c.Request().Context(),
			zap.String("request_id", id),
			zap.String("path", c.Request().URL.Path),
		)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func (svc *APIService) MaintenanceMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !svc.cfg.Maintenance.Enabled {
			return next(c)
		}
		path := c.Request().URL.Path
		for _, prefix := range maintenanceExempt {
			if strings.HasPrefix(path, prefix) {
				return next(c)
			}
		}
		ip := c.RealIP()
		for _, allowed := range svc.cfg.Maintenance.AllowedIPs {
			if ip == allowed {
				return next(c)
			}
		}
		return constants.ErrMaintenance
	}
}

func (svc *APIService) BotBlockerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		switch svc.bots.check(c.RealIP(), c.Request().UserAgent()) {
		case botBlock:
			return constants.ErrForbidden
		case botThrottle:
			return constants.ErrRateLimited
		}
		return next(c)
	}
}

// AuthMiddleware resolves the auth cookie to a subject. Requests without a valid
// cookie continue as anonymous visitors.
func (svc *APIService) AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		var raw string
		if cookie, err := c.Cookie(constants.CookieKeyAuthToken); err == nil {
			raw = cookie.Value
		}

		subject, err := svc.authService.Authenticate(c.Request().Context(), raw)
		if err != nil {
			return err
		}
		if subject.Authenticated() {
			c.Set(constants.CtxKeyUserID, subject.User.ID)
		}
		c.Set(constants.CtxKeySubject, &subject)

		return next(c)
	}
}

// AdminMiddleware admits staff users and holders of the secret token cookie.
func (svc *APIService) AdminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if subject := controller.Subject(c); subject.Authenticated() && (subject.User.IsStaff || subject.User.IsSuperuser) {
			return next(c)
		}

		cookie, err := c.Cookie(constants.CookieKeySecretToken)
		if err != nil {
			return constants.ErrUnauthorized
		}

		token, err := utils.ParseAuthTokenWithKey(cookie.Value, svc.cfg.SecretKey)
		if err != nil {
			return err
		}

		if token.Secret != svc.cfg.SecretKey {
			return constants.ErrUnauthorized
		}

		return next(c)
	}
}

type countingWriter struct {
	http.ResponseWriter
	n int64
}

func (w *countingWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.n += int64(n)
	return n, err
}

func (w *countingWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func untracked(path string) bool {
	return strings.HasPrefix(path, "/static/") || path == "/metrics"
}

// EgressMiddleware attaches a tracker to the request, counts the bytes that reach
// the client and hands the finished sample to the egress monitor. It sits outside
// the gzip middleware so that sizes are measured after compression.
func (svc *APIService) EgressMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if untracked(c.Request().URL.Path) {
			return next(c)
		}

		ctx, tracker := egress.WithTracker(c.Request().Context())
		c.SetRequest(c.Request().WithContext(ctx))

		w := &countingWriter{ResponseWriter: c.Response().Writer}
		c.Response().Writer = w

		start := time.Now()
		if err := next(c); err != nil {
			c.Error(err)
		}

		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		sample := egress.Sample{
			Timestamp:     start,
			Path:          route,
			ResponseBytes: w.n,
			ResponseMS:    float64(time.Since(start).Microseconds()) / 1000,
		}
		tracker.Fill(&sample)
		svc.monitor.Record(ctx, sample)
		return nil
	}
}

const (
	staticMaxAge = 30 * 24 * time.Hour
	apiMaxAge    = 5 * time.Minute
	detailMaxAge = 10 * time.Minute
)

func cacheControl(path string) string {
	switch {
	case strings.HasPrefix(path, "/static/"):
		return maxAge("public", staticMaxAge)
	case strings.HasPrefix(path, "/api/monitoring/"):
		return "no-store"
	// Access-gated responses differ per subject and stay out of shared caches.
	case path == "/api/search-geojson", path == "/api/map-data":
		return maxAge("private", apiMaxAge)
	case strings.HasPrefix(path, "/api/"):
		return maxAge("public", apiMaxAge)
	case strings.HasPrefix(path, "/company/"), strings.HasPrefix(path, "/technology/"):
		return maxAge("private", detailMaxAge)
	case strings.HasPrefix(path, "/company-map/"), strings.HasPrefix(path, "/technology-map/"),
		strings.HasPrefix(path, "/search-map/"):
		return "private, no-cache"
	}
	return ""
}

func maxAge(scope string, d time.Duration) string {
	return scope + ", max-age=" + strconv.Itoa(int(d.Seconds()))
}

type bufferedWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (w *bufferedWriter) WriteHeader(code int) {
	w.status = code
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	return w.buf.Write(b)
}

// HTTPCacheMiddleware sets Cache-Control, Last-Modified and a strong ETag over the
// uncompressed body of successful GET responses, answering If-None-Match with 304.
func (svc *APIService) HTTPCacheMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		if strings.HasPrefix(req.URL.Path, "/static/") {
			c.Response().Header().Set(echo.HeaderCacheControl, cacheControl(req.URL.Path))
			return next(c)
		}
		if (req.Method != http.MethodGet && req.Method != http.MethodHead) || untracked(req.URL.Path) {
			return next(c)
		}

		orig := c.Response().Writer
		w := &bufferedWriter{ResponseWriter: orig, status: http.StatusOK}
		c.Response().Writer = w
		err := next(c)
		c.Response().Writer = orig
		if err != nil {
			return err
		}

		h := orig.Header()
		if cc := cacheControl(req.URL.Path); cc != "" {
			h.Set(echo.HeaderCacheControl, cc)
		}
		if w.status != http.StatusOK {
			orig.WriteHeader(w.status)
			_, err = orig.Write(w.buf.Bytes())
			return err
		}

		// Weak: the same validator is served on the gzip and identity encodings.
		etag := `W/"` + strconv.FormatUint(xxhash.Sum64(w.buf.Bytes()), 16) + `"`
		h.Set("ETag", etag)
		h.Set(echo.HeaderLastModified, svc.startedAt.UTC().Format(http.TimeFormat))
		if match := req.Header.Get("If-None-Match"); match != "" && strings.Contains(match, etag) {
			h.Del(echo.HeaderContentType)
			orig.WriteHeader(http.StatusNotModified)
			return nil
		}

		orig.WriteHeader(http.StatusOK)
		_, err = orig.Write(w.buf.Bytes())
		return err
	}
}
