package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ougirez/cmregistry/internal/api/controller"
	"github.com/ougirez/cmregistry/internal/pkg/cache"
	"github.com/ougirez/cmregistry/internal/pkg/config"
	"github.com/ougirez/cmregistry/internal/pkg/egress"
	"github.com/ougirez/cmregistry/internal/pkg/logger"
	"github.com/ougirez/cmregistry/internal/pkg/store"
	"github.com/ougirez/cmregistry/internal/service/access"
	"github.com/ougirez/cmregistry/internal/service/auth"
	"github.com/ougirez/cmregistry/internal/service/locationgroup"
	"github.com/ougirez/cmregistry/internal/service/search"
	"github.com/ougirez/cmregistry/internal/service/user"
)

type APIService struct {
	router    *echo.Echo
	cfg       *config.Config
	monitor   *egress.Monitor
	bots      *botBlocker
	startedAt time.Time

	searchService *search.Service
	accessService *access.Service
	userService   *user.Service
	authService   *auth.Service
}

type Deps struct {
	Config   *config.Config
	Store    store.Store
	Cache    *cache.Governor
	Gate     *locationgroup.Gate
	Monitor  *egress.Monitor
	Gatherer prometheus.Gatherer
}

func (svc *APIService) Serve(addr string) {
	if err := svc.router.Start(addr); err != nil && err != http.ErrServerClosed {
		logger.Fatal(context.Background(), err)
	}
}

func (svc *APIService) Shutdown(ctx context.Context) error {
	return svc.router.Shutdown(ctx)
}

// Handler exposes the router, mostly for tests.
func (svc *APIService) Handler() http.Handler {
	return svc.router
}

func NewAPIService(deps Deps) (*APIService, error) {
	svc := &APIService{
		router:    echo.New(),
		cfg:       deps.Config,
		monitor:   deps.Monitor,
		bots:      newBotBlocker(time.Now),
		startedAt: time.Now(),
	}
	if svc.monitor == nil {
		svc.monitor = egress.NewMonitor(egress.DefaultThresholds())
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	renderer, err := controller.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("controller.NewRenderer: %w", err)
	}

	svc.router.HideBanner = true
	svc.router.JSONSerializer = sonicSerializer{}
	svc.router.Renderer = renderer
	svc.router.HTTPErrorHandler = httpErrorHandler

	svc.router.Use(middleware.Recover())
	svc.router.Use(svc.RequestIDMiddleware)
	svc.router.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info(c.Request().Context(), "request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	}))
	svc.router.Use(svc.EgressMiddleware)
	svc.router.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/metrics"
		},
	}))
	svc.router.Use(svc.MaintenanceMiddleware)
	svc.router.Use(svc.BotBlockerMiddleware)
	svc.router.Use(svc.HTTPCacheMiddleware)
	svc.router.Use(svc.AuthMiddleware)

	gate := deps.Gate
	if gate == nil {
		gate = locationgroup.NewGate(deps.Store, deps.Cache, nil)
	}
	svc.searchService = search.NewSearchService(deps.Store, gate, deps.Cache)
	svc.userService = user.NewUserService(deps.Store, nil)
	svc.accessService = access.NewAccessService(svc.userService, deps.Config.TrialMapQuota, nil)
	svc.authService = auth.NewService(svc.userService, deps.Config.SecretKey)

	cntrl := controller.NewController(svc.searchService, svc.accessService, svc.monitor, deps.Cache)

	svc.router.StaticFS("/static", controller.StaticFS())
	svc.router.GET("/", func(c echo.Context) error {
		return c.Redirect(http.StatusMovedPermanently, "/search")
	})
	svc.router.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))

	svc.router.GET("/search", cntrl.Search)
	svc.router.GET("/search/", cntrl.Search)
	svc.router.GET("/search-map/", cntrl.SearchMap)
	svc.router.GET("/company/:slug/", cntrl.CompanyDetail)
	svc.router.GET("/company-map/:slug/", cntrl.CompanyMap)
	svc.router.GET("/technology/:name/", cntrl.TechnologyDetail)
	svc.router.GET("/technology-map/:name/", cntrl.TechnologyMap)

	api := svc.router.Group("/api")
	api.GET("/search-geojson", cntrl.SearchGeoJSON)
	api.GET("/map-data", cntrl.MapData)
	api.GET("/monitoring/", cntrl.Monitoring)
	api.GET("/statistics/technologies", cntrl.TechnologyStats)

	admin := svc.router.Group("/admin", svc.AdminMiddleware)
	admin.GET("/cache/status", cntrl.CacheStatus)
	admin.POST("/cache/:namespace/clear", cntrl.ClearCache)

	return svc, nil
}
