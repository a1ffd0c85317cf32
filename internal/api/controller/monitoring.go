package controller

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ougirez/cmregistry/internal/pkg/cache"
	"github.com/ougirez/cmregistry/internal/pkg/constants"
	"github.com/ougirez/cmregistry/internal/pkg/logger"
)

// Monitoring serves the egress dashboard at GET /api/monitoring/.
func (cn *Controller) Monitoring(c echo.Context) error {
	return c.JSON(http.StatusOK, cn.monitor.Dashboard())
}

// TechnologyStats serves GET /api/statistics/technologies.
func (cn *Controller) TechnologyStats(c echo.Context) error {
	stats, err := cn.search.TechnologyStats(ctx(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (cn *Controller) CacheStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, cn.cache.Status(ctx(c)))
}

func (cn *Controller) ClearCache(c echo.Context) error {
	ns, err := cache.ParseNamespace(c.Param("namespace"))
	if err != nil {
		return constants.BadRequestf("%v", err)
	}

	deleted, err := cn.cache.ClearNamespace(ctx(c), ns)
	if err != nil {
		return constants.Upstreamf(err, "clear namespace %s", ns)
	}
	logger.Infof(ctx(c), "cleared %d keys from %s", deleted, ns)

	type response struct {
		Namespace string `json:"namespace"`
		Deleted   int    `json:"deleted"`
	}
	return c.JSON(http.StatusOK, response{Namespace: string(ns), Deleted: deleted})
}
