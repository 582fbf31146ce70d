package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/graphcrawl/backend/internal/server/routes"
	"github.com/graphcrawl/backend/pkg/metrics"
)

func RegisterRoutes(e *echo.Echo, reg *metrics.Registry) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg.GetPrometheusRegistry(), promhttp.HandlerOpts{})))

	apiRoutes := e.Group("/api")

	// Query routes
	apiRoutes.POST("/suggestions", routes.GetSuggestionsHandler)
	apiRoutes.POST("/neighbors", routes.GetNeighborsHandler)

	// Crawl routes
	apiRoutes.POST("/crawls", routes.CreateCrawlHandler)
	apiRoutes.GET("/crawls/:id", routes.GetCrawlHandler)
}
