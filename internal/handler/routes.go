// Package handler serves the binary's own HTTP routes and attaches the route
// registry that endpoints mount on.
package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aitrios-ingest/internal/config"
	"aitrios-ingest/internal/metrics"
	"aitrios-ingest/internal/router"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Requests
// that match none of the static routes go to the registry.
func RegisterRoutes(e *echo.Echo, health *HealthHandler, reg *router.Registry, m *metrics.Metrics, cfg *config.Config) {
	e.GET("/healthz", health.Healthz)
	e.GET("/ingest/status", health.Status)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	reg.Attach(e)
}
