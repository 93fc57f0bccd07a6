package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"asset-proxy-go/internal/config"
	"asset-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The two
// proxy modes are an explicit two-branch dispatch: GET /proxy for explicit
// targets, and a catch-all for asset paths. Static routes (health, metrics)
// take precedence over the catch-all, so same-named assets on the origin are
// shadowed.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/statusz", health.Status)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(
			promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		))
	}

	e.GET("/proxy", proxy.HandleExplicit)
	e.GET("/*", proxy.HandleAsset)
}
