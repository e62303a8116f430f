package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "statsq/api/v1"
	"statsq/internal/config"
	"statsq/internal/http"
	"statsq/internal/http/middleware"
	"statsq/internal/pkg/metrics"
)

// statsCORSConfig lets dashboards on other origins read stats.
var statsCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, " + v1.CallerHeader,
}

// MountAppRoutes mounts all application routes with a fresh metrics registry.
func MountAppRoutes(srv *cartridge.Server) {
	MountRoutes(srv, metrics.New())
}

// RouteMounter returns a mount function bound to m, for cartridge.ApplicationOptions.
func RouteMounter(m *metrics.Metrics) func(*cartridge.Server) {
	return func(srv *cartridge.Server) {
		MountRoutes(srv, m)
	}
}

// MountRoutes mounts the stats API, the health check and, when enabled, /metrics.
func MountRoutes(srv *cartridge.Server, m *metrics.Metrics) {
	cfg := config.GetConfig()
	logger := srv.GetLogger()

	// Rate limiting only in production, it would interfere with tests
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// Stats queries scan events, so keep the rate well below ingestion traffic
	statsRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(120),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Server-to-server API: no Sec-Fetch-Site check, read-only so no write lock
	statsAPIConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		EnableSecFetchSite: cartridge.Bool(false),
		WriteConcurrency:   false,
		CORSConfig:         statsCORSConfig,
		CustomMiddleware: []fiber.Handler{
			statsRateLimiter,
			middleware.RequireCaller(v1.CallerHeader, logger),
		},
	}

	internalConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
	}

	// === HEALTH ===
	srv.Get("/_health", http.HealthIndexAction, internalConfig)
	srv.Head("/_health", http.HealthIndexAction, internalConfig)

	if cfg.MetricsEnabled {
		srv.Get("/metrics", http.MetricsIndexAction(m), internalConfig)
	}

	// === STATS API ===
	stats := v1.NewStatsAPI(m)
	preflight := func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}

	srv.Post("/api/v1/sites/:siteId/stats", stats.QueryStatsHandler, statsAPIConfig)
	srv.Options("/api/v1/sites/:siteId/stats", preflight, statsAPIConfig)
	srv.Get("/api/v1/sites/:siteId/fields/:field/values", stats.FieldValuesHandler, statsAPIConfig)
	srv.Get("/api/v1/sites/:siteId/custom-properties", stats.CustomPropertiesHandler, statsAPIConfig)
}
