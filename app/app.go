// Package app provides the public API for embedding statsq.
// It re-exports the application shell and the query engine.
package app

import (
	"log/slog"

	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"statsq/internal"
	"statsq/internal/analytics"
	"statsq/internal/config"
	"statsq/internal/events"
	"statsq/internal/filters"
	"statsq/internal/pkg/metrics"
	"statsq/internal/sites"
	"statsq/internal/timeframe"
)

// Re-export core types
type (
	Application = internal.Application
	Config      = config.Config
	Metrics     = metrics.Metrics
)

// Re-export query types
type (
	Engine                  = analytics.Engine
	EngineOptions           = analytics.EngineOptions
	QueryRequest            = analytics.QueryRequest
	Aggregation             = analytics.Aggregation
	Funnel                  = analytics.Funnel
	Filter                  = filters.Filter
	TimeData                = timeframe.TimeData
	Result                  = analytics.Result
	FieldValuesRequest      = analytics.FieldValuesRequest
	CustomPropertiesRequest = analytics.CustomPropertiesRequest
)

// Error helpers
var (
	IsValidation    = analytics.IsValidation
	IsAuthorization = analytics.IsAuthorization
	IsData          = analytics.IsData
	HTTPStatus      = analytics.HTTPStatus
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	return config.GetConfig()
}

// NewApp creates a new application with default routes
func NewApp() (*Application, error) {
	return internal.NewApp()
}

// NewAppWithRoutes creates a new application with custom route mounting
func NewAppWithRoutes(cfg *Config, routeMount func(*cartridge.Server)) (*Application, error) {
	return internal.NewAppWithRoutes(cfg, routeMount)
}

// MountRoutes mounts the stats API on srv, recording into m
func MountRoutes(srv *cartridge.Server, m *Metrics) {
	internal.MountRoutes(srv, m)
}

// NewMetrics creates a metrics registry for an embedding application.
func NewMetrics() *Metrics {
	return metrics.New()
}

// NewEngine builds a query engine over db, tuned by cfg. m may be nil.
func NewEngine(db *gorm.DB, cfg *Config, logger *slog.Logger, m *Metrics) *Engine {
	opts := analytics.OptionsFromConfig(cfg)
	opts.Reader = events.NewStore(db)
	opts.Access = sites.NewStore(db)
	opts.Logger = logger
	opts.Metrics = m
	return analytics.NewEngine(opts)
}
