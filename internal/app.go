// Package internal contains core application functionality
package internal

import (
	"fmt"
	"log/slog"

	"github.com/karloscodes/cartridge"

	"statsq/internal/analytics"
	"statsq/internal/config"
	"statsq/internal/database"
	"statsq/internal/events"
	"statsq/internal/jobs"
	"statsq/internal/pkg/metrics"
	"statsq/internal/sites"
)

// Application wraps cartridge.Application with the statsq components
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager
	Metrics   *metrics.Metrics
	Scheduler *jobs.Scheduler
	AppConfig *config.Config

	logger *slog.Logger
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	return NewAppWithConfig(config.GetConfig())
}

// NewAppWithConfig creates a new application with the provided config and the default routes
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	return NewAppWithRoutes(cfg, nil)
}

// NewAppWithRoutes creates a new application. A nil routeMount mounts the default
// routes bound to the application's metrics registry.
func NewAppWithRoutes(cfg *config.Config, routeMount func(*cartridge.Server)) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	m := metrics.New()
	if routeMount == nil {
		routeMount = RouteMounter(m)
	}

	scheduler, err := jobs.NewScheduler(dbManager, logger, cfg, m)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize jobs: %w", err)
	}

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:            cfg,
		Logger:            logger,
		DBManager:         dbManager,
		RouteMountFunc:    routeMount,
		BackgroundWorkers: []cartridge.BackgroundWorker{scheduler},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Metrics:     m,
		Scheduler:   scheduler,
		AppConfig:   cfg,
		logger:      logger,
	}, nil
}

// Engine builds a query engine over the application database.
func (a *Application) Engine() *analytics.Engine {
	db := a.DBManager.GetConnection()
	opts := analytics.OptionsFromConfig(a.AppConfig)
	opts.Reader = events.NewStore(db)
	opts.Access = sites.NewStore(db)
	opts.Logger = a.logger
	opts.Metrics = a.Metrics
	return analytics.NewEngine(opts)
}
