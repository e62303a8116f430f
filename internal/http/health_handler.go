package http

import (
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"statsq/internal/events"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	DBStatus  string    `json:"db_status"`
	Schema    string    `json:"schema"`
}

// HealthIndexAction reports database reachability and whether the events table exists.
func HealthIndexAction(ctx *cartridge.Context) error {
	health := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		DBStatus:  "ok",
		Schema:    "ok",
	}

	db := ctx.DBManager.GetConnection()
	if db == nil {
		ctx.Logger.Error("Database connection unavailable")
		health.DBStatus = "error"
		health.Schema = "unknown"
	} else if sqlDB, err := db.DB(); err != nil {
		ctx.Logger.Error("Database connection error", slog.Any("error", err))
		health.DBStatus = "error"
		health.Schema = "unknown"
	} else if err := sqlDB.PingContext(ctx.UserContext()); err != nil {
		ctx.Logger.Error("Database ping failed", slog.Any("error", err))
		health.DBStatus = "error"
		health.Schema = "unknown"
	} else if !db.Migrator().HasTable(&events.Event{}) {
		ctx.Logger.Warn("Events table missing, run migrations")
		health.Schema = "missing"
	}

	if health.DBStatus != "ok" || health.Schema != "ok" {
		health.Status = "degraded"
	}
	return ctx.JSON(health)
}
