package database

import (
	"fmt"
	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"statsq/internal/config"
	"statsq/internal/events"
	"statsq/internal/sites"
)

// DBManager is the cartridge sqlite manager plus the event log schema.
type DBManager struct {
	*sqlite.Manager
	logger *slog.Logger
}

// NewDBManager opens the event log database in WAL mode.
func NewDBManager(cfg *config.Config, logger *slog.Logger) *DBManager {
	sqliteCfg := sqlite.Config{
		Path:         cfg.DatabaseName,
		MaxOpenConns: cfg.GetMaxOpenConns(),
		MaxIdleConns: cfg.GetMaxIdleConns(),
		Logger:       logger,
		EnableWAL:    true,
		TxImmediate:  true,
		BusyTimeout:  5000,
	}

	return &DBManager{
		Manager: sqlite.NewManager(sqliteCfg),
		logger:  logger,
	}
}

// Models lists every table the application migrates.
func Models() []any {
	return []any{
		&events.Event{},
		&sites.Site{},
		&sites.Membership{},
	}
}

// partialIndexes cannot be declared through gorm tags.
var partialIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_events_pending_left ON events (timestamp)
		WHERE type = 'pageview' AND left_timestamp IS NULL`,
}

// Init initializes the database connection.
func (dm *DBManager) Init() error {
	_, err := dm.Manager.Connect()
	return err
}

// MigrateDatabase creates or updates the schema.
func (dm *DBManager) MigrateDatabase() error {
	db := dm.GetConnection()
	if db == nil {
		return gorm.ErrInvalidDB
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(Models()...); err != nil {
			return err
		}
		for _, stmt := range partialIndexes {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("create index: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		dm.logger.Error("Failed to auto-migrate database", slog.Any("error", err))
		return err
	}

	if err := dm.CheckpointWAL("FULL"); err != nil {
		dm.logger.Warn("Failed to checkpoint WAL after migration", slog.Any("error", err))
	}

	dm.logger.Info("Database migration completed successfully",
		slog.Int("models", len(Models())),
		slog.Int("partial_indexes", len(partialIndexes)))
	return nil
}
