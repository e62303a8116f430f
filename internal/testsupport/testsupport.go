package testsupport

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"statsq/internal"
	"statsq/internal/config"
	"statsq/internal/database"
	"statsq/internal/events"
	"statsq/internal/sites"
)

// testDBCache caches test databases by test name to allow multiple calls
// within the same test to share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

// Ensure TestDBManager implements cartridge.DBManager
var _ cartridge.DBManager = (*TestDBManager)(nil)

// SetupTestDB creates a test database with all models migrated.
// Uses a named in-memory database with cache=shared to allow multiple connections
// to share the same database within a test. Caches the database by test name
// so multiple calls within the same test return the same database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Use root test name for caching so subtests share their parent's database
	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a test DB manager using cartridge's testsupport
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// CleanAllTables clears all non-system tables in the database
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)
	if len(tableNames) == 0 {
		return
	}

	db.Exec("PRAGMA foreign_keys = OFF")
	defer db.Exec("PRAGMA foreign_keys = ON")

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tableNames {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// TestConfig returns a config for tests with the engine defaults.
func TestConfig() *config.Config {
	return &config.Config{
		AppName:               "statsq",
		Environment:           config.Test,
		LogLevel:              config.LogLevelError,
		SessionTimeoutSeconds: 1800,
		QueryWorkers:          4,
		MaxIntervals:          1000,
		FieldValuesLimit:      100,
		DefaultTimezone:       "UTC",
		JobIntervalSeconds:    60,
		BackfillLookbackHours: 48,
	}
}

// FixedTimeProvider always returns the same instant.
type FixedTimeProvider struct {
	T time.Time
}

// Now returns the fixed instant in loc.
func (p *FixedTimeProvider) Now(loc *time.Location) time.Time {
	return p.T.In(loc)
}

// Str returns a pointer to s.
func Str(s string) *string {
	return &s
}

// EventOption customizes an event built by PageView or CustomEvent.
type EventOption func(*events.Event)

func WithHostname(v string) EventOption  { return func(e *events.Event) { e.Hostname = Str(v) } }
func WithReferrer(v string) EventOption  { return func(e *events.Event) { e.Referrer = Str(v) } }
func WithUTMSource(v string) EventOption { return func(e *events.Event) { e.UTMSource = Str(v) } }
func WithCountry(v string) EventOption   { return func(e *events.Event) { e.Country = Str(v) } }
func WithBrowser(v string) EventOption   { return func(e *events.Event) { e.Browser = Str(v) } }
func WithDevice(v string) EventOption    { return func(e *events.Event) { e.Device = Str(v) } }
func WithProps(v string) EventOption     { return func(e *events.Event) { e.CustomProperties = Str(v) } }

// WithRevenue sets the revenue from its decimal text.
func WithRevenue(v string) EventOption {
	return func(e *events.Event) {
		e.Revenue = decimal.NewNullDecimal(decimal.RequireFromString(v))
	}
}

// PageView builds a pageview event.
func PageView(siteID uint, visitor, path string, ts time.Time, opts ...EventOption) events.Event {
	e := events.Event{
		SiteID:      siteID,
		Type:        events.EventTypePageView,
		Path:        path,
		Timestamp:   ts.UTC(),
		VisitorHash: visitor,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// CustomEvent builds a custom event.
func CustomEvent(siteID uint, visitor, name, path string, ts time.Time, opts ...EventOption) events.Event {
	e := PageView(siteID, visitor, path, ts, opts...)
	e.Type = events.EventTypeCustomEvent
	e.Name = Str(name)
	return e
}

// InsertEvents stores events and returns them with their ids.
func InsertEvents(t *testing.T, db *gorm.DB, evs ...events.Event) []events.Event {
	t.Helper()
	require.NoError(t, events.NewStore(db).Insert(context.Background(), evs))
	return evs
}

// CreateTestSite creates a site and grants each caller access to it.
func CreateTestSite(t *testing.T, db *gorm.DB, domain string, callers ...string) *sites.Site {
	t.Helper()
	store := sites.NewStore(db)
	site, err := store.CreateSite(context.Background(), domain)
	require.NoError(t, err)
	for _, caller := range callers {
		require.NoError(t, store.Grant(context.Background(), site.ID, caller))
	}
	return site
}

// CreateMinimalTestApp creates a test Fiber app with all routes
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	dbManager := NewTestDBManager(db)
	appConfig := config.GetConfig()
	appConfig.Environment = config.Test

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = dbManager
	cfg.EnableSecFetchSite = false

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv)
	return srv.App()
}
