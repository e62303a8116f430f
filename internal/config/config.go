// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Database types
const (
	SQLiteDatabase = "sqlite"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	PrivateKey  string   `mapstructure:"privatekey"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	// Query engine settings
	SessionTimeoutSeconds int    `mapstructure:"sessiontimeoutseconds"`
	QueryWorkers          int    `mapstructure:"queryworkers"`
	MaxIntervals          int    `mapstructure:"maxintervals"`
	FieldValuesLimit      int    `mapstructure:"fieldvalueslimit"`
	DefaultTimezone       string `mapstructure:"defaulttimezone"`
	MetricsEnabled        bool   `mapstructure:"metricsenabled"`

	// Job scheduling settings
	JobIntervalSeconds    int `mapstructure:"jobintervalseconds"`
	BackfillLookbackHours int `mapstructure:"backfilllookbackhours"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the process-wide configuration, loading it on first use.
// An invalid configuration is fatal.
func GetConfig() *Config {
	once.Do(func() {
		loaded, err := Load()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = loaded
	})
	return cfg
}

const defaultPrivateKey = "88888888888888888888888888888888"

var envBindings = map[string]string{
	"appname":               "STATSQ_APP_NAME",
	"appport":               "STATSQ_APP_PORT",
	"environment":           "STATSQ_ENV",
	"loglevel":              "STATSQ_LOG_LEVEL",
	"privatekey":            "STATSQ_PRIVATE_KEY",
	"storagepath":           "STATSQ_STORAGE_PATH",
	"publicdir":             "STATSQ_PUBLIC_DIR",
	"publicassetsurlprefix": "STATSQ_PUBLIC_ASSETS_URL_PREFIX",
	"logsdir":               "STATSQ_LOGS_DIR",
	"logsmaxsizeinmb":       "STATSQ_LOGS_MAX_SIZE_IN_MB",
	"logsmaxbackups":        "STATSQ_LOGS_MAX_BACKUPS",
	"logsmaxageindays":      "STATSQ_LOGS_MAX_AGE_IN_DAYS",
	"dbtype":                "STATSQ_DB_TYPE",
	"dbmaxopenconns":        "STATSQ_DB_MAX_OPEN_CONNS",
	"dbmaxidleconns":        "STATSQ_DB_MAX_IDLE_CONNS",
	"sessiontimeoutseconds": "STATSQ_SESSION_TIMEOUT_SECONDS",
	"queryworkers":          "STATSQ_QUERY_WORKERS",
	"maxintervals":          "STATSQ_MAX_INTERVALS",
	"fieldvalueslimit":      "STATSQ_FIELD_VALUES_LIMIT",
	"defaulttimezone":       "STATSQ_DEFAULT_TIMEZONE",
	"metricsenabled":        "STATSQ_METRICS_ENABLED",
	"jobintervalseconds":    "STATSQ_JOB_INTERVAL_SECONDS",
	"backfilllookbackhours": "STATSQ_BACKFILL_LOOKBACK_HOURS",
}

// ConfigFileEnv names an optional YAML or JSON file read before the environment.
// Environment variables win over file values.
const ConfigFileEnv = "STATSQ_CONFIG_FILE"

// Load reads defaults, the optional config file and the environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("appname", "statsq")
	v.SetDefault("appport", "3000")
	v.SetDefault("environment", Development)
	v.SetDefault("loglevel", string(LogLevelDebug))
	v.SetDefault("privatekey", defaultPrivateKey)
	v.SetDefault("storagepath", "storage")
	v.SetDefault("publicdir", "public")
	v.SetDefault("publicassetsurlprefix", "/")
	v.SetDefault("logsdir", "logs")
	v.SetDefault("logsmaxsizeinmb", 20)
	v.SetDefault("logsmaxbackups", 10)
	v.SetDefault("logsmaxageindays", 30)
	v.SetDefault("dbtype", SQLiteDatabase)
	v.SetDefault("dbmaxopenconns", 0)
	v.SetDefault("dbmaxidleconns", 0)
	v.SetDefault("sessiontimeoutseconds", 1800)
	v.SetDefault("queryworkers", 4)
	v.SetDefault("maxintervals", 1000)
	v.SetDefault("fieldvalueslimit", 100)
	v.SetDefault("defaulttimezone", "UTC")
	v.SetDefault("metricsenabled", true)
	v.SetDefault("jobintervalseconds", 60)
	v.SetDefault("backfilllookbackhours", 48)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if file := os.Getenv(ConfigFileEnv); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c.DatabaseName = c.GetDatabasePath()
	return c, nil
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validDBTypes := map[string]bool{
		SQLiteDatabase: true,
	}
	if !validDBTypes[c.DatabaseType] {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}

	if c.SessionTimeoutSeconds <= 0 {
		return fmt.Errorf("session timeout must be positive, got %d", c.SessionTimeoutSeconds)
	}
	if c.QueryWorkers <= 0 {
		return fmt.Errorf("query workers must be positive, got %d", c.QueryWorkers)
	}
	if c.MaxIntervals <= 0 {
		return fmt.Errorf("max intervals must be positive, got %d", c.MaxIntervals)
	}
	if c.FieldValuesLimit <= 0 {
		return fmt.Errorf("field values limit must be positive, got %d", c.FieldValuesLimit)
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("invalid default timezone %q: %w", c.DefaultTimezone, err)
	}

	if c.JobIntervalSeconds <= 0 {
		return fmt.Errorf("job interval must be positive, got %d", c.JobIntervalSeconds)
	}
	// Pageviews settle after one session timeout; a shorter lookback never finds any.
	if c.BackfillLookback() <= c.SessionTimeout() {
		return fmt.Errorf("backfill lookback (%v) must exceed the session timeout (%v)",
			c.BackfillLookback(), c.SessionTimeout())
	}

	if c.PrivateKey == "" {
		return fmt.Errorf("private key is required")
	}
	if c.Environment == Production && c.PrivateKey == defaultPrivateKey {
		return fmt.Errorf("production requires a unique STATSQ_PRIVATE_KEY (cannot use default)")
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// SessionTimeout is the inactivity gap that splits a visitor's pageviews into sessions.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}

// BackfillLookback bounds how far back the left_timestamp backfill looks for pageviews.
func (c *Config) BackfillLookback() time.Duration {
	return time.Duration(c.BackfillLookbackHours) * time.Hour
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1
// - Development/Production: 10 (concurrent interval reads)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
