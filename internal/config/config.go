package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Security       SecurityConfig
	Administration AdministrationConfig
	Scheduler      SchedulerConfig
	Stock          StockConfig
}

type ServerConfig struct {
	Port            string        `mapstructure:"PORT"`
	Environment     string        `mapstructure:"ENVIRONMENT"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"DATABASE_DRIVER"`
	Path     string `mapstructure:"DATABASE_PATH"`
	URL      string `mapstructure:"DATABASE_URL"`
	MaxConns int32  `mapstructure:"DB_MAX_CONNS"`
	MinConns int32  `mapstructure:"DB_MIN_CONNS"`
}

type SecurityConfig struct {
	JWTSecret         string        `mapstructure:"JWT_SECRET"`
	TokenDuration     time.Duration `mapstructure:"TOKEN_DURATION"`
	RateLimitRequests int           `mapstructure:"RATE_LIMIT_REQUESTS"`
	RateLimitWindow   time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`
	HSTSEnabled       bool          `mapstructure:"HSTS_ENABLED"`
}

// AdministrationConfig holds the fallback window thresholds used when no
// settings row exists, and the zone scheduled times are read in
type AdministrationConfig struct {
	ThresholdBefore int    `mapstructure:"ADMIN_THRESHOLD_BEFORE"`
	ThresholdAfter  int    `mapstructure:"ADMIN_THRESHOLD_AFTER"`
	Timezone        string `mapstructure:"TIMEZONE"`
}

type SchedulerConfig struct {
	Enabled      bool   `mapstructure:"SCHEDULER_ENABLED"`
	SnapshotSpec string `mapstructure:"SNAPSHOT_SCHEDULE"`
	AlertSpec    string `mapstructure:"STOCK_ALERT_SCHEDULE"`
	SummarySpec  string `mapstructure:"SUMMARY_SCHEDULE"` // empty disables the weekly summary
}

type StockConfig struct {
	AlertDays      int  `mapstructure:"STOCK_ALERT_DAYS"`
	InferFromNotes bool `mapstructure:"LEDGER_INFER_FROM_NOTES"`
}

var defaults = map[string]any{
	"PORT":                    "8080",
	"ENVIRONMENT":             "development",
	"LOG_LEVEL":               "info",
	"CORS_ORIGINS":            "http://localhost:3000",
	"SHUTDOWN_TIMEOUT":        "30s",
	"DATABASE_DRIVER":         "sqlite",
	"DATABASE_PATH":           "./data/mar.db",
	"DATABASE_URL":            "",
	"DB_MAX_CONNS":            20,
	"DB_MIN_CONNS":            2,
	"JWT_SECRET":              "",
	"TOKEN_DURATION":          "12h",
	"RATE_LIMIT_REQUESTS":     100,
	"RATE_LIMIT_WINDOW":       "1m",
	"HSTS_ENABLED":            true,
	"ADMIN_THRESHOLD_BEFORE":  30,
	"ADMIN_THRESHOLD_AFTER":   30,
	"TIMEZONE":                "UTC",
	"SCHEDULER_ENABLED":       true,
	"SNAPSHOT_SCHEDULE":       "0 0 * * *",
	"STOCK_ALERT_SCHEDULE":    "0 9 * * *",
	"SUMMARY_SCHEDULE":        "0 6 * * 1",
	"STOCK_ALERT_DAYS":        10,
	"LEDGER_INFER_FROM_NOTES": false,
}

// Load reads configuration from the environment and an optional .env file
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}

	// A missing .env is fine
	_ = v.ReadInConfig()

	cfg := &Config{}
	for _, section := range []any{&cfg.Server, &cfg.Database, &cfg.Security, &cfg.Administration, &cfg.Scheduler, &cfg.Stock} {
		if err := v.Unmarshal(section); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if len(cfg.Server.CORSOrigins) == 1 && strings.Contains(cfg.Server.CORSOrigins[0], ",") {
		cfg.Server.CORSOrigins = strings.Split(cfg.Server.CORSOrigins[0], ",")
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration is safe to run with
func (c *Config) Validate() error {
	if c.Security.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	if len(c.Security.JWTSecret) < 32 {
		return ErrWeakJWTSecret
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return &ConfigError{"DATABASE_PATH is required for the sqlite driver"}
		}
	case "postgres":
		if c.Database.URL == "" {
			return &ConfigError{"DATABASE_URL is required for the postgres driver"}
		}
	default:
		return &ConfigError{fmt.Sprintf("DATABASE_DRIVER must be sqlite or postgres, got %q", c.Database.Driver)}
	}

	if c.Administration.ThresholdBefore < 0 || c.Administration.ThresholdAfter < 0 {
		return &ConfigError{"ADMIN_THRESHOLD_BEFORE and ADMIN_THRESHOLD_AFTER must not be negative"}
	}
	if _, err := time.LoadLocation(c.Administration.Timezone); err != nil {
		return &ConfigError{fmt.Sprintf("TIMEZONE %q is not a known zone", c.Administration.Timezone)}
	}
	if c.Stock.AlertDays < 0 {
		return &ConfigError{"STOCK_ALERT_DAYS must not be negative"}
	}
	if c.Security.RateLimitRequests <= 0 || c.Security.RateLimitWindow <= 0 {
		return &ConfigError{"RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive"}
	}

	return nil
}

// Location returns the administration time zone. Validate has already
// checked it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Administration.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

var (
	ErrMissingJWTSecret = &ConfigError{"JWT_SECRET environment variable is required"}
	ErrWeakJWTSecret    = &ConfigError{"JWT_SECRET must be at least 32 characters"}
)

type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
