// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store drivers accepted in STORE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all configuration values for the API server.
// Values are populated by Load from environment variables.
type Config struct {
	// Port is the TCP port the HTTP server listens on.
	Port string `env:"PORT" envDefault:"8080"`

	// StoreDriver selects the document store: "postgres" or "memory".
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`

	// DatabaseURL is the Postgres connection string. Required for the postgres driver.
	DatabaseURL string `env:"DATABASE_URL"`

	// MigrateOnStart applies pending migrations before the server starts.
	MigrateOnStart bool `env:"MIGRATE_ON_START" envDefault:"true"`

	// LogLevel controls the minimum log level.
	// Valid values: debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// CORSOrigins is the list of allowed cross-origin request origins.
	// Set CORS_ORIGINS to a comma-separated list to override.
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`

	// JWTSecret is the HS256 key bearer tokens are verified with. Required.
	JWTSecret string `env:"AUTH_JWT_SECRET"`

	// JWTIssuer, when set, must match the iss claim of every token.
	JWTIssuer string `env:"AUTH_JWT_ISSUER"`

	// MirrorOpTimeout bounds each store write issued by the trip mirror.
	MirrorOpTimeout time.Duration `env:"MIRROR_OP_TIMEOUT" envDefault:"10s"`

	// MirrorBatchWindow is how long the postgres store gathers notifications
	// into one change batch.
	MirrorBatchWindow time.Duration `env:"MIRROR_BATCH_WINDOW" envDefault:"50ms"`
}

// Load reads configuration from environment variables and returns a Config.
// Returns an error listing any required variables that are not set.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.CORSOrigins = trimAll(cfg.CORSOrigins)
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	switch cfg.StoreDriver {
	case DriverPostgres, DriverMemory:
	default:
		return Config{}, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, cfg.StoreDriver)
	}

	var missing []string
	if cfg.StoreDriver == DriverPostgres && cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
	}

	if cfg.MirrorOpTimeout <= 0 {
		return Config{}, fmt.Errorf("MIRROR_OP_TIMEOUT must be positive, got %s", cfg.MirrorOpTimeout)
	}
	if cfg.MirrorBatchWindow <= 0 {
		return Config{}, fmt.Errorf("MIRROR_BATCH_WINDOW must be positive, got %s", cfg.MirrorBatchWindow)
	}

	return cfg, nil
}

// trimAll trims every entry and drops the empty ones.
func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
