package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the hive service.
// Environment variables are automatically parsed from the HIVE_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Persistence: postgres for shared deployments, sqlite for a
	// single-process local install.
	DBDriver    string `envconfig:"DB_DRIVER" default:"sqlite"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"./data/hive.db"`

	// External agent service (Letta). No default credentials: production
	// deployments must supply these out-of-band.
	LettaBaseURL        string `envconfig:"LETTA_BASE_URL" default:"http://localhost:8283"`
	LettaAPIKey         string `envconfig:"LETTA_API_KEY" default:""`
	LettaTimeoutSeconds int    `envconfig:"LETTA_TIMEOUT_SECONDS" default:"30"`

	// Auth
	JWTSecret     string `envconfig:"JWT_SECRET" default:""`
	TokenTTLHours int    `envconfig:"TOKEN_TTL_HOURS" default:"168"`

	// Outbox sweep (reconciliation retry)
	OutboxBatchSize       int  `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
	OutboxIntervalSeconds int  `envconfig:"OUTBOX_INTERVAL_SECONDS" default:"5"`
	OutboxInProcess       bool `envconfig:"OUTBOX_INPROCESS" default:"true"`

	// Health checking
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2"`
}

// ResolveDefaults validates the driver selection and cross-field
// requirements that envconfig alone cannot express.
func (c *Config) ResolveDefaults() error {
	switch c.DBDriver {
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("HIVE_POSTGRES_DSN is required when DB_DRIVER=postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("HIVE_SQLITE_PATH is required when DB_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}

	if c.JWTSecret == "" && c.Environment == EnvProduction {
		return fmt.Errorf("HIVE_JWT_SECRET is required in production")
	}
	if c.TokenTTLHours <= 0 {
		return fmt.Errorf("TOKEN_TTL_HOURS must be positive")
	}
	return nil
}

// New creates a new Config by parsing environment variables.
// Environment variables should be prefixed with HIVE_,
// e.g. HIVE_HTTP_PORT, HIVE_LETTA_BASE_URL.
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("HIVE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewForTesting creates a config specifically for testing.
func NewForTesting() *Config {
	return &Config{
		Environment:               EnvTesting,
		HTTPPort:                  8080,
		DBDriver:                  "sqlite",
		SQLitePath:                ":memory:",
		LettaBaseURL:              "http://localhost:8283",
		JWTSecret:                 "test-secret",
		TokenTTLHours:             1,
		OutboxBatchSize:           10,
		OutboxIntervalSeconds:     1,
		HealthIntervalSeconds:     1,
		HealthProbeTimeoutSeconds: 1,
	}
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool { return c.Environment == EnvTesting }

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool { return c.Environment == EnvProduction }

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string { return fmt.Sprintf(":%d", c.HTTPPort) }
