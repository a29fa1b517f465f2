// Package config loads the querygate YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pario-ai/querygate/pkg/backend"
	"github.com/pario-ai/querygate/pkg/cache/durable"
	"github.com/pario-ai/querygate/pkg/cache/memory"
	"github.com/pario-ai/querygate/pkg/logging"
	"github.com/pario-ai/querygate/pkg/models"
	"github.com/pario-ai/querygate/pkg/ratelimit"
)

// Durable store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config holds all querygate configuration.
type Config struct {
	Listen string `yaml:"listen"`
	// APIKeys restricts the HTTP API to these bearer tokens when non-empty.
	APIKeys   []string             `yaml:"api_keys"`
	Logging   logging.Config       `yaml:"logging"`
	RateLimit ratelimit.Limits     `yaml:"rate_limit"`
	Ephemeral memory.Options       `yaml:"ephemeral"`
	Durable   DurableConfig        `yaml:"durable"`
	Backend   backend.Config       `yaml:"backend"`
	Gateway   GatewayConfig        `yaml:"gateway"`
	Recovery  RecoveryConfig       `yaml:"recovery"`
	Audit     models.HistoryConfig `yaml:"audit"`
	Metrics   MetricsConfig        `yaml:"metrics"`
}

// DurableConfig selects and tunes the persistent answer store.
type DurableConfig struct {
	Enabled bool `yaml:"enabled"`
	// Driver is sqlite, postgres or redis.
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite, a connection string for postgres and a
	// redis:// URL for redis.
	DSN           string        `yaml:"dsn"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxConns      int           `yaml:"max_conns"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig holds settings only the redis driver uses.
type RedisConfig struct {
	Password string        `yaml:"password"`
	Prefix   string        `yaml:"prefix"`
	Grace    time.Duration `yaml:"grace"`
}

// GatewayConfig tunes caching eligibility.
type GatewayConfig struct {
	RequiredKey string `yaml:"required_key"`
}

// RecoveryConfig points at an optional schema catalog override.
type RecoveryConfig struct {
	CatalogPath string `yaml:"catalog_path"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:    ":8080",
		Logging:   logging.Config{Level: "info", Format: "text"},
		RateLimit: ratelimit.Limits{PerSecond: 1, PerMinute: 20},
		Ephemeral: memory.DefaultOptions(),
		Durable: DurableConfig{
			Enabled:       true,
			Driver:        DriverSQLite,
			DSN:           "querygate.db",
			TTL:           durable.DefaultTTL,
			SweepInterval: time.Hour,
			MaxConns:      10,
		},
		Backend: backend.Config{
			URL:     "http://localhost:9000",
			Path:    "/query",
			Timeout: 120 * time.Second,
		},
		Audit: models.HistoryConfig{
			Enabled:        true,
			DBPath:         "querygate-history.db",
			RetentionDays:  30,
			StoreQuestions: true,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	e := c.Ephemeral
	if e.TTL <= 0 {
		errs = append(errs, errors.New("ephemeral.ttl must be positive"))
	}
	if e.MaxEntries <= 0 {
		errs = append(errs, errors.New("ephemeral.max_entries must be positive"))
	}
	if e.RetainEntries < 1 || e.RetainEntries > e.MaxEntries {
		errs = append(errs, fmt.Errorf("ephemeral.retain_entries must be between 1 and max_entries (%d)", e.MaxEntries))
	}

	if d := c.Durable; d.Enabled {
		switch d.Driver {
		case DriverSQLite, DriverPostgres, DriverRedis:
		default:
			errs = append(errs, fmt.Errorf("durable.driver: unknown driver %q", d.Driver))
		}
		if d.DSN == "" {
			errs = append(errs, errors.New("durable.dsn is required when the durable cache is enabled"))
		}
		if d.TTL <= 0 {
			errs = append(errs, errors.New("durable.ttl must be positive"))
		}
		if d.SweepInterval < 0 {
			errs = append(errs, errors.New("durable.sweep_interval must not be negative"))
		}
	}

	if c.Backend.Timeout < 0 {
		errs = append(errs, errors.New("backend.timeout must not be negative"))
	}

	if c.Audit.Enabled && c.Audit.DBPath == "" {
		errs = append(errs, errors.New("audit.db_path is required when history is enabled"))
	}
	if c.Audit.RetentionDays < 0 {
		errs = append(errs, errors.New("audit.retention_days must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
