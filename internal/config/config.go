// Package config loads service configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	ESI     ESIConfig     `yaml:"esi"`
	Cache   CacheConfig   `yaml:"cache"`
	SDE     SDEConfig     `yaml:"sde"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr" env:"EVEDATA_ADDR"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"EVEDATA_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"EVEDATA_WRITE_TIMEOUT"`
}

// ESIConfig holds the upstream client settings.
type ESIConfig struct {
	BaseURL   string `yaml:"base_url" env:"EVEDATA_ESI_BASE_URL"`
	UserAgent string `yaml:"user_agent" env:"EVEDATA_USER_AGENT"`

	// RateLimit and RateWindow seed the error budget until the server
	// reports authoritative values.
	RateLimit  int           `yaml:"rate_limit" env:"EVEDATA_ESI_RATE_LIMIT"`
	RateWindow time.Duration `yaml:"rate_window" env:"EVEDATA_ESI_RATE_WINDOW"`

	MaxRetries         int           `yaml:"max_retries" env:"EVEDATA_ESI_MAX_RETRIES"`
	MaxThrottleRetries int           `yaml:"max_throttle_retries" env:"EVEDATA_ESI_MAX_THROTTLE_RETRIES"`
	RequestTimeout     time.Duration `yaml:"request_timeout" env:"EVEDATA_ESI_REQUEST_TIMEOUT"`
}

// CacheConfig selects and tunes the response cache backend.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend" env:"EVEDATA_CACHE_BACKEND"`

	// MaxEntryAge is the eviction ceiling for unusable entries.
	MaxEntryAge time.Duration `yaml:"max_entry_age" env:"EVEDATA_CACHE_MAX_ENTRY_AGE"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for the redis cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"EVEDATA_REDIS_ADDR"`
	Password string `yaml:"password" env:"EVEDATA_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"EVEDATA_REDIS_DB"`
}

// SDEConfig holds the snapshot sync settings.
type SDEConfig struct {
	ManifestURL   string `yaml:"manifest_url" env:"EVEDATA_SDE_MANIFEST_URL"`
	WorkDir       string `yaml:"work_dir" env:"EVEDATA_SDE_WORK_DIR"`
	KeepSnapshots int    `yaml:"keep_snapshots" env:"EVEDATA_SDE_KEEP_SNAPSHOTS"`
}

// LoggingConfig holds the logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"EVEDATA_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"EVEDATA_LOG_PRETTY"`
}

// Default returns the baseline configuration before file and environment
// overrides are applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		ESI: ESIConfig{
			BaseURL:            "https://esi.evetech.net",
			RateLimit:          100,
			RateWindow:         60 * time.Second,
			MaxRetries:         3,
			MaxThrottleRetries: 2,
			RequestTimeout:     30 * time.Second,
		},
		Cache: CacheConfig{
			Backend:     "memory",
			MaxEntryAge: 24 * time.Hour,
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		SDE: SDEConfig{
			ManifestURL:   "https://eve-static-data-export.s3-eu-west-1.amazonaws.com/tranquility/manifest.json",
			WorkDir:       "./data/sde",
			KeepSnapshots: 1,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file (when path
// is non-empty), then environment variables. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for values that would fail at
// startup.
func (c *Config) Validate() error {
	if c.ESI.UserAgent == "" {
		return fmt.Errorf("esi.user_agent is required (format: \"AppName/Version (contact@example.com)\")")
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be \"memory\" or \"redis\", got %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr is required for the redis backend")
	}
	if c.SDE.ManifestURL == "" {
		return fmt.Errorf("sde.manifest_url is required")
	}
	if c.SDE.WorkDir == "" {
		return fmt.Errorf("sde.work_dir is required")
	}
	return nil
}
