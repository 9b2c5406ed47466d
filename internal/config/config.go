// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"

	respcache "github.com/eugener/respcache/internal"
)

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Remote    RemoteConfig    `yaml:"remote"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AdminTokens     []string      `yaml:"admin_tokens"` // empty = operator routes open
}

// DatabaseConfig holds SQLite settings for the generation ledger.
type DatabaseConfig struct {
	DSN               string        `yaml:"dsn"`       // file path or ":memory:"
	Retention         time.Duration `yaml:"retention"` // 0 = keep forever
	RetentionInterval time.Duration `yaml:"retention_interval"`
}

// CacheConfig holds settings shared by both tiers.
type CacheConfig struct {
	Namespace          string                   `yaml:"namespace"`
	ComputeTimeout     time.Duration            `yaml:"compute_timeout"`
	SkipRoundTripCheck bool                     `yaml:"skip_roundtrip_check"`
	TTL                map[string]time.Duration `yaml:"ttl"` // category name -> TTL
	Local              LocalConfig              `yaml:"local"`
}

// LocalConfig holds in-process tier settings.
type LocalConfig struct {
	Engine        string        `yaml:"engine"` // "lru" or "tinylfu"
	MaxEntries    int           `yaml:"max_entries"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RemoteConfig holds Redis tier settings.
type RemoteConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Addr           string        `yaml:"addr"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	PoolSize       int           `yaml:"pool_size"`
	PoolMode       string        `yaml:"pool_mode"` // "wait" or "fail_fast"
	PoolWait       time.Duration `yaml:"pool_wait"`
	OpTimeout      time.Duration `yaml:"op_timeout"`
	HealthTimeout  time.Duration `yaml:"health_timeout"`
	Cooldown       time.Duration `yaml:"cooldown"`
	WriteMode      string        `yaml:"write_mode"` // "async" or "sync"
	HealthInterval time.Duration `yaml:"health_interval"`
}

// UpstreamConfig holds the text generation API settings.
type UpstreamConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	TimeoutMs int    `yaml:"timeout_ms"`
	MaxRPM    int64  `yaml:"max_rpm"` // 0 = unlimited
	MaxTPM    int64  `yaml:"max_tpm"` // 0 = unlimited
	DNSCache  bool   `yaml:"dns_cache"`

	Auth    string   `yaml:"auth"` // "api_key", "gcp", "aws" or "none"
	Region  string   `yaml:"region"`
	Service string   `yaml:"service"`
	Scopes  []string `yaml:"scopes"`
}

// Timeout returns the upstream request timeout.
func (u UpstreamConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutMs) * time.Millisecond
}

// TTLs resolves the configured TTLs on top of the defaults. Call Validate
// first; unknown names are skipped here.
func (c CacheConfig) TTLs() respcache.TTLTable {
	t := respcache.DefaultTTLs()
	for name, d := range c.TTL {
		if cat, err := respcache.ParseCategory(name); err == nil {
			t[cat] = d
		}
	}
	return t
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:               "respcache.db",
			Retention:         30 * 24 * time.Hour,
			RetentionInterval: time.Hour,
		},
		Cache: CacheConfig{
			Namespace:      "respcache",
			ComputeTimeout: 60 * time.Second,
			Local: LocalConfig{
				Engine:        "lru",
				MaxEntries:    10_000,
				SweepInterval: time.Minute,
			},
		},
		Remote: RemoteConfig{
			Addr:           "localhost:6379",
			PoolSize:       10,
			PoolMode:       "wait",
			PoolWait:       100 * time.Millisecond,
			OpTimeout:      250 * time.Millisecond,
			HealthTimeout:  time.Second,
			Cooldown:       30 * time.Second,
			WriteMode:      "async",
			HealthInterval: 15 * time.Second,
		},
		Upstream: UpstreamConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			TimeoutMs: 30_000,
			MaxRPM:    60,
			DNSCache:  true,
		},
	}
}

// Load reads and parses a YAML config file, expanding environment variables,
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	for name, d := range c.Cache.TTL {
		if _, err := respcache.ParseCategory(name); err != nil {
			errs = append(errs, fmt.Errorf("cache.ttl: %w", err))
			continue
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("cache.ttl.%s: must be positive", name))
		}
	}
	if c.Cache.Local.MaxEntries <= 0 {
		errs = append(errs, errors.New("cache.local.max_entries: must be positive"))
	}
	switch c.Cache.Local.Engine {
	case "lru", "tinylfu":
	default:
		errs = append(errs, fmt.Errorf("cache.local.engine: unknown engine %q", c.Cache.Local.Engine))
	}
	if c.Cache.Local.SweepInterval <= 0 {
		errs = append(errs, errors.New("cache.local.sweep_interval: must be positive"))
	}
	if c.Cache.ComputeTimeout < 0 {
		errs = append(errs, errors.New("cache.compute_timeout: must not be negative"))
	}

	if c.Remote.Enabled {
		if c.Remote.Addr == "" {
			errs = append(errs, errors.New("remote.addr: required when remote is enabled"))
		}
		if c.Remote.PoolSize <= 0 {
			errs = append(errs, errors.New("remote.pool_size: must be positive"))
		}
		if c.Remote.OpTimeout <= 0 {
			errs = append(errs, errors.New("remote.op_timeout: must be positive"))
		}
		if c.Remote.HealthInterval <= 0 {
			errs = append(errs, errors.New("remote.health_interval: must be positive"))
		}
	}
	switch c.Remote.PoolMode {
	case "", "wait", "fail_fast":
	default:
		errs = append(errs, fmt.Errorf("remote.pool_mode: unknown mode %q", c.Remote.PoolMode))
	}
	switch c.Remote.WriteMode {
	case "", "async", "sync":
	default:
		errs = append(errs, fmt.Errorf("remote.write_mode: unknown mode %q", c.Remote.WriteMode))
	}

	if c.Database.Retention < 0 {
		errs = append(errs, errors.New("database.retention: must not be negative"))
	}
	if c.Database.Retention > 0 && c.Database.RetentionInterval <= 0 {
		errs = append(errs, errors.New("database.retention_interval: must be positive when retention is set"))
	}

	if c.Upstream.MaxRPM < 0 || c.Upstream.MaxTPM < 0 {
		errs = append(errs, errors.New("upstream.max_rpm, upstream.max_tpm: must not be negative"))
	}
	switch c.Upstream.Auth {
	case "", "api_key", "gcp", "none":
	case "aws":
		if c.Upstream.Region == "" {
			errs = append(errs, errors.New("upstream.region: required for aws auth"))
		}
	default:
		errs = append(errs, fmt.Errorf("upstream.auth: unknown mode %q", c.Upstream.Auth))
	}
	if c.Telemetry.Tracing.Enabled && c.Telemetry.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.tracing.endpoint: required when tracing is enabled"))
	}
	return errors.Join(errs...)
}
