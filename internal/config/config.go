// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"

	fragcache "github.com/eugener/fragcache/internal"
)

// Backend kinds for cache.backend.
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
	BackendSQLite = "sqlite"
)

// Config is the top-level fragcache configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Cache     CacheConfig     `yaml:"cache"`
	NATS      NATSConfig      `yaml:"nats"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// SlogLevel maps Level onto a slog.Level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// CacheConfig selects the shared backend and per-cache limits.
type CacheConfig struct {
	Backend              string       `yaml:"backend"` // memory, nats, sqlite
	Fragments            LimitsConfig `yaml:"fragments"`
	DistributedFragments LimitsConfig `yaml:"distributed_fragments"`
}

// LimitsConfig overrides the in-process limits of one logical cache.
// Zero values keep the defaults.
type LimitsConfig struct {
	MaxEntries int    `yaml:"max_entries"`
	Policy     string `yaml:"policy"` // lru, tinylfu
}

// Apply copies the configured overrides onto l.
func (c LimitsConfig) Apply(l *fragcache.Limits) {
	if c.MaxEntries != 0 {
		l.MaxEntryCount = c.MaxEntries
	}
	if c.Policy != "" {
		l.Policy = fragcache.Policy(c.Policy)
	}
}

// NATSConfig holds JetStream key-value backend settings.
type NATSConfig struct {
	URL                string        `yaml:"url"`
	Bucket             string        `yaml:"bucket"`
	MaxBytes           int64         `yaml:"max_bytes"`
	MaxAge             time.Duration `yaml:"max_age"`
	Replicas           int           `yaml:"replicas"`
	Timeout            time.Duration `yaml:"timeout"`
	DNSCache           bool          `yaml:"dns_cache"`
	DNSRefreshInterval time.Duration `yaml:"dns_refresh_interval"`
}

// SQLiteConfig holds SQLite backend settings.
type SQLiteConfig struct {
	DSN           string        `yaml:"dsn"` // file path or ":memory:"
	SweepInterval time.Duration `yaml:"sweep_interval"`
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
	Insecure   bool    `yaml:"insecure"`    // plaintext gRPC
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
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

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    8 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Cache: CacheConfig{
			Backend: BackendMemory,
		},
		NATS: NATSConfig{
			Bucket:             "fragcache",
			Timeout:            5 * time.Second,
			DNSRefreshInterval: 5 * time.Minute,
		},
		SQLite: SQLiteConfig{
			DSN:           "fragcache.db",
			SweepInterval: 30 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{SampleRate: 1.0},
		},
	}
}

// Load reads and parses a YAML config file, expanding environment variables.
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

	switch c.Cache.Backend {
	case BackendMemory, BackendNATS, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend))
	}
	errs = append(errs,
		c.Cache.Fragments.validate("cache.fragments"),
		c.Cache.DistributedFragments.validate("cache.distributed_fragments"),
	)

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format))
	}
	if rate := c.Telemetry.Tracing.SampleRate; rate < 0 || rate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.tracing.sample_rate: %v out of range [0,1]", rate))
	}
	if c.Cache.Backend == BackendSQLite && c.SQLite.DSN == "" {
		errs = append(errs, errors.New("sqlite.dsn: required for the sqlite backend"))
	}
	return errors.Join(errs...)
}

func (c LimitsConfig) validate(path string) error {
	l := fragcache.DefaultLimits()
	c.Apply(&l)
	if err := l.Validate(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
