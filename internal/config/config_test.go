package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	fragcache "github.com/eugener/fragcache/internal"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  addr: ":9090"
  read_timeout: 10s
log:
  level: debug
  format: json
cache:
  backend: nats
  fragments:
    max_entries: 500
  distributed_fragments:
    max_entries: 2000
    policy: tinylfu
nats:
  url: nats://cache:4222
  bucket: pages
  max_age: 1h
  dns_cache: true
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("read timeout = %v, want 10s", cfg.Server.ReadTimeout)
	}
	if cfg.Log.SlogLevel() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", cfg.Log.SlogLevel())
	}
	if cfg.Cache.Backend != BackendNATS {
		t.Errorf("backend = %q, want %q", cfg.Cache.Backend, BackendNATS)
	}
	if cfg.NATS.URL != "nats://cache:4222" || cfg.NATS.Bucket != "pages" {
		t.Errorf("nats = %+v", cfg.NATS)
	}
	if cfg.NATS.MaxAge != time.Hour {
		t.Errorf("nats max age = %v, want 1h", cfg.NATS.MaxAge)
	}
	if cfg.NATS.Timeout != 5*time.Second {
		t.Errorf("nats timeout = %v, want default 5s", cfg.NATS.Timeout)
	}

	l := fragcache.DefaultLimits()
	cfg.Cache.DistributedFragments.Apply(&l)
	if l.MaxEntryCount != 2000 || l.Policy != fragcache.PolicyTinyLFU {
		t.Errorf("distributed limits = %+v", l)
	}
}

func TestExpandEnv(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv
	t.Setenv("TEST_NATS_URL", "nats://from-env:4222")

	cfg, err := Load(writeConfig(t, "nats:\n  url: ${TEST_NATS_URL}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NATS.URL != "nats://from-env:4222" {
		t.Errorf("nats url = %q, want expanded env value", cfg.NATS.URL)
	}

	// Unset variables are left as-is.
	result := expandEnv([]byte("key: ${FRAGCACHE_SURELY_UNSET_VAR}"))
	if string(result) != "key: ${FRAGCACHE_SURELY_UNSET_VAR}" {
		t.Errorf("expandEnv = %q", string(result))
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr = %q, want %q", cfg.Server.Addr, ":8080")
	}
	if cfg.Cache.Backend != BackendMemory {
		t.Errorf("default backend = %q, want %q", cfg.Cache.Backend, BackendMemory)
	}
	if cfg.SQLite.DSN != "fragcache.db" {
		t.Errorf("default dsn = %q, want %q", cfg.SQLite.DSN, "fragcache.db")
	}
	if cfg.SQLite.SweepInterval != 30*time.Minute {
		t.Errorf("default sweep interval = %v, want 30m", cfg.SQLite.SweepInterval)
	}
	if cfg.Log.SlogLevel() != slog.LevelInfo {
		t.Errorf("default log level = %v, want info", cfg.Log.SlogLevel())
	}

	l := fragcache.DefaultLimits()
	cfg.Cache.Fragments.Apply(&l)
	if l != fragcache.DefaultLimits() {
		t.Errorf("empty limits config changed defaults: %+v", l)
	}
}

func TestLoadInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown backend", "cache:\n  backend: redis\n", "cache.backend"},
		{"negative max entries", "cache:\n  fragments:\n    max_entries: -5\n", "cache.fragments"},
		{"unknown policy", "cache:\n  distributed_fragments:\n    policy: fifo\n", "cache.distributed_fragments"},
		{"bad log format", "log:\n  format: xml\n", "log.format"},
		{"sample rate", "telemetry:\n  tracing:\n    sample_rate: 2\n", "sample_rate"},
		{"sqlite without dsn", "cache:\n  backend: sqlite\nsqlite:\n  dsn: \"\"\n", "sqlite.dsn"},
		{"malformed yaml", "cache: [", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSlogLevelFallback(t *testing.T) {
	t.Parallel()
	if got := (LogConfig{Level: "loud"}).SlogLevel(); got != slog.LevelInfo {
		t.Errorf("level = %v, want info", got)
	}
	if got := (LogConfig{Level: "WARN"}).SlogLevel(); got != slog.LevelWarn {
		t.Errorf("level = %v, want warn", got)
	}
}
