package cache

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	fragcache "github.com/eugener/fragcache/internal"
	"github.com/eugener/fragcache/internal/telemetry"
)

var (
	errKeyRequired   = fmt.Errorf("%w: key is required", fragcache.ErrInvalidArgument)
	errValueRequired = fmt.Errorf("%w: value is required", fragcache.ErrInvalidArgument)
)

// Storage is the get/set surface over whichever backend the Selector picked
// for its cache name. The backend is resolved once, at construction.
//
// Storage validates arguments and otherwise forwards calls unchanged: backend
// errors are returned as-is, and ctx is the only source of cancellation.
type Storage struct {
	name    string
	backend Backend
}

// StorageOption configures a Storage.
type StorageOption func(*storageConfig)

type storageConfig struct {
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// WithMetrics records per-operation counters and latency.
func WithMetrics(m *telemetry.Metrics) StorageOption {
	return func(c *storageConfig) { c.metrics = m }
}

// WithTracer wraps each backend call in a span.
func WithTracer(t trace.Tracer) StorageOption {
	return func(c *storageConfig) { c.tracer = t }
}

// NewStorage creates the facade for the logical cache name.
func NewStorage(sel *Selector, name string, opts ...StorageOption) *Storage {
	var cfg storageConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	backend := sel.Backend(name)
	if cfg.metrics != nil || cfg.tracer != nil {
		backend = instrument(backend, name, cfg.metrics, cfg.tracer)
	}
	return &Storage{name: name, backend: backend}
}

// NewFragmentStorage creates the facade for the in-process fragment cache.
func NewFragmentStorage(sel *Selector, opts ...StorageOption) *Storage {
	return NewStorage(sel, fragcache.FragmentCacheName, opts...)
}

// NewDistributedFragmentStorage creates the facade for the distributed fragment cache.
func NewDistributedFragmentStorage(sel *Selector, opts ...StorageOption) *Storage {
	return NewStorage(sel, fragcache.DistributedFragmentCacheName, opts...)
}

// Name returns the logical cache name.
func (s *Storage) Name() string { return s.name }

// Get returns the value stored under key. A miss is (nil, false, nil).
func (s *Storage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, errKeyRequired
	}
	return s.backend.Get(ctx, key)
}

// Set stores value under key. A nil value is rejected; an empty one is stored.
func (s *Storage) Set(ctx context.Context, key string, value []byte, opts fragcache.EntryOptions) error {
	if key == "" {
		return errKeyRequired
	}
	if value == nil {
		return errValueRequired
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	return s.backend.Set(ctx, key, value, opts)
}

// Remove deletes key.
func (s *Storage) Remove(ctx context.Context, key string) error {
	if key == "" {
		return errKeyRequired
	}
	return s.backend.Remove(ctx, key)
}
