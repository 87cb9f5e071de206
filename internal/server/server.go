// Package server implements the HTTP transport layer for fragcache.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	fragcache "github.com/eugener/fragcache/internal"
	"github.com/eugener/fragcache/internal/telemetry"
)

// Route names for the two logical caches under /v1/caches/{cache}.
const (
	CacheFragments            = "fragments"
	CacheDistributedFragments = "distributed-fragments"
)

const (
	entryPattern   = "/v1/caches/{cache}/entries/*"
	defaultMaxBody = 8 << 20
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// EntryStore is the cache surface the entry handlers drive. *cache.Storage
// satisfies it.
type EntryStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, opts fragcache.EntryOptions) error
	Remove(ctx context.Context, key string) error
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Caches         map[string]EntryStore // route name -> store
	ReadyCheck     ReadyChecker          // nil = always ready (for tests)
	Metrics        *telemetry.Metrics    // nil = no request metrics
	MetricsHandler http.Handler          // nil = no /metrics endpoint
	MaxBodyBytes   int64                 // 0 = 8 MiB
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = defaultMaxBody
	}
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Keys may contain slashes, so the key is the wildcard tail.
	r.Get(entryPattern, s.handleGetEntry)
	r.Put(entryPattern, s.handlePutEntry)
	r.Delete(entryPattern, s.handleDeleteEntry)

	return r
}

type server struct {
	deps Deps
}
