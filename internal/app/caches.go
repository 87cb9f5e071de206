// Package app wires the fragment caches for the fragcache service.
package app

import (
	"fmt"
	"log/slog"
	"sync"

	fragcache "github.com/eugener/fragcache/internal"
	"github.com/eugener/fragcache/internal/cache"
)

// CacheBuilder collects cache registrations during startup. Build freezes it.
type CacheBuilder struct {
	mu           sync.Mutex
	limits       *cache.LimitsRegistry
	backend      cache.Backend
	selectorOpts []cache.SelectorOption
	storageOpts  []cache.StorageOption
	built        bool
}

// CacheServices is what Build hands to the rest of the process.
type CacheServices struct {
	Selector             *cache.Selector
	Fragments            *cache.Storage
	DistributedFragments *cache.Storage
}

// NewCacheBuilder returns a builder with no backend and default limits.
func NewCacheBuilder() *CacheBuilder {
	return &CacheBuilder{limits: cache.NewLimitsRegistry()}
}

// UseBackend makes b the backend for every logical cache, replacing the
// private in-process defaults.
func (cb *CacheBuilder) UseBackend(b cache.Backend) error {
	if b == nil {
		return fmt.Errorf("%w: backend is required", fragcache.ErrInvalidArgument)
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.built {
		return fragcache.ErrFrozen
	}
	cb.backend = b
	return nil
}

// UseSelectorOptions appends options passed to the selector at Build.
func (cb *CacheBuilder) UseSelectorOptions(opts ...cache.SelectorOption) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.built {
		return fragcache.ErrFrozen
	}
	cb.selectorOpts = append(cb.selectorOpts, opts...)
	return nil
}

// UseStorageOptions appends options applied to both facades at Build.
func (cb *CacheBuilder) UseStorageOptions(opts ...cache.StorageOption) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.built {
		return fragcache.ErrFrozen
	}
	cb.storageOpts = append(cb.storageOpts, opts...)
	return nil
}

// ConfigureLimits registers a limits callback for an arbitrary cache name.
func (cb *CacheBuilder) ConfigureLimits(name string, fn func(*fragcache.Limits)) error {
	return cb.limits.Configure(name, fn)
}

// ConfigureFragmentCacheLimits registers a limits callback for the
// in-process fragment cache.
func (cb *CacheBuilder) ConfigureFragmentCacheLimits(fn func(*fragcache.Limits)) error {
	return cb.limits.Configure(fragcache.FragmentCacheName, fn)
}

// ConfigureDistributedFragmentCacheDefaultLimits registers a limits callback
// for the distributed fragment cache. The limits only apply while no shared
// backend is in use.
func (cb *CacheBuilder) ConfigureDistributedFragmentCacheDefaultLimits(fn func(*fragcache.Limits)) error {
	return cb.limits.Configure(fragcache.DistributedFragmentCacheName, fn)
}

// Build freezes the configuration and constructs the selector and both
// facades. It fails if a configured limit is invalid or Build already ran.
func (cb *CacheBuilder) Build() (*CacheServices, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.built {
		return nil, fragcache.ErrFrozen
	}
	cb.built = true

	if err := cb.limits.Freeze(); err != nil {
		return nil, fmt.Errorf("cache limits: %w", err)
	}

	sel := cache.NewSelector(cb.backend, cb.limits, cb.selectorOpts...)
	svc := &CacheServices{
		Selector:             sel,
		Fragments:            cache.NewFragmentStorage(sel, cb.storageOpts...),
		DistributedFragments: cache.NewDistributedFragmentStorage(sel, cb.storageOpts...),
	}

	slog.Info("caches built", "external_backend", sel.External())
	return svc, nil
}
