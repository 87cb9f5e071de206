package cache

import (
	"errors"
	"fmt"
	"sync"

	fragcache "github.com/eugener/fragcache/internal"
)

// LimitsLookup returns the limits configured for a logical cache name.
type LimitsLookup interface {
	Limits(name string) fragcache.Limits
}

// LimitsRegistry maps logical cache names to limit configuration. It is
// populated during startup and frozen before the first backend is built.
type LimitsRegistry struct {
	mu        sync.RWMutex
	configure map[string][]func(*fragcache.Limits)
	frozen    bool
}

// NewLimitsRegistry returns an empty registry.
func NewLimitsRegistry() *LimitsRegistry {
	return &LimitsRegistry{configure: make(map[string][]func(*fragcache.Limits))}
}

// Configure appends fn to the callbacks applied for name. Callbacks run in
// registration order on top of fragcache.DefaultLimits.
func (r *LimitsRegistry) Configure(name string, fn func(*fragcache.Limits)) error {
	if fn == nil {
		return fmt.Errorf("%w: configure callback is required", fragcache.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fragcache.ErrFrozen
	}
	r.configure[name] = append(r.configure[name], fn)
	return nil
}

// Freeze rejects further configuration and validates every configured name.
func (r *LimitsRegistry) Freeze() error {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for name := range r.configure {
		if err := r.resolveLocked(name).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("limits for %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Limits returns the effective limits for name. Unknown names get the defaults.
func (r *LimitsRegistry) Limits(name string) fragcache.Limits {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(name)
}

func (r *LimitsRegistry) resolveLocked(name string) fragcache.Limits {
	l := fragcache.DefaultLimits()
	for _, fn := range r.configure[name] {
		fn(&l)
	}
	return l
}

var _ LimitsLookup = (*LimitsRegistry)(nil)
