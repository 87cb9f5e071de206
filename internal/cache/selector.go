package cache

import (
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	fragcache "github.com/eugener/fragcache/internal"
)

// Selector decides which backend serves a logical cache. An externally
// supplied backend wins for every name; otherwise each name gets its own
// lazily built in-process Memory backend sized by its configured limits.
type Selector struct {
	external Backend
	limits   LimitsLookup
	clock    clockwork.Clock

	mu      sync.Mutex
	private map[string]*Memory
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithSelectorClock sets the time source for private backends.
func WithSelectorClock(c clockwork.Clock) SelectorOption {
	return func(s *Selector) {
		s.clock = c
	}
}

// NewSelector creates a Selector. external may be nil, in which case private
// backends are built from limits. A nil limits lookup applies the defaults.
func NewSelector(external Backend, limits LimitsLookup, opts ...SelectorOption) *Selector {
	s := &Selector{
		external: external,
		limits:   limits,
		private:  make(map[string]*Memory),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the backend for name. It never fails and accepts any name.
func (s *Selector) Backend(name string) Backend {
	if s.external != nil {
		return s.external
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.private[name]; ok {
		return m
	}

	limits := fragcache.DefaultLimits()
	if s.limits != nil {
		limits = s.limits.Limits(name)
	}
	m := NewMemory(limits, WithMemoryClock(s.clock))
	s.private[name] = m

	slog.Debug("private cache backend created",
		"cache", name,
		"max_entries", limits.MaxEntryCount,
		"policy", string(limits.Policy),
	)
	return m
}

// External reports whether an externally supplied backend is in use.
func (s *Selector) External() bool {
	return s.external != nil
}

func (s *Selector) privateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.private)
}
