package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"github.com/maypok86/otter/v2"

	fragcache "github.com/eugener/fragcache/internal"
)

// entry is a stored payload plus its expiration state.
type entry struct {
	value      []byte
	expiry     fragcache.Expiry
	lastAccess atomic.Int64 // unix nanos; only advanced for sliding entries
}

func (e *entry) expired(now time.Time) bool {
	if e.expiry.Never() {
		return false
	}
	return e.expiry.Expired(time.Unix(0, e.lastAccess.Load()), now)
}

// evictor is the capacity-bounded map underneath Memory.
type evictor interface {
	get(key string) (*entry, bool)  // counts as use
	peek(key string) (*entry, bool) // does not count as use
	add(key string, e *entry)
	remove(key string)
}

// Memory is a private in-process backend bounded by entry count.
// Expired entries are dropped lazily when read.
type Memory struct {
	mu    sync.Mutex // orders writes against expired-entry removal
	store evictor
	clock clockwork.Clock
}

// MemoryOption configures a Memory backend.
type MemoryOption func(*Memory)

// WithMemoryClock sets the time source used for expiration.
func WithMemoryClock(c clockwork.Clock) MemoryOption {
	return func(m *Memory) {
		if c != nil {
			m.clock = c
		}
	}
}

// NewMemory creates an in-process backend. A non-positive MaxEntryCount
// falls back to fragcache.DefaultMaxEntryCount and an unknown policy to LRU.
func NewMemory(limits fragcache.Limits, opts ...MemoryOption) *Memory {
	size := limits.MaxEntryCount
	if size <= 0 {
		size = fragcache.DefaultMaxEntryCount
	}

	m := &Memory{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(m)
	}

	var err error
	switch limits.Policy {
	case fragcache.PolicyTinyLFU:
		m.store, err = newTinyLFU(size)
	default:
		m.store, err = newLRU(size)
	}
	if err != nil {
		// Both constructors only fail on a non-positive size, ruled out above.
		panic(fmt.Sprintf("cache: create memory backend: %v", err))
	}
	return m
}

// Get returns a copy of the stored value if present and not expired.
// Reading a sliding entry restarts its window.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := m.store.get(key)
	if !ok {
		return nil, false, nil
	}

	now := m.clock.Now()
	if e.expired(now) {
		m.removeIfCurrent(key, e)
		return nil, false, nil
	}
	if e.expiry.Sliding > 0 {
		e.lastAccess.Store(now.UnixNano())
	}
	return cloneBytes(e.value), true, nil
}

// Set stores a copy of value under key.
func (m *Memory) Set(_ context.Context, key string, value []byte, opts fragcache.EntryOptions) error {
	now := m.clock.Now()
	exp, err := opts.Resolve(now)
	if err != nil {
		return err
	}

	e := &entry{value: cloneBytes(value), expiry: exp}
	e.lastAccess.Store(now.UnixNano())

	m.mu.Lock()
	m.store.add(key, e)
	m.mu.Unlock()
	return nil
}

// Remove deletes key if present.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	m.store.remove(key)
	m.mu.Unlock()
	return nil
}

// removeIfCurrent deletes key only if it still maps to e, so a Set that
// raced with the expiry check is not lost.
func (m *Memory) removeIfCurrent(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.store.peek(key); ok && cur == e {
		m.store.remove(key)
	}
}

// --- LRU (hashicorp/golang-lru) ---

type lruEvictor struct {
	c *lru.Cache[string, *entry]
}

func newLRU(size int) (*lruEvictor, error) {
	c, err := lru.New[string, *entry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &lruEvictor{c: c}, nil
}

func (l *lruEvictor) get(key string) (*entry, bool)  { return l.c.Get(key) }
func (l *lruEvictor) peek(key string) (*entry, bool) { return l.c.Peek(key) }
func (l *lruEvictor) add(key string, e *entry)       { l.c.Add(key, e) }
func (l *lruEvictor) remove(key string)              { l.c.Remove(key) }

// --- W-TinyLFU (otter) ---

type tinyLFUEvictor struct {
	c *otter.Cache[string, *entry]
}

func newTinyLFU(size int) (*tinyLFUEvictor, error) {
	c, err := otter.New(&otter.Options[string, *entry]{
		MaximumSize: size,
	})
	if err != nil {
		return nil, fmt.Errorf("create tinylfu: %w", err)
	}
	return &tinyLFUEvictor{c: c}, nil
}

func (t *tinyLFUEvictor) get(key string) (*entry, bool) { return t.c.GetIfPresent(key) }

func (t *tinyLFUEvictor) peek(key string) (*entry, bool) {
	ent, ok := t.c.GetEntryQuietly(key)
	if !ok {
		return nil, false
	}
	return ent.Value, true
}

// add runs pending maintenance after the write. otter evicts from a buffer,
// so without it the cache can sit above MaximumSize until the next drain.
func (t *tinyLFUEvictor) add(key string, e *entry) {
	t.c.Set(key, e)
	t.c.CleanUp()
}

func (t *tinyLFUEvictor) remove(key string) { t.c.Invalidate(key) }

var _ Backend = (*Memory)(nil)
