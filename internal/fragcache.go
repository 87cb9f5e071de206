// Package fragcache defines domain types for the fragment cache.
// This package has no project imports -- it is the dependency root.
package fragcache

import (
	"context"
	"fmt"
	"time"
)

// --- Logical caches ---

// Logical cache names. A facade looks up the limits of its private in-process
// backend by name, so the two caches never share limit configuration.
const (
	FragmentCacheName            = "fragcache.FragmentCache"
	DistributedFragmentCacheName = "fragcache.DistributedFragmentCache"
)

// DefaultMaxEntryCount bounds a private in-process backend when no limits
// were configured for its cache name.
const DefaultMaxEntryCount = 1000

// Policy selects how a private in-process backend picks eviction victims.
type Policy string

const (
	// PolicyLRU evicts the least recently used entry. Reads and writes both
	// count as use. Eviction is synchronous and deterministic.
	PolicyLRU Policy = "lru"
	// PolicyTinyLFU uses otter's W-TinyLFU admission. Better hit rates under
	// skewed load, but the victim is not predictable.
	PolicyTinyLFU Policy = "tinylfu"
)

// Limits configures a private in-process backend.
type Limits struct {
	MaxEntryCount int
	Policy        Policy
}

// DefaultLimits returns the limits applied to an unconfigured cache name.
func DefaultLimits() Limits {
	return Limits{MaxEntryCount: DefaultMaxEntryCount, Policy: PolicyLRU}
}

// Validate reports whether l can build a backend.
func (l Limits) Validate() error {
	if l.MaxEntryCount <= 0 {
		return fmt.Errorf("%w: max entry count must be positive, got %d", ErrInvalidArgument, l.MaxEntryCount)
	}
	switch l.Policy {
	case "", PolicyLRU, PolicyTinyLFU:
		return nil
	default:
		return fmt.Errorf("%w: unknown eviction policy %q", ErrInvalidArgument, l.Policy)
	}
}

// --- Entry options ---

// EntryOptions controls when a stored fragment expires. Zero values are unset.
//
// AbsoluteExpirationRelativeToNow takes precedence over AbsoluteExpiration.
// When both an absolute deadline and a sliding window are set, the entry
// expires at whichever comes first.
type EntryOptions struct {
	AbsoluteExpiration              time.Time
	AbsoluteExpirationRelativeToNow time.Duration
	SlidingExpiration               time.Duration
}

// Validate checks the clock-independent constraints on o.
func (o EntryOptions) Validate() error {
	if o.AbsoluteExpirationRelativeToNow < 0 {
		return fmt.Errorf("%w: absolute expiration relative to now must not be negative", ErrInvalidArgument)
	}
	if o.SlidingExpiration < 0 {
		return fmt.Errorf("%w: sliding expiration must not be negative", ErrInvalidArgument)
	}
	return nil
}

// Resolve turns o into an Expiry anchored at now. An absolute deadline that
// is not in the future is rejected.
func (o EntryOptions) Resolve(now time.Time) (Expiry, error) {
	if err := o.Validate(); err != nil {
		return Expiry{}, err
	}

	var e Expiry
	switch {
	case o.AbsoluteExpirationRelativeToNow > 0:
		e.AbsoluteAt = now.Add(o.AbsoluteExpirationRelativeToNow)
	case !o.AbsoluteExpiration.IsZero():
		if !o.AbsoluteExpiration.After(now) {
			return Expiry{}, fmt.Errorf("%w: absolute expiration %s is not in the future",
				ErrInvalidArgument, o.AbsoluteExpiration.Format(time.RFC3339))
		}
		e.AbsoluteAt = o.AbsoluteExpiration
	}
	e.Sliding = o.SlidingExpiration
	return e, nil
}

// Expiry is the resolved expiration policy of one stored entry.
type Expiry struct {
	AbsoluteAt time.Time     // zero = no absolute deadline
	Sliding    time.Duration // zero = no sliding window
}

// Never reports whether the entry never expires.
func (e Expiry) Never() bool {
	return e.AbsoluteAt.IsZero() && e.Sliding <= 0
}

// Deadline returns the instant the entry expires if it is not accessed again
// after lastAccess. The zero time means it never expires.
func (e Expiry) Deadline(lastAccess time.Time) time.Time {
	var d time.Time
	if e.Sliding > 0 {
		d = lastAccess.Add(e.Sliding)
	}
	if !e.AbsoluteAt.IsZero() && (d.IsZero() || e.AbsoluteAt.Before(d)) {
		d = e.AbsoluteAt
	}
	return d
}

// Expired reports whether an entry last accessed at lastAccess is dead at now.
func (e Expiry) Expired(lastAccess, now time.Time) bool {
	d := e.Deadline(lastAccess)
	return !d.IsZero() && !now.Before(d)
}

// --- Context keys ---

type contextKey int

const ctxKeyRequestID contextKey = 0

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}
