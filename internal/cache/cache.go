// Package cache implements the fragment cache: pluggable byte-payload
// backends, the Selector that picks one per logical cache name, and the
// Storage facade callers use.
package cache

import (
	"context"

	fragcache "github.com/eugener/fragcache/internal"
)

// Backend is a key/value store for opaque fragment payloads.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on a miss
	// or an expired entry. Errors are reserved for store failures.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key, replacing any existing entry.
	Set(ctx context.Context, key string, value []byte, opts fragcache.EntryOptions) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
