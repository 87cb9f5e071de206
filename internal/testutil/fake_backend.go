// Package testutil provides test doubles shared across packages.
package testutil

import (
	"context"
	"sync"

	fragcache "github.com/eugener/fragcache/internal"
)

// FakeBackend is an in-memory cache backend that records calls and can be
// told to fail. It ignores expiration.
type FakeBackend struct {
	mu    sync.Mutex
	data  map[string][]byte
	opts  map[string]fragcache.EntryOptions
	calls []string

	GetErr error
	SetErr error
	DelErr error
}

// NewFakeBackend returns an empty FakeBackend.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		data: make(map[string][]byte),
		opts: make(map[string]fragcache.EntryOptions),
	}
}

// Get returns the stored value or GetErr.
func (f *FakeBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "get "+key)
	if f.GetErr != nil {
		return nil, false, f.GetErr
	}
	v, ok := f.data[key]
	return v, ok, nil
}

// Set stores value or returns SetErr.
func (f *FakeBackend) Set(_ context.Context, key string, value []byte, opts fragcache.EntryOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "set "+key)
	if f.SetErr != nil {
		return f.SetErr
	}
	f.data[key] = value
	f.opts[key] = opts
	return nil
}

// Remove deletes key or returns DelErr.
func (f *FakeBackend) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "remove "+key)
	if f.DelErr != nil {
		return f.DelErr
	}
	delete(f.data, key)
	delete(f.opts, key)
	return nil
}

// Calls returns the recorded operations as "op key" strings.
func (f *FakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Options returns the entry options last stored under key.
func (f *FakeBackend) Options(key string) fragcache.EntryOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts[key]
}
