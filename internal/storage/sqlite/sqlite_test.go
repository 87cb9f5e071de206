package sqlite

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	fragcache "github.com/eugener/fragcache/internal"
)

func newTestBackend(t *testing.T) (*Backend, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	// Use a unique file-based temp DB for each test to avoid shared :memory: races
	path := t.TempDir() + "/test.db"
	b, err := New(path, WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	return b, clock
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()
	b, _ := newTestBackend(t)
	ctx := context.Background()

	if _, ok, err := b.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("miss: ok=%v err=%v", ok, err)
	}

	if err := b.Set(ctx, "k", []byte{1, 2, 3}, fragcache.EntryOptions{}); err != nil {
		t.Fatal("set:", err)
	}
	got, ok, err := b.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("value = %v, want [1 2 3]", got)
	}

	// Overwrite
	if err := b.Set(ctx, "k", []byte{4}, fragcache.EntryOptions{}); err != nil {
		t.Fatal("overwrite:", err)
	}
	got, _, _ = b.Get(ctx, "k")
	if !bytes.Equal(got, []byte{4}) {
		t.Errorf("value after overwrite = %v, want [4]", got)
	}

	// Empty value
	if err := b.Set(ctx, "empty", []byte{}, fragcache.EntryOptions{}); err != nil {
		t.Fatal("set empty:", err)
	}
	got, ok, _ = b.Get(ctx, "empty")
	if !ok || got == nil || len(got) != 0 {
		t.Errorf("empty value = %v ok=%v, want [] true", got, ok)
	}

	if err := b.Remove(ctx, "k"); err != nil {
		t.Fatal("remove:", err)
	}
	if _, ok, _ := b.Get(ctx, "k"); ok {
		t.Error("removed key still present")
	}
	if err := b.Remove(ctx, "never-there"); err != nil {
		t.Errorf("remove absent: %v", err)
	}
}

func TestCacheAbsoluteExpiration(t *testing.T) {
	t.Parallel()
	b, clock := newTestBackend(t)
	ctx := context.Background()

	if err := b.Set(ctx, "k", []byte("v"), fragcache.EntryOptions{AbsoluteExpirationRelativeToNow: time.Minute}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(59 * time.Second)
	if _, ok, _ := b.Get(ctx, "k"); !ok {
		t.Error("entry should be live before its deadline")
	}
	clock.Advance(time.Second)
	if _, ok, _ := b.Get(ctx, "k"); ok {
		t.Error("entry should be gone at its deadline")
	}
}

func TestCacheSlidingExpiration(t *testing.T) {
	t.Parallel()
	b, clock := newTestBackend(t)
	ctx := context.Background()

	opts := fragcache.EntryOptions{SlidingExpiration: 10 * time.Second}
	if err := b.Set(ctx, "k", []byte("v"), opts); err != nil {
		t.Fatal(err)
	}

	clock.Advance(9 * time.Second)
	if _, ok, _ := b.Get(ctx, "k"); !ok {
		t.Fatal("hit expected at +9s")
	}
	clock.Advance(9 * time.Second)
	if _, ok, _ := b.Get(ctx, "k"); !ok {
		t.Fatal("hit expected at +18s after refresh")
	}
	clock.Advance(10 * time.Second)
	if _, ok, _ := b.Get(ctx, "k"); ok {
		t.Error("entry idle for a full window should be gone")
	}
}

func TestCacheSlidingCappedByAbsolute(t *testing.T) {
	t.Parallel()
	b, clock := newTestBackend(t)
	ctx := context.Background()

	opts := fragcache.EntryOptions{
		AbsoluteExpirationRelativeToNow: 15 * time.Second,
		SlidingExpiration:               10 * time.Second,
	}
	if err := b.Set(ctx, "k", []byte("v"), opts); err != nil {
		t.Fatal(err)
	}
	clock.Advance(8 * time.Second)
	if _, ok, _ := b.Get(ctx, "k"); !ok {
		t.Fatal("hit expected at +8s")
	}
	clock.Advance(7 * time.Second)
	if _, ok, _ := b.Get(ctx, "k"); ok {
		t.Error("absolute deadline should win over the refreshed window")
	}
}

func TestCachePastAbsoluteRejected(t *testing.T) {
	t.Parallel()
	b, clock := newTestBackend(t)

	err := b.Set(context.Background(), "k", []byte("v"), fragcache.EntryOptions{
		AbsoluteExpiration: clock.Now().Add(-time.Second),
	})
	if err == nil {
		t.Fatal("past absolute expiration should be rejected")
	}
}

func TestDeleteExpired(t *testing.T) {
	t.Parallel()
	b, clock := newTestBackend(t)
	ctx := context.Background()

	b.Set(ctx, "short", []byte("v"), fragcache.EntryOptions{AbsoluteExpirationRelativeToNow: time.Second})
	b.Set(ctx, "slide", []byte("v"), fragcache.EntryOptions{SlidingExpiration: 2 * time.Second})
	b.Set(ctx, "forever", []byte("v"), fragcache.EntryOptions{})
	b.Set(ctx, "long", []byte("v"), fragcache.EntryOptions{AbsoluteExpirationRelativeToNow: time.Hour})

	clock.Advance(5 * time.Second)
	n, err := b.DeleteExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}

	var count int
	if err := b.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("remaining rows = %d, want 2", count)
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	t.Parallel()
	b, _ := newTestBackend(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				if err := b.Set(ctx, "shared", []byte{byte(i)}, fragcache.EntryOptions{}); err != nil {
					t.Error(err)
					return
				}
				if _, _, err := b.Get(ctx, "shared"); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestPing(t *testing.T) {
	t.Parallel()
	b, _ := newTestBackend(t)
	if err := b.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}
