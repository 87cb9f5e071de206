package nats

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go/jetstream"

	fragcache "github.com/eugener/fragcache/internal"
)

const (
	defaultBucket  = "fragcache"
	defaultTimeout = 5 * time.Second
)

// KVConfig configures a KVBackend.
type KVConfig struct {
	Connect  Connector // nil = ConnectDefault()
	Bucket   string    // "" = "fragcache"
	MaxBytes int64     // 0 = unlimited
	MaxAge   time.Duration
	Replicas int
	Timeout  time.Duration // per operation; 0 = 5s
	Clock    clockwork.Clock
}

// KVBackend stores entries in a JetStream key-value bucket so every process
// sharing the bucket sees the same cache.
type KVBackend struct {
	kv      jetstream.KeyValue
	release closeFunc
	clock   clockwork.Clock
	timeout time.Duration
	closed  atomic.Bool
}

// NewKVBackend connects and creates (or updates) the bucket.
func NewKVBackend(ctx context.Context, cfg KVConfig) (*KVBackend, error) {
	connect := cfg.Connect
	if connect == nil {
		connect = ConnectDefault()
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	nc, release, err := connect()
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		release()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   bucket,
		Storage:  jetstream.FileStorage,
		MaxBytes: cfg.MaxBytes,
		TTL:      cfg.MaxAge,
		Replicas: cfg.Replicas,
	})
	if err != nil {
		release()
		return nil, fmt.Errorf("create kv bucket %q: %w", bucket, err)
	}

	return &KVBackend{kv: kv, release: release, clock: clock, timeout: timeout}, nil
}

// encodeKey maps arbitrary cache keys onto the NATS key charset.
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func (b *KVBackend) opContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if b.closed.Load() {
		return ctx, func() {}, fragcache.ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	return ctx, cancel, nil
}

// Get returns the live value under key. An expired entry is deleted and
// reported as a miss; a sliding entry has its deadline pushed forward.
func (b *KVBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel, err := b.opContext(ctx)
	defer cancel()
	if err != nil {
		return nil, false, err
	}

	k := encodeKey(key)
	entry, err := b.kv.Get(ctx, k)
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("nats kv get: %w", err)
	}

	env, err := unmarshalEnvelope(entry.Value())
	if err != nil {
		return nil, false, fmt.Errorf("nats kv get: %w", err)
	}

	now := b.clock.Now()
	if env.expired(now) {
		// Only delete the revision we saw; a newer write must survive.
		if err := b.kv.Delete(ctx, k, jetstream.LastRevision(entry.Revision())); err != nil {
			slog.LogAttrs(ctx, slog.LevelDebug, "expired entry not deleted",
				slog.String("key", k),
				slog.String("error", err.Error()),
			)
		}
		return nil, false, nil
	}

	if env.expiry.Sliding > 0 {
		refreshed := envelope{expiry: env.expiry, deadline: env.expiry.Deadline(now), payload: env.payload}
		if _, err := b.kv.Update(ctx, k, refreshed.marshal(), entry.Revision()); err != nil {
			slog.LogAttrs(ctx, slog.LevelDebug, "sliding refresh lost",
				slog.String("key", k),
				slog.String("error", err.Error()),
			)
		}
	}

	return env.payload, true, nil
}

// Set stores value under key.
func (b *KVBackend) Set(ctx context.Context, key string, value []byte, opts fragcache.EntryOptions) error {
	now := b.clock.Now()
	exp, err := opts.Resolve(now)
	if err != nil {
		return err
	}

	ctx, cancel, err := b.opContext(ctx)
	defer cancel()
	if err != nil {
		return err
	}

	env := envelope{expiry: exp, deadline: exp.Deadline(now), payload: value}
	if _, err := b.kv.Put(ctx, encodeKey(key), env.marshal()); err != nil {
		return fmt.Errorf("nats kv put: %w", err)
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (b *KVBackend) Remove(ctx context.Context, key string) error {
	ctx, cancel, err := b.opContext(ctx)
	defer cancel()
	if err != nil {
		return err
	}

	err = b.kv.Delete(ctx, encodeKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("nats kv delete: %w", err)
	}
	return nil
}

// Ping checks the bucket is reachable.
func (b *KVBackend) Ping(ctx context.Context) error {
	ctx, cancel, err := b.opContext(ctx)
	defer cancel()
	if err != nil {
		return err
	}
	if _, err := b.kv.Status(ctx); err != nil {
		return fmt.Errorf("nats kv status: %w", err)
	}
	return nil
}

// Close releases the NATS connection lease. Later calls fail with
// fragcache.ErrClosed.
func (b *KVBackend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.release()
	return nil
}
