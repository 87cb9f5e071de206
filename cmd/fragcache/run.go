package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	natsgo "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	fragcache "github.com/eugener/fragcache/internal"
	"github.com/eugener/fragcache/internal/app"
	"github.com/eugener/fragcache/internal/cache"
	"github.com/eugener/fragcache/internal/cache/nats"
	"github.com/eugener/fragcache/internal/config"
	"github.com/eugener/fragcache/internal/server"
	"github.com/eugener/fragcache/internal/storage/sqlite"
	"github.com/eugener/fragcache/internal/telemetry"
	"github.com/eugener/fragcache/internal/worker"
)

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	slog.Info("starting fragcache", "version", version, "addr", cfg.Server.Addr, "backend", cfg.Cache.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Telemetry
	var (
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
	)
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, telemetry.TracingOptions{
			Endpoint:   cfg.Telemetry.Tracing.Endpoint,
			Insecure:   cfg.Telemetry.Tracing.Insecure,
			SampleRate: cfg.Telemetry.Tracing.SampleRate,
			Version:    version,
		})
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
	}

	// Shared backend
	shared, err := openBackend(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	defer shared.close()

	// Caches
	builder := app.NewCacheBuilder()
	if shared.backend != nil {
		if err := builder.UseBackend(shared.backend); err != nil {
			return err
		}
	}
	if err := builder.ConfigureFragmentCacheLimits(cfg.Cache.Fragments.Apply); err != nil {
		return err
	}
	if err := builder.ConfigureDistributedFragmentCacheDefaultLimits(cfg.Cache.DistributedFragments.Apply); err != nil {
		return err
	}
	storageOpts := []cache.StorageOption{}
	if metrics != nil {
		storageOpts = append(storageOpts, cache.WithMetrics(metrics))
	}
	if cfg.Telemetry.Tracing.Enabled {
		storageOpts = append(storageOpts, cache.WithTracer(telemetry.Tracer("fragcache/cache")))
	}
	if err := builder.UseStorageOptions(storageOpts...); err != nil {
		return err
	}
	caches, err := builder.Build()
	if err != nil {
		return err
	}

	// Create HTTP server
	handler := server.New(server.Deps{
		Caches: map[string]server.EntryStore{
			server.CacheFragments:            caches.Fragments,
			server.CacheDistributedFragments: caches.DistributedFragments,
		},
		ReadyCheck:     shared.ready,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Background workers
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	workerErr := make(chan error, 1)
	go func() { workerErr <- worker.NewRunner(shared.workers...).Run(workerCtx) }()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("fragcache ready", "addr", cfg.Server.Addr)

wait:
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down")
			break wait
		case err := <-errCh:
			return err
		case err := <-workerErr:
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}
			workerErr = nil // workers done; keep serving until signalled
		}
	}

	// Shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := stopWorkers(shutdownCtx, cancelWorkers, workerErr); err != nil {
		return err
	}

	slog.Info("fragcache stopped")
	return nil
}

// stopWorkers cancels the workers and waits for the runner to return, so the
// backend is not closed under a running sweep. A nil done channel means the
// runner already finished.
func stopWorkers(ctx context.Context, cancel context.CancelFunc, done <-chan error) error {
	cancel()
	if done == nil {
		return nil
	}
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("worker: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}

func setupLogging(c config.LogConfig) {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	var h slog.Handler
	if c.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// sharedBackend is the optional external backend plus what it needs at runtime.
type sharedBackend struct {
	backend cache.Backend       // nil = private in-process caches
	ready   server.ReadyChecker // nil = always ready
	workers []worker.Worker
	close   func() error
}

func openBackend(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (*sharedBackend, error) {
	switch cfg.Cache.Backend {
	case config.BackendNATS:
		var opts []natsgo.Option
		var workers []worker.Worker
		if cfg.NATS.DNSCache {
			resolver := &dnscache.Resolver{}
			opts = append(opts, nats.WithDNSCache(resolver, cfg.NATS.Timeout))
			workers = append(workers, worker.NewDNSRefresher(resolver, cfg.NATS.DNSRefreshInterval))
		}
		connect := nats.ConnectDefault(opts...)
		if cfg.NATS.URL != "" {
			connect = nats.ConnectURL(cfg.NATS.URL, opts...)
		}
		kv, err := nats.NewKVBackend(ctx, nats.KVConfig{
			Connect:  connect,
			Bucket:   cfg.NATS.Bucket,
			MaxBytes: cfg.NATS.MaxBytes,
			MaxAge:   cfg.NATS.MaxAge,
			Replicas: cfg.NATS.Replicas,
			Timeout:  cfg.NATS.Timeout,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("nats backend connected", "bucket", cfg.NATS.Bucket)
		return &sharedBackend{backend: kv, ready: kv.Ping, workers: workers, close: kv.Close}, nil

	case config.BackendSQLite:
		db, err := sqlite.New(cfg.SQLite.DSN)
		if err != nil {
			return nil, err
		}
		slog.Info("sqlite backend opened", "dsn", cfg.SQLite.DSN)
		return &sharedBackend{
			backend: db,
			ready:   db.Ping,
			workers: []worker.Worker{worker.NewExpirySweeper(db, cfg.SQLite.SweepInterval, metrics)},
			close:   db.Close,
		}, nil

	case config.BackendMemory:
		return &sharedBackend{close: func() error { return nil }}, nil

	default:
		return nil, fmt.Errorf("%w: unknown cache backend %q", fragcache.ErrInvalidArgument, cfg.Cache.Backend)
	}
}
