package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/eugener/fragcache/internal/telemetry"
)

// DefaultSweepInterval is how often expired rows are purged when no interval
// is configured.
const DefaultSweepInterval = 30 * time.Minute

// ExpiredDeleter is the persistence interface consumed by ExpirySweeper.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// ExpirySweeper periodically purges expired entries from a durable backend.
// Reads already treat expired entries as misses; sweeping only reclaims space.
type ExpirySweeper struct {
	store    ExpiredDeleter
	interval time.Duration
	metrics  *telemetry.Metrics // nil = no metrics
	clock    clockwork.Clock
}

// NewExpirySweeper creates a sweeper. A non-positive interval uses
// DefaultSweepInterval.
func NewExpirySweeper(store ExpiredDeleter, interval time.Duration, metrics *telemetry.Metrics) *ExpirySweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &ExpirySweeper{
		store:    store,
		interval: interval,
		metrics:  metrics,
		clock:    clockwork.NewRealClock(),
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (w *ExpirySweeper) Run(ctx context.Context) error {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			w.sweep(ctx)
		}
	}
}

func (w *ExpirySweeper) sweep(ctx context.Context) {
	start := w.clock.Now()
	n, err := w.store.DeleteExpired(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.LogAttrs(ctx, slog.LevelError, "expiry sweep failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if w.metrics != nil {
		w.metrics.ExpiredSwept.Add(float64(n))
	}
	slog.LogAttrs(ctx, slog.LevelDebug, "expiry sweep",
		slog.Int64("deleted", n),
		slog.Duration("took", w.clock.Since(start)),
	)
}
