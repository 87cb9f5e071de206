package worker

import (
	"context"
	"time"

	"github.com/rs/dnscache"
)

const defaultDNSRefreshInterval = 5 * time.Minute

// DNSRefresher keeps a dnscache.Resolver fresh, dropping hosts that were not
// looked up since the previous refresh.
type DNSRefresher struct {
	resolver *dnscache.Resolver
	interval time.Duration
}

// NewDNSRefresher creates a refresher. A non-positive interval uses 5m.
func NewDNSRefresher(resolver *dnscache.Resolver, interval time.Duration) *DNSRefresher {
	if interval <= 0 {
		interval = defaultDNSRefreshInterval
	}
	return &DNSRefresher{resolver: resolver, interval: interval}
}

// Run refreshes on a fixed interval until ctx is cancelled.
func (w *DNSRefresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.resolver.Refresh(true)
		}
	}
}
