// Package telemetry provides observability primitives for the fragment cache.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge
	CacheOps        *prometheus.CounterVec
	CacheOpDuration *prometheus.HistogramVec
	ExpiredSwept    prometheus.Counter
}

// Cache operation results used as the "result" label of CacheOps.
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultOK    = "ok"
	ResultError = "error"
)

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fragcache",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "fragcache",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fragcache",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		CacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fragcache",
			Name:      "cache_operations_total",
			Help:      "Total cache backend operations by cache, operation and result.",
		}, []string{"cache", "op", "result"}),

		CacheOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "fragcache",
			Name:                            "cache_operation_duration_seconds",
			Help:                            "Cache backend operation duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"cache", "op"}),

		ExpiredSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fragcache",
			Name:      "expired_entries_swept_total",
			Help:      "Total expired entries deleted by the background sweeper.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.CacheOps,
		m.CacheOpDuration,
		m.ExpiredSwept,
	)

	return m
}
