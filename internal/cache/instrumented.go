package cache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	fragcache "github.com/eugener/fragcache/internal"
	"github.com/eugener/fragcache/internal/telemetry"
)

// instrumented decorates a Backend with metrics and spans. Results and
// errors pass through untouched.
type instrumented struct {
	name    string
	next    Backend
	metrics *telemetry.Metrics // nil = no metrics
	tracer  trace.Tracer
}

func instrument(next Backend, name string, m *telemetry.Metrics, tracer trace.Tracer) *instrumented {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &instrumented{name: name, next: next, metrics: m, tracer: tracer}
}

func (i *instrumented) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, span := i.start(ctx, "cache.get")
	defer span.End()

	start := time.Now()
	val, ok, err := i.next.Get(ctx, key)

	result := telemetry.ResultMiss
	if ok {
		result = telemetry.ResultHit
	}
	i.finish(span, "get", result, start, err)
	span.SetAttributes(attribute.Bool("cache.hit", ok))
	return val, ok, err
}

func (i *instrumented) Set(ctx context.Context, key string, value []byte, opts fragcache.EntryOptions) error {
	ctx, span := i.start(ctx, "cache.set")
	defer span.End()
	span.SetAttributes(attribute.Int("cache.value_bytes", len(value)))

	start := time.Now()
	err := i.next.Set(ctx, key, value, opts)
	i.finish(span, "set", telemetry.ResultOK, start, err)
	return err
}

func (i *instrumented) Remove(ctx context.Context, key string) error {
	ctx, span := i.start(ctx, "cache.remove")
	defer span.End()

	start := time.Now()
	err := i.next.Remove(ctx, key)
	i.finish(span, "remove", telemetry.ResultOK, start, err)
	return err
}

func (i *instrumented) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("cache.name", i.name)),
	)
}

func (i *instrumented) finish(span trace.Span, op, result string, start time.Time, err error) {
	if err != nil {
		result = telemetry.ResultError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if i.metrics == nil {
		return
	}
	i.metrics.CacheOps.WithLabelValues(i.name, op, result).Inc()
	i.metrics.CacheOpDuration.WithLabelValues(i.name, op).Observe(time.Since(start).Seconds())
}

var _ Backend = (*instrumented)(nil)
