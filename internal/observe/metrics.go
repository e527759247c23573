// Package observe provides application-wide observability primitives for
// lingopack: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all lingopack metrics.
const meterName = "github.com/lingopack/lingopack"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks per-message worker stage latency. Use with
	// attributes:
	//   attribute.String("role", ...), attribute.String("outcome", ...)
	StageDuration metric.Float64Histogram

	// EngineDuration tracks external engine call latency (STT, translation,
	// scoring). Use with attributes:
	//   attribute.String("engine", ...), attribute.String("provider", ...)
	EngineDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// PackageBytes tracks the size of written package files.
	PackageBytes metric.Int64Histogram

	// --- Counters ---

	// TasksCreated counts accepted ingress tasks. Use with attribute:
	//   attribute.String("type", ...)
	TasksCreated metric.Int64Counter

	// MessagesConsumed counts consumed broker messages. Use with attributes:
	//   attribute.String("topic", ...), attribute.String("outcome", ...)
	MessagesConsumed metric.Int64Counter

	// MessagesPublished counts published broker messages. Use with attribute:
	//   attribute.String("topic", ...)
	MessagesPublished metric.Int64Counter

	// --- Gauges ---

	// BatchSize reports the packaging worker's current adaptive batch size.
	BatchSize metric.Int64Gauge
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// pipeline stages that wait on LLM and STT backends.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// byteBuckets defines histogram bucket boundaries for package file sizes.
var byteBuckets = []float64{
	1 << 10, 4 << 10, 16 << 10, 64 << 10, 256 << 10, 1 << 20, 4 << 20, 16 << 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("lingopack.stage.duration",
		metric.WithDescription("Per-message worker stage latency by role and outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EngineDuration, err = m.Float64Histogram("lingopack.engine.duration",
		metric.WithDescription("External engine call latency by engine and provider."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("lingopack.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.PackageBytes, err = m.Int64Histogram("lingopack.package.bytes",
		metric.WithDescription("Size of written package files."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(byteBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TasksCreated, err = m.Int64Counter("lingopack.tasks.created",
		metric.WithDescription("Total accepted ingress tasks by type."),
	); err != nil {
		return nil, err
	}
	if met.MessagesConsumed, err = m.Int64Counter("lingopack.messages.consumed",
		metric.WithDescription("Total consumed broker messages by topic and outcome."),
	); err != nil {
		return nil, err
	}
	if met.MessagesPublished, err = m.Int64Counter("lingopack.messages.published",
		metric.WithDescription("Total published broker messages by topic."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.BatchSize, err = m.Int64Gauge("lingopack.batch.size",
		metric.WithDescription("Current adaptive batch size of the packaging worker."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordStage records one completed worker stage with its role and outcome.
func (m *Metrics) RecordStage(ctx context.Context, role, outcome string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("role", role),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordEngineCall records one external engine call.
func (m *Metrics) RecordEngineCall(ctx context.Context, engine, provider string, d time.Duration) {
	m.EngineDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("provider", provider),
		),
	)
}

// RecordTaskCreated records one accepted ingress task.
func (m *Metrics) RecordTaskCreated(ctx context.Context, taskType string) {
	m.TasksCreated.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", taskType)),
	)
}

// RecordConsumed records one consumed broker message and its outcome.
func (m *Metrics) RecordConsumed(ctx context.Context, topic, outcome string) {
	m.MessagesConsumed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("topic", topic),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordPublished records one published broker message.
func (m *Metrics) RecordPublished(ctx context.Context, topic string) {
	m.MessagesPublished.Add(ctx, 1,
		metric.WithAttributes(attribute.String("topic", topic)),
	)
}

// RecordPackageBytes records the size of one written package file.
func (m *Metrics) RecordPackageBytes(ctx context.Context, size int64) {
	m.PackageBytes.Record(ctx, size)
}

// RecordBatchSize reports the packaging worker's current batch size.
func (m *Metrics) RecordBatchSize(ctx context.Context, size int) {
	m.BatchSize.Record(ctx, int64(size))
}
