// Package observe provides application-wide observability primitives for
// Timbre: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all Timbre metrics.
const meterName = "github.com/auricle-labs/timbre"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// IdentifyDuration tracks end-to-end identification latency, matching
	// plus decision plus audit write.
	IdentifyDuration metric.Float64Histogram

	// ExtractDuration tracks embedding-extraction sidecar latency.
	ExtractDuration metric.Float64Histogram

	// Decisions counts identification outcomes. Use with attribute:
	//   attribute.String("tier", ...)
	Decisions metric.Int64Counter

	// Feedback counts feedback submissions. Use with attributes:
	//   attribute.String("outcome", "agree"|"reject"), attribute.String("status", ...)
	Feedback metric.Int64Counter

	// ConfidenceAdjustments counts confidence mutations. Use with attribute:
	//   attribute.String("reason", ...)
	ConfidenceAdjustments metric.Int64Counter

	// DecayedEmbeddings counts embeddings reduced by the decay sweeper.
	DecayedEmbeddings metric.Int64Counter

	// PrunedEmbeddings counts embeddings deleted by the retention policy.
	PrunedEmbeddings metric.Int64Counter

	// ScanSize records how many candidate embeddings each query scanned.
	ScanSize metric.Int64Histogram

	// ActiveFeedSubscribers tracks connected WebSocket event-feed clients.
	ActiveFeedSubscribers metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// an in-process vector search plus one or two store round trips.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.IdentifyDuration, err = m.Float64Histogram("timbre.identify.duration",
		metric.WithDescription("Latency of one identification request."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExtractDuration, err = m.Float64Histogram("timbre.extract.duration",
		metric.WithDescription("Latency of embedding extraction via the sidecar."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Decisions, err = m.Int64Counter("timbre.identify.decisions",
		metric.WithDescription("Total identification decisions by tier."),
	); err != nil {
		return nil, err
	}
	if met.Feedback, err = m.Int64Counter("timbre.feedback.submissions",
		metric.WithDescription("Total feedback submissions by outcome and status."),
	); err != nil {
		return nil, err
	}
	if met.ConfidenceAdjustments, err = m.Int64Counter("timbre.confidence.adjustments",
		metric.WithDescription("Total confidence mutations by reason."),
	); err != nil {
		return nil, err
	}
	if met.DecayedEmbeddings, err = m.Int64Counter("timbre.decay.decayed",
		metric.WithDescription("Total embeddings reduced by the decay sweeper."),
	); err != nil {
		return nil, err
	}
	if met.PrunedEmbeddings, err = m.Int64Counter("timbre.decay.pruned",
		metric.WithDescription("Total embeddings deleted by the retention policy."),
	); err != nil {
		return nil, err
	}

	if met.ScanSize, err = m.Int64Histogram("timbre.identify.scan_size",
		metric.WithDescription("Candidate embeddings scanned per query."),
	); err != nil {
		return nil, err
	}

	if met.ActiveFeedSubscribers, err = m.Int64UpDownCounter("timbre.feed.subscribers",
		metric.WithDescription("Connected WebSocket event-feed clients."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("timbre.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// RecordDecision records one identification decision with its latency.
func (m *Metrics) RecordDecision(ctx context.Context, tier string, d time.Duration) {
	m.IdentifyDuration.Record(ctx, d.Seconds())
	m.Decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordFeedback records one feedback submission.
func (m *Metrics) RecordFeedback(ctx context.Context, outcome, status string) {
	m.Feedback.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("status", status),
		),
	)
}

// RecordAdjustment records one confidence mutation.
func (m *Metrics) RecordAdjustment(ctx context.Context, reason string) {
	m.ConfidenceAdjustments.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordSweep records the outcome of one decay sweep.
func (m *Metrics) RecordSweep(ctx context.Context, decayed, pruned int) {
	m.DecayedEmbeddings.Add(ctx, int64(decayed))
	m.PrunedEmbeddings.Add(ctx, int64(pruned))
}
