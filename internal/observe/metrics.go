// Package observe provides observability primitives for diarist:
// OpenTelemetry metrics, a Prometheus exporter bridge, and HTTP middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all diarist metrics.
const meterName = "github.com/wardlea/diarist"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// DecisionDuration tracks per-utterance identity resolution latency.
	// Use with attribute.String("channel", ...).
	DecisionDuration metric.Float64Histogram

	// Decisions counts assignment decisions. Use with attributes:
	//   attribute.String("channel", ...), attribute.String("reason", ...)
	Decisions metric.Int64Counter

	// ForcedAssignments counts assignments made only because a cardinality
	// cap prevented creating a new identity. Use with
	// attribute.String("channel", ...).
	ForcedAssignments metric.Int64Counter

	// ReplayChanges counts segments whose assignment changed during a
	// correction replay. Use with attribute.String("channel", ...).
	ReplayChanges metric.Int64Counter

	// TrackedSpeakers tracks the number of live speaker identities
	// (enrolled + discovered) per channel.
	TrackedSpeakers metric.Int64UpDownCounter

	// UnknownClusters tracks the number of unknown pseudo-speaker clusters
	// formed per channel.
	UnknownClusters metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// decisionBuckets defines histogram bucket boundaries (in seconds) for the
// in-process decision path, which is orders of magnitude faster than network
// I/O.
var decisionBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.DecisionDuration, err = m.Float64Histogram("diarist.decision.duration",
		metric.WithDescription("Latency of per-utterance speaker identity resolution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(decisionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Decisions, err = m.Int64Counter("diarist.decisions",
		metric.WithDescription("Total assignment decisions by channel and reason."),
	); err != nil {
		return nil, err
	}
	if met.ForcedAssignments, err = m.Int64Counter("diarist.forced_assignments",
		metric.WithDescription("Total assignments forced by a cardinality cap."),
	); err != nil {
		return nil, err
	}
	if met.ReplayChanges, err = m.Int64Counter("diarist.replay.changes",
		metric.WithDescription("Total segment reassignments produced by correction replay."),
	); err != nil {
		return nil, err
	}
	if met.TrackedSpeakers, err = m.Int64UpDownCounter("diarist.tracked_speakers",
		metric.WithDescription("Live speaker identities (enrolled + discovered) per channel."),
	); err != nil {
		return nil, err
	}
	if met.UnknownClusters, err = m.Int64UpDownCounter("diarist.unknown_clusters",
		metric.WithDescription("Unknown pseudo-speaker clusters per channel."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("diarist.http.request.duration",
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

// RecordDecision records one resolution outcome with its latency. A nil
// receiver is a no-op so metrics stay optional in tests and library use.
func (m *Metrics) RecordDecision(ctx context.Context, channel, reason string, forced bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("reason", reason),
	)
	m.Decisions.Add(ctx, 1, attrs)
	m.DecisionDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("channel", channel)))
	if forced {
		m.ForcedAssignments.Add(ctx, 1,
			metric.WithAttributes(attribute.String("channel", channel)))
	}
}

// AddTrackedSpeakers adjusts the per-channel tracked speaker gauge.
// A nil receiver is a no-op.
func (m *Metrics) AddTrackedSpeakers(ctx context.Context, channel string, delta int64) {
	if m == nil {
		return
	}
	m.TrackedSpeakers.Add(ctx, delta,
		metric.WithAttributes(attribute.String("channel", channel)))
}

// AddUnknownClusters adjusts the per-channel unknown cluster gauge.
// A nil receiver is a no-op.
func (m *Metrics) AddUnknownClusters(ctx context.Context, channel string, delta int64) {
	if m == nil {
		return
	}
	m.UnknownClusters.Add(ctx, delta,
		metric.WithAttributes(attribute.String("channel", channel)))
}

// AddReplayChanges records how many assignments a correction replay changed.
// A nil receiver is a no-op.
func (m *Metrics) AddReplayChanges(ctx context.Context, channel string, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.ReplayChanges.Add(ctx, n,
		metric.WithAttributes(attribute.String("channel", channel)))
}
