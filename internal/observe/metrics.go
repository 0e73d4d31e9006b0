// Package observe provides the OpenTelemetry metrics recorded by the
// ingestion pipeline, the summary scheduler and the HTTP layer, plus the
// Prometheus bridge that exposes them on /metrics.
//
// Tests should use [NewMetrics] with their own [metric.MeterProvider] to
// avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/sjawhar/popquiz"

// Metrics holds all metric instruments. The underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// FragmentsEnqueued counts accepted audio fragments.
	FragmentsEnqueued metric.Int64Counter

	// QueueDepth tracks work items waiting for the consumer.
	QueueDepth metric.Int64UpDownCounter

	// Flushes counts drained windows. Attribute "reason": threshold, force, idle.
	Flushes metric.Int64Counter

	// FlushedBytes counts audio bytes handed to transcription.
	FlushedBytes metric.Int64Counter

	// TranscribeDuration tracks transcription latency.
	TranscribeDuration metric.Float64Histogram

	// TranscribeFailures counts windows lost to transcription errors.
	TranscribeFailures metric.Int64Counter

	// SummaryDuration tracks summarization latency.
	SummaryDuration metric.Float64Histogram

	// SchedulerDecisions counts ConsiderTranscript outcomes. Attribute "decision".
	SchedulerDecisions metric.Int64Counter

	// WebSocketClients tracks connected room subscribers.
	WebSocketClients metric.Int64UpDownCounter

	// HTTPRequestDuration tracks request latency by method, route and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets covers sub-second store writes through multi-second
// provider calls.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FragmentsEnqueued, err = m.Int64Counter("popquiz.fragments.enqueued",
		metric.WithDescription("Audio fragments accepted for ingestion."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("popquiz.queue.depth",
		metric.WithDescription("Work items waiting for the ingestion consumer."),
	); err != nil {
		return nil, err
	}
	if met.Flushes, err = m.Int64Counter("popquiz.buffer.flushes",
		metric.WithDescription("Audio windows drained from session buffers by reason."),
	); err != nil {
		return nil, err
	}
	if met.FlushedBytes, err = m.Int64Counter("popquiz.buffer.flushed_bytes",
		metric.WithDescription("Audio bytes drained from session buffers."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.TranscribeDuration, err = m.Float64Histogram("popquiz.transcribe.duration",
		metric.WithDescription("Latency of window transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscribeFailures, err = m.Int64Counter("popquiz.transcribe.failures",
		metric.WithDescription("Audio windows discarded after transcription failed."),
	); err != nil {
		return nil, err
	}
	if met.SummaryDuration, err = m.Float64Histogram("popquiz.summary.duration",
		metric.WithDescription("Latency of rolling summary generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SchedulerDecisions, err = m.Int64Counter("popquiz.scheduler.decisions",
		metric.WithDescription("Rolling summary scheduler outcomes by decision."),
	); err != nil {
		return nil, err
	}
	if met.WebSocketClients, err = m.Int64UpDownCounter("popquiz.ws.clients",
		metric.WithDescription("Connected WebSocket room subscribers."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("popquiz.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance built from
// [otel.GetMeterProvider] on first use. Call it after [InitProvider].
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

// RecordFlush counts one drained window.
func (m *Metrics) RecordFlush(ctx context.Context, reason string, bytes int) {
	attrs := metric.WithAttributes(attribute.String("reason", reason))
	m.Flushes.Add(ctx, 1, attrs)
	m.FlushedBytes.Add(ctx, int64(bytes), attrs)
}

// RecordDecision counts one scheduler outcome.
func (m *Metrics) RecordDecision(ctx context.Context, decision string) {
	m.SchedulerDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}
