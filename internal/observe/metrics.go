// Package observe records voiceqa runtime metrics through OpenTelemetry.
//
// Instruments are created from a [metric.MeterProvider]. [InitProvider] wires
// the SDK provider to a Prometheus exporter so the daemon can serve /metrics;
// tests build their own provider with a manual reader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/itshop/voiceqa"

// Metrics holds the instruments shared by the session, engines and feed.
type Metrics struct {
	// DispatchDuration tracks backend question round trips.
	DispatchDuration metric.Float64Histogram
	// RecognizeDuration tracks speech recognizer requests.
	RecognizeDuration metric.Float64Histogram
	// SynthesizeDuration tracks speech synthesizer requests.
	SynthesizeDuration metric.Float64Histogram

	// Interactions counts finished interactions by result:
	// answered, resolved, failed or capture_error.
	Interactions metric.Int64Counter
	// ProviderErrors counts remote failures by provider and kind.
	ProviderErrors metric.Int64Counter

	ActiveCaptures metric.Int64UpDownCounter
	FeedClients    metric.Int64UpDownCounter
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.DispatchDuration, err = m.Float64Histogram("voiceqa.dispatch.duration",
		metric.WithDescription("Latency of backend question dispatch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognizeDuration, err = m.Float64Histogram("voiceqa.asr.duration",
		metric.WithDescription("Latency of speech recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesizeDuration, err = m.Float64Histogram("voiceqa.tts.duration",
		metric.WithDescription("Latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Interactions, err = m.Int64Counter("voiceqa.interactions",
		metric.WithDescription("Finished interactions by result."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voiceqa.provider.errors",
		metric.WithDescription("Remote provider failures by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveCaptures, err = m.Int64UpDownCounter("voiceqa.capture.active",
		metric.WithDescription("Capture cycles currently listening."),
	); err != nil {
		return nil, err
	}
	if met.FeedClients, err = m.Int64UpDownCounter("voiceqa.feed.clients",
		metric.WithDescription("Connected snapshot feed clients."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns instruments bound to the global meter provider.
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

// RecordInteraction counts one finished interaction.
func (m *Metrics) RecordInteraction(ctx context.Context, result string) {
	m.Interactions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordProviderError counts one remote failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// ObserveSince records the seconds elapsed since start on h.
func ObserveSince(ctx context.Context, h metric.Float64Histogram, start time.Time, attrs ...attribute.KeyValue) {
	h.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
}

// Attr is shorthand for a string attribute on a recording.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}
