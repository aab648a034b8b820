// Package observe provides application-wide observability primitives for
// Callyard: OpenTelemetry metrics and the Prometheus exporter bridge that
// makes them scrapeable via /metrics.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Callyard metrics.
const meterName = "github.com/callyard/callyard"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// CallSetupDuration tracks time from INVITE to pickup (or give-up) on
	// outgoing calls.
	CallSetupDuration metric.Float64Histogram

	// --- Counters ---

	// CallsPlaced counts dial attempts. Use with attribute:
	//   attribute.String("direction", "outgoing"|"incoming")
	CallsPlaced metric.Int64Counter

	// CallsAnswered counts calls that reached the confirmed state.
	CallsAnswered metric.Int64Counter

	// CallOutcomes counts finished conversations. Use with attribute:
	//   attribute.String("status", ...)
	CallOutcomes metric.Int64Counter

	// Utterances counts spoken turns. Use with attribute:
	//   attribute.String("speaker", "caller"|"user")
	Utterances metric.Int64Counter

	// CacheLookups counts TTS cache lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss")
	CacheLookups metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of calls currently in progress.
	ActiveCalls metric.Int64UpDownCounter

	// ActiveListeners tracks the number of sessions waiting for incoming
	// calls.
	ActiveListeners metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("callyard.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("callyard.llm.duration",
		metric.WithDescription("Latency of LLM completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("callyard.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CallSetupDuration, err = m.Float64Histogram("callyard.call.setup.duration",
		metric.WithDescription("Time from INVITE to pickup on outgoing calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CallsPlaced, err = m.Int64Counter("callyard.calls.placed",
		metric.WithDescription("Total dial attempts by direction."),
	); err != nil {
		return nil, err
	}
	if met.CallsAnswered, err = m.Int64Counter("callyard.calls.answered",
		metric.WithDescription("Total calls that reached the confirmed state."),
	); err != nil {
		return nil, err
	}
	if met.CallOutcomes, err = m.Int64Counter("callyard.calls.outcomes",
		metric.WithDescription("Total finished conversations by status."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("callyard.utterances",
		metric.WithDescription("Total spoken turns by speaker."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("callyard.tts.cache.lookups",
		metric.WithDescription("Total TTS cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("callyard.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("callyard.active_calls",
		metric.WithDescription("Number of calls currently in progress."),
	); err != nil {
		return nil, err
	}
	if met.ActiveListeners, err = m.Int64UpDownCounter("callyard.active_listeners",
		metric.WithDescription("Number of sessions waiting for incoming calls."),
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

// RecordCallPlaced records a dial attempt.
func (m *Metrics) RecordCallPlaced(ctx context.Context, direction string) {
	m.CallsPlaced.Add(ctx, 1,
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}

// RecordCallOutcome records a finished conversation with its final status.
func (m *Metrics) RecordCallOutcome(ctx context.Context, status string) {
	m.CallOutcomes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordUtterance records one spoken turn by the given speaker.
func (m *Metrics) RecordUtterance(ctx context.Context, speaker string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("speaker", speaker)),
	)
}

// RecordCacheLookup records a TTS cache lookup result ("hit" or "miss").
func (m *Metrics) RecordCacheLookup(ctx context.Context, result string) {
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordProviderError records a provider error by provider name and kind
// ("llm", "tts" or "stt").
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
