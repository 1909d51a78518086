// Package observe provides the reader's observability primitives:
// OpenTelemetry metrics, distributed tracing, trace-aware logging and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to a Prometheus registry so they can be scraped from
// /metrics. A package-level default [Metrics] instance ([DefaultMetrics]) is
// provided for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/cartomancer"

// Provider kinds used as the "kind" attribute.
const (
	KindSTT = "stt"
	KindLLM = "llm"
	KindTTS = "tts"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks completion latency, both passes included.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks synthesis latency.
	TTSDuration metric.Float64Histogram

	// ReadingDuration tracks one whole upload from transcription to speech.
	ReadingDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ToolCalls counts tarot actions the model asked for. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// Uploads counts upload requests by response status code.
	Uploads metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes: attribute.String("provider", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveReadings tracks uploads currently in the pipeline.
	ActiveReadings metric.Int64UpDownCounter

	// StreamClients tracks connected event-stream clients.
	StreamClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for hosted
// speech and language model round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.STTDuration, err = histogram("cartomancer.stt.duration", "Latency of speech-to-text transcription."); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = histogram("cartomancer.llm.duration", "Latency of language model completions."); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = histogram("cartomancer.tts.duration", "Latency of text-to-speech synthesis."); err != nil {
		return nil, err
	}
	if met.ReadingDuration, err = histogram("cartomancer.reading.duration", "End-to-end latency of one uploaded question."); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("cartomancer.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("cartomancer.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("cartomancer.tool.calls",
		metric.WithDescription("Total tarot actions requested by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.Uploads, err = m.Int64Counter("cartomancer.uploads",
		metric.WithDescription("Total audio uploads by response status code."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("cartomancer.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider and new state."),
	); err != nil {
		return nil, err
	}

	if met.ActiveReadings, err = m.Int64UpDownCounter("cartomancer.active_readings",
		metric.WithDescription("Number of uploads currently being answered."),
	); err != nil {
		return nil, err
	}
	if met.StreamClients, err = m.Int64UpDownCounter("cartomancer.stream_clients",
		metric.WithDescription("Number of connected event-stream clients."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("cartomancer.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordToolCall records a tool call counter increment.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordUpload counts one finished upload by HTTP status.
func (m *Metrics) RecordUpload(ctx context.Context, status int) {
	m.Uploads.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", strconv.Itoa(status))),
	)
}

// RecordBreakerTransition counts one breaker moving into state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("state", state),
		),
	)
}

// RecordStage records the latency of one pipeline stage and counts the
// request against provider. err decides the status attribute.
func (m *Metrics) RecordStage(ctx context.Context, kind, provider string, d time.Duration, err error) {
	switch kind {
	case KindSTT:
		m.STTDuration.Record(ctx, d.Seconds())
	case KindLLM:
		m.LLMDuration.Record(ctx, d.Seconds())
	case KindTTS:
		m.TTSDuration.Record(ctx, d.Seconds())
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, kind)
	}
	m.RecordProviderRequest(ctx, provider, kind, status)
}
