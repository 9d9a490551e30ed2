// Package observe ties together the process's telemetry: OpenTelemetry
// metrics exported to Prometheus, trace spans used for log correlation,
// context-aware slog loggers and the HTTP middleware of the control API.
//
// Instruments live in [Metrics]. Production code shares [DefaultMetrics];
// tests build their own with [NewMetrics] over a manual reader or a noop
// provider.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/lingoxa"

// Outcome labels used by the request and update counters.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusTruncated = "truncated"
)

// Sentence outcomes for [Metrics.RecordSentence].
const (
	SentenceTranslated = "translated"
	SentenceFailed     = "failed"
)

// Metrics holds the pipeline's instruments. OTel instruments are safe for
// concurrent use.
type Metrics struct {
	// STTDuration is recognizer latency, labelled provider and status.
	STTDuration metric.Float64Histogram

	// LLMDuration is model latency, labelled kind (translate, summarize)
	// and status.
	LLMDuration metric.Float64Histogram

	// SentenceLatency runs from a sentence's finalization to its
	// translation being published.
	SentenceLatency metric.Float64Histogram

	ChunksProcessed metric.Int64Counter
	ChunksDropped   metric.Int64Counter

	// Sentences counts finalized sentences by translation outcome.
	Sentences metric.Int64Counter

	// ContextUpdates counts scenario summary refreshes by status.
	ContextUpdates metric.Int64Counter

	// ProviderRequests counts provider calls by provider, kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed provider calls by provider and kind.
	// Fallback groups also record each member that failed over.
	ProviderErrors metric.Int64Counter

	STTQueueDepth  metric.Int64UpDownCounter
	DisplayClients metric.Int64UpDownCounter

	// HTTPRequestDuration is control API latency by method and route.
	HTTPRequestDuration metric.Float64Histogram
}

// Seconds. Recognizer and model calls range from tens of milliseconds on a
// local GPU to several seconds against hosted APIs.
var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// builder collects instrument creation errors so NewMetrics reports them
// together.
type builder struct {
	m    metric.Meter
	errs []error
}

func (b *builder) histogram(name, desc string, buckets ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.m.Float64Histogram(name, opts...)
	b.check(name, err)
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.m.Int64Counter(name, metric.WithDescription(desc))
	b.check(name, err)
	return c
}

func (b *builder) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.m.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.check(name, err)
	return g
}

func (b *builder) check(name string, err error) {
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("observe: instrument %s: %w", name, err))
	}
}

// NewMetrics creates every instrument on a meter from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &builder{m: mp.Meter(meterName)}
	met := &Metrics{
		STTDuration:     b.histogram("lingoxa.stt.duration", "Speech recognition latency.", latencyBuckets...),
		LLMDuration:     b.histogram("lingoxa.llm.duration", "Model completion latency by kind.", latencyBuckets...),
		SentenceLatency: b.histogram("lingoxa.sentence.latency", "Time from sentence finalization to published translation.", latencyBuckets...),

		ChunksProcessed:  b.counter("lingoxa.stt.chunks_processed", "Audio chunks consumed by the recognizer loop."),
		ChunksDropped:    b.counter("lingoxa.stt.chunks_dropped", "Audio chunks dropped on a full recognizer queue."),
		Sentences:        b.counter("lingoxa.sentences", "Finalized sentences by translation outcome."),
		ContextUpdates:   b.counter("lingoxa.context.updates", "Scenario context refreshes by status."),
		ProviderRequests: b.counter("lingoxa.provider.requests", "Provider calls by provider, kind and status."),
		ProviderErrors:   b.counter("lingoxa.provider.errors", "Failed provider calls by provider and kind."),

		STTQueueDepth:  b.gauge("lingoxa.stt.queue_depth", "Audio chunks waiting for the recognizer loop."),
		DisplayClients: b.gauge("lingoxa.display.clients", "Connected event feed clients."),

		HTTPRequestDuration: b.histogram("lingoxa.http.request.duration", "Control API latency by method and route."),
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] on the global meter
// provider. Call [InitProvider] first or the instruments are noops.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		if defaultMetrics, err = NewMetrics(otel.GetMeterProvider()); err != nil {
			panic(err)
		}
	})
	return defaultMetrics
}

// statusOf maps a call result to a status label.
func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

// RecordTranscription records one recognizer call against provider.
func (m *Metrics) RecordTranscription(ctx context.Context, provider string, took time.Duration, err error) {
	status := statusOf(err)
	m.STTDuration.Record(ctx, took.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
	m.recordRequest(ctx, provider, "stt", status)
}

// RecordCompletion records one model call of kind against model. status is
// one of [StatusOK], [StatusError] or [StatusTruncated].
func (m *Metrics) RecordCompletion(ctx context.Context, model, kind, status string, took time.Duration) {
	m.LLMDuration.Record(ctx, took.Seconds(), metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
	m.recordRequest(ctx, model, kind, status)
}

func (m *Metrics) recordRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
	if status == StatusError {
		m.RecordProviderError(ctx, provider, kind)
	}
}

// RecordProviderError counts a failed call without a matching request
// sample, as fallback groups do for each member they skip.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordSentence counts a finalized sentence. A translated sentence also
// records its latency.
func (m *Metrics) RecordSentence(ctx context.Context, status string, latency time.Duration) {
	m.Sentences.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if status == SentenceTranslated {
		m.SentenceLatency.Record(ctx, latency.Seconds())
	}
}

// RecordContextUpdate counts a scenario summary refresh.
func (m *Metrics) RecordContextUpdate(ctx context.Context, err error) {
	m.ContextUpdates.Add(ctx, 1, metric.WithAttributes(attribute.String("status", statusOf(err))))
}
