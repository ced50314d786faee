// Package observe provides application-wide observability primitives for the
// concierge: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is set up by [InitProvider] so that metrics can be scraped
// from the standard /metrics endpoint. Tests should use [NewMetrics] with a
// custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all service metrics.
const meterName = "github.com/MrWong99/concierge"

// Metrics holds the service's OpenTelemetry instruments.
// All fields are safe for concurrent use.
type Metrics struct {
	// ── Inquiries ──

	// InquiriesSubmitted counts submitted inquiries. Attributes:
	//   attribute.String("event_type", ...), attribute.String("status", ...)
	InquiriesSubmitted metric.Int64Counter

	// NotifyOutcomes counts notification attempts. Attributes:
	//   attribute.String("notifier", ...), attribute.String("status", ...)
	NotifyOutcomes metric.Int64Counter

	// ConsultOutcomes counts consultation replies by source. Attribute:
	//   attribute.String("source", ...) (model, fallback_*)
	ConsultOutcomes metric.Int64Counter

	// ── Providers ──

	// ProviderDuration tracks the latency of outbound provider calls.
	ProviderDuration metric.Float64Histogram

	// ProviderErrors counts provider errors. Attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	//   attribute.String("name", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// ── HTTP ──

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram bucket boundaries in seconds for calls to
// remote model and e-mail APIs.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.InquiriesSubmitted, err = m.Int64Counter("concierge.inquiries.submitted",
		metric.WithDescription("Inquiries submitted through the website by event type and status."),
	); err != nil {
		return nil, err
	}
	if met.NotifyOutcomes, err = m.Int64Counter("concierge.notify.outcomes",
		metric.WithDescription("Inquiry notifications by notifier and status."),
	); err != nil {
		return nil, err
	}
	if met.ConsultOutcomes, err = m.Int64Counter("concierge.consult.outcomes",
		metric.WithDescription("Consultation replies by source."),
	); err != nil {
		return nil, err
	}
	if met.ProviderDuration, err = m.Float64Histogram("concierge.provider.duration",
		metric.WithDescription("Latency of outbound provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("concierge.provider.errors",
		metric.WithDescription("Provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("concierge.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("concierge.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordInquiry records one submitted inquiry.
func (m *Metrics) RecordInquiry(ctx context.Context, eventType, status string) {
	m.InquiriesSubmitted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("status", status),
	))
}

// RecordNotify records the outcome of one notification attempt.
func (m *Metrics) RecordNotify(ctx context.Context, notifier, status string) {
	m.NotifyOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("notifier", notifier),
		attribute.String("status", status),
	))
}

// RecordConsult records where a consultation reply came from.
func (m *Metrics) RecordConsult(ctx context.Context, source string) {
	m.ConsultOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordProviderCall records the latency of a provider call and, when err is
// non-nil, a provider error.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, kind string, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	)
	m.ProviderDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.ProviderErrors.Add(ctx, 1, attrs)
	}
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", name),
		attribute.String("to", to),
	))
}
