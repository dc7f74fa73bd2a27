// Package observability provides OpenTelemetry metrics (Prometheus exporter)
// and the context-aware logging handler.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	prometheusexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const (
	meterScope         = "github.com/promptlens/core/internal/observability"
	defaultServiceName = "promptlens-core"
	cardinalityLimit   = 2000
)

// latencyHistogramBoundaries are Prometheus-style buckets (seconds) for the
// request duration histogram.
var latencyHistogramBoundaries = []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5}

// PipelineMetrics is the single metrics interface for the pipeline (HTTP,
// assignment, extraction, drift). Call sites accept nil when metrics are off.
type PipelineMetrics interface {
	RecordRequest(ctx context.Context, method, route, statusClass string, duration time.Duration)
	RecordAssignment(ctx context.Context, decision string)
	RecordEscalation(ctx context.Context, outcome string)
	RecordExtractionFallback(ctx context.Context, reason string)
	RecordDriftEvent(ctx context.Context, eventType string)
	RecordCacheLookup(ctx context.Context, hit bool)
}

// MeterProviderShutdown is the subset of the SDK MeterProvider needed for shutdown.
type MeterProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// MeterProviderConfig holds configuration for creating the MeterProvider.
type MeterProviderConfig struct {
	// ServiceName is used in the resource (default: promptlens-core).
	ServiceName string
}

// NewMeterProvider creates a MeterProvider with Prometheus exporter and
// returns the provider, an HTTP handler for /metrics, and the pipeline
// metrics backed by the provider's Meter. Caller must call provider.Shutdown
// on exit.
func NewMeterProvider(_ context.Context, cfg MeterProviderConfig) (provider MeterProviderShutdown, metricsHandler http.Handler, metrics PipelineMetrics, err error) {
	serviceNameVal := cfg.ServiceName
	if serviceNameVal == "" {
		serviceNameVal = defaultServiceName
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceNameVal),
	)

	reg := prometheus.NewRegistry()

	exporter, err := prometheusexporter.New(
		prometheusexporter.WithRegisterer(reg),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
		sdkmetric.WithCardinalityLimit(cardinalityLimit),
		sdkmetric.WithView(
			sdkmetric.NewView(
				sdkmetric.Instrument{Name: "http.server.duration"},
				sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: latencyHistogramBoundaries}},
			),
		),
	)
	provider = mp
	meter := mp.Meter(meterScope)

	metrics, err = newMetricsFromMeter(meter)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create metrics instruments: %w", err)
	}

	metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return provider, metricsHandler, metrics, nil
}

func newMetricsFromMeter(meter metric.Meter) (*pipelineMetricsImpl, error) {
	requestCount, err := meter.Int64Counter(
		"http.server.request_count",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("request_count: %w", err)
	}

	requestDuration, err := meter.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("http.server.duration: %w", err)
	}

	assignments, err := meter.Int64Counter(
		"assignment_decisions_total",
		metric.WithDescription("Assignment decisions per branch"),
	)
	if err != nil {
		return nil, fmt.Errorf("assignment_decisions_total: %w", err)
	}

	escalations, err := meter.Int64Counter(
		"escalation_outcomes_total",
		metric.WithDescription("Escalation outcomes from the reasoning collaborator"),
	)
	if err != nil {
		return nil, fmt.Errorf("escalation_outcomes_total: %w", err)
	}

	extractionFallbacks, err := meter.Int64Counter(
		"extraction_fallbacks_total",
		metric.WithDescription("Template extraction fallbacks by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("extraction_fallbacks_total: %w", err)
	}

	driftEvents, err := meter.Int64Counter(
		"drift_events_total",
		metric.WithDescription("Evolution events emitted by the drift tracker"),
	)
	if err != nil {
		return nil, fmt.Errorf("drift_events_total: %w", err)
	}

	cacheLookups, err := meter.Int64Counter(
		"similarity_cache_lookups_total",
		metric.WithDescription("Similarity cache lookups by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("similarity_cache_lookups_total: %w", err)
	}

	return &pipelineMetricsImpl{
		requestCount:        requestCount,
		requestDuration:     requestDuration,
		assignments:         assignments,
		escalations:         escalations,
		extractionFallbacks: extractionFallbacks,
		driftEvents:         driftEvents,
		cacheLookups:        cacheLookups,
	}, nil
}

type pipelineMetricsImpl struct {
	requestCount        metric.Int64Counter
	requestDuration     metric.Float64Histogram
	assignments         metric.Int64Counter
	escalations         metric.Int64Counter
	extractionFallbacks metric.Int64Counter
	driftEvents         metric.Int64Counter
	cacheLookups        metric.Int64Counter
}

func (m *pipelineMetricsImpl) RecordRequest(ctx context.Context, method, route, statusClass string, duration time.Duration) {
	attrs := attribute.NewSet(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status_class", statusClass),
	)
	m.requestCount.Add(ctx, 1, metric.WithAttributeSet(attrs))

	durAttrs := attribute.NewSet(
		attribute.String("method", method),
		attribute.String("route", route),
	)
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributeSet(durAttrs))
}

func (m *pipelineMetricsImpl) RecordAssignment(ctx context.Context, decision string) {
	m.assignments.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", normalizeDecision(decision))))
}

func (m *pipelineMetricsImpl) RecordEscalation(ctx context.Context, outcome string) {
	m.escalations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", normalizeOutcome(outcome))))
}

func (m *pipelineMetricsImpl) RecordExtractionFallback(ctx context.Context, reason string) {
	m.extractionFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *pipelineMetricsImpl) RecordDriftEvent(ctx context.Context, eventType string) {
	m.driftEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (m *pipelineMetricsImpl) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// normalizeDecision maps decision labels to a bounded set for cardinality control.
func normalizeDecision(s string) string {
	switch s {
	case "merged", "new_cluster", "escalated", "rejected":
		return s
	default:
		return "unknown"
	}
}

// normalizeOutcome maps escalation outcomes to a bounded set.
func normalizeOutcome(s string) string {
	switch s {
	case "merged", "new_cluster", "rejected", "timeout":
		return s
	default:
		return "unknown"
	}
}
