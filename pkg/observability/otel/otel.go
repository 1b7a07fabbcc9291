package otel

import (
	"context"
	"fmt"
	"sync"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultJaegerEndpoint = "http://localhost:14268/api/traces"
	defaultZipkinEndpoint = "http://localhost:9411/api/v2/spans"
)

// Config holds OpenTelemetry tracing configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Exporter selects the span exporter: "stdout", "jaeger" or "zipkin".
	// Empty means "stdout".
	Exporter string

	// Endpoint is the collector endpoint for jaeger/zipkin. Empty uses
	// the exporter's default local endpoint.
	Endpoint string

	// SampleRate is the trace sampling ratio in (0, 1]. Values <= 0
	// mean sample everything.
	SampleRate float64
}

var (
	initMu   sync.Mutex
	provider *sdktrace.TracerProvider
)

// Initialize sets up the global tracer provider. It is a no-op if
// tracing was already initialized; call Shutdown first to reconfigure.
func Initialize(ctx context.Context, cfg Config) error {
	initMu.Lock()
	defer initMu.Unlock()

	if provider != nil {
		return nil
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return fmt.Errorf("failed to create span exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = 1.0
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
	)

	otelapi.SetTracerProvider(tp)
	otelapi.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	provider = tp
	return nil
}

func newExporter(cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "jaeger":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultJaegerEndpoint
		}
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	case "zipkin":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultZipkinEndpoint
		}
		return zipkin.New(endpoint)
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}
}

// Shutdown flushes pending spans and tears down the tracer provider.
func Shutdown(ctx context.Context) error {
	initMu.Lock()
	defer initMu.Unlock()

	if provider == nil {
		return nil
	}

	err := provider.Shutdown(ctx)
	provider = nil
	return err
}

// IsInitialized reports whether Initialize has set up tracing.
func IsInitialized() bool {
	initMu.Lock()
	defer initMu.Unlock()
	return provider != nil
}

// Tracer returns a named tracer from the global provider. Before
// Initialize it returns a no-op tracer.
func Tracer(name string) trace.Tracer {
	return otelapi.Tracer(name)
}
