package otel_test

import (
	"context"
	"errors"
	"testing"

	"github.com/valyala/fasthttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fluxorio/taskpool/pkg/observability/otel"
	"github.com/fluxorio/taskpool/pkg/pool"
)

func TestInitializeShutdown(t *testing.T) {
	ctx := context.Background()

	if otel.IsInitialized() {
		t.Fatal("tracing should not be initialized before Initialize")
	}

	cfg := otel.Config{
		ServiceName: "taskpool-test",
		Exporter:    "stdout",
	}
	if err := otel.Initialize(ctx, cfg); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if !otel.IsInitialized() {
		t.Fatal("IsInitialized should report true after Initialize")
	}

	// Second call is a no-op
	if err := otel.Initialize(ctx, cfg); err != nil {
		t.Fatalf("repeated Initialize failed: %v", err)
	}

	if err := otel.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if otel.IsInitialized() {
		t.Fatal("IsInitialized should report false after Shutdown")
	}

	// Shutdown without a provider is safe
	if err := otel.Shutdown(ctx); err != nil {
		t.Fatalf("repeated Shutdown failed: %v", err)
	}
}

func TestInitialize_UnsupportedExporter(t *testing.T) {
	err := otel.Initialize(context.Background(), otel.Config{Exporter: "otlp-grpc"})
	if err == nil {
		otel.Shutdown(context.Background())
		t.Fatal("Initialize should reject an unsupported exporter")
	}
}

func attrValue(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestPoolSpans_Recorded(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	p, err := pool.New(pool.Config{Workers: 2, Tracer: tp.Tracer("test")})
	if err != nil {
		t.Fatalf("pool.New failed: %v", err)
	}
	defer p.Close()

	okHandle, err := p.SubmitNamed("resize", func(ctx context.Context) (any, error) {
		return 7, nil
	})
	if err != nil {
		t.Fatalf("SubmitNamed failed: %v", err)
	}
	boom := errors.New("boom")
	failHandle, err := p.SubmitNamed("broken", func(ctx context.Context) (any, error) {
		return nil, boom
	})
	if err != nil {
		t.Fatalf("SubmitNamed failed: %v", err)
	}
	okHandle.Get()
	failHandle.Get()

	spans := recorder.Ended()
	var okSpan, failSpan sdktrace.ReadOnlySpan
	for _, s := range spans {
		if s.Name() != "taskpool.task" {
			continue
		}
		name, found := attrValue(s.Attributes(), "task.name")
		if !found {
			continue
		}
		switch name.AsString() {
		case "resize":
			okSpan = s
		case "broken":
			failSpan = s
		}
	}

	if okSpan == nil {
		t.Fatal("no span recorded for the successful task")
	}
	if _, found := attrValue(okSpan.Attributes(), "task.id"); !found {
		t.Error("task span missing task.id attribute")
	}
	if _, found := attrValue(okSpan.Attributes(), "task.queue_wait_ms"); !found {
		t.Error("task span missing task.queue_wait_ms attribute")
	}
	if okSpan.Status().Code == codes.Error {
		t.Error("successful task span should not carry an error status")
	}

	if failSpan == nil {
		t.Fatal("no span recorded for the failing task")
	}
	if failSpan.Status().Code != codes.Error {
		t.Errorf("failing task span status = %v, want error", failSpan.Status().Code)
	}
	hasException := false
	for _, ev := range failSpan.Events() {
		if ev.Name == "exception" {
			hasException = true
		}
	}
	if !hasException {
		t.Error("failing task span should record the error event")
	}
}

func TestFastHTTPTraceMiddleware(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	handler := otel.FastHTTPTraceMiddlewareWithTracer(tp.Tracer("test"), func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(202)
	})

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod("POST")
	ctx.Request.SetRequestURI("/tasks")
	handler(&ctx)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "POST /tasks" {
		t.Errorf("span name = %q, want %q", span.Name(), "POST /tasks")
	}
	status, found := attrValue(span.Attributes(), "http.status_code")
	if !found || status.AsInt64() != 202 {
		t.Errorf("http.status_code = %v, want 202", status)
	}
}
