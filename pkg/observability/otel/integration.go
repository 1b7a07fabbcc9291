package otel

import (
	"github.com/valyala/fasthttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FastHTTPTraceMiddleware wraps a fasthttp handler and records a server
// span per request using the global tracer provider.
func FastHTTPTraceMiddleware(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return FastHTTPTraceMiddlewareWithTracer(Tracer("taskpool/http"), next)
}

// FastHTTPTraceMiddlewareWithTracer is FastHTTPTraceMiddleware with an
// explicit tracer.
func FastHTTPTraceMiddlewareWithTracer(tracer trace.Tracer, next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		method := string(ctx.Method())
		path := string(ctx.Path())

		_, span := tracer.Start(ctx, method+" "+path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", method),
				attribute.String("http.target", path),
			),
		)
		defer span.End()

		next(ctx)

		status := ctx.Response.StatusCode()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, "server error")
		}
	}
}
