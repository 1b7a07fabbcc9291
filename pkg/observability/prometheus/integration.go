package prometheus

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/fluxorio/taskpool/pkg/pool"
)

// Handler returns an http.Handler that serves the default registry in
// Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{})
}

// FastHTTPHandler returns a fasthttp handler that serves the default
// registry, for servers built on fasthttp.
func FastHTTPHandler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(Handler())
}

// FastHTTPMetricsMiddleware wraps a fasthttp handler and records HTTP
// metrics for every request it serves.
func FastHTTPMetricsMiddleware(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	metrics := GetMetrics()
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		method := string(ctx.Method())
		path := string(ctx.Path())

		// Get request size
		requestSize := int64(len(ctx.PostBody()))

		// Execute handler
		next(ctx)

		// Calculate duration
		duration := time.Since(start)

		// Get response status and size
		status := ctx.Response.StatusCode()
		statusStr := statusCodeString(status)
		responseSize := int64(ctx.Response.Header.ContentLength())
		if responseSize < 0 {
			responseSize = 0
		}

		// Record metrics
		metrics.RecordHTTPRequest(method, path, statusStr, duration, requestSize, responseSize)
	}
}

// UpdatePoolMetrics copies a pool status snapshot into the pool gauges.
func UpdatePoolMetrics(name string, p pool.Pool) {
	st := p.Status()
	GetMetrics().UpdatePool(name,
		st.Workers,
		st.Busy,
		st.Idle,
		st.Pending,
		st.Running,
		st.Submitted,
		st.Completed,
		st.Failed,
		st.Discarded,
	)
}

// statusCodeString converts status code to string
func statusCodeString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
