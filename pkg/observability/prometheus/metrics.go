package prometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DefaultRegistry is the default Prometheus registry
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer is the default Prometheus registerer
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "taskpool"}, DefaultRegistry)

	// Metrics collection
	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Task metrics
	TasksTotal   *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec

	// Pool snapshot metrics. Cumulative values come from pool status
	// snapshots, so they are exported as gauges rather than counters.
	PoolWorkers        *prometheus.GaugeVec
	PoolBusyWorkers    *prometheus.GaugeVec
	PoolIdleWorkers    *prometheus.GaugeVec
	PoolPendingTasks   *prometheus.GaugeVec
	PoolRunning        *prometheus.GaugeVec
	PoolTasksSubmitted *prometheus.GaugeVec
	PoolTasksCompleted *prometheus.GaugeVec
	PoolTasksFailed    *prometheus.GaugeVec
	PoolTasksDiscarded *prometheus.GaugeVec

	// Custom metrics registry
	CustomCounters   map[string]*prometheus.CounterVec
	CustomGauges     map[string]*prometheus.GaugeVec
	CustomHistograms map[string]*prometheus.HistogramVec
	customMu         sync.RWMutex

	registerer prometheus.Registerer
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// NewMetrics creates a new metrics collection
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}

	m := &Metrics{
		// HTTP request metrics
		HTTPRequestsTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpool_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskpool_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestSize: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskpool_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 7), // 100B to 100MB
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskpool_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 7), // 100B to 100MB
			},
			[]string{"method", "path", "status"},
		),

		// Task metrics
		TasksTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpool_tasks_total",
				Help: "Total number of executed tasks",
			},
			[]string{"name", "status"}, // status: ok, error, panic
		),
		TaskDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskpool_task_duration_seconds",
				Help:    "Task latency from submission to completion in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"name", "status"},
		),

		// Pool snapshot metrics
		PoolWorkers: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskpool_pool_workers",
				Help: "Number of workers in the pool",
			},
			[]string{"pool"},
		),
		PoolBusyWorkers: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskpool_pool_busy_workers",
				Help: "Number of workers currently executing a task",
			},
			[]string{"pool"},
		),
		PoolIdleWorkers: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskpool_pool_idle_workers",
				Help: "Number of workers waiting for work",
			},
			[]string{"pool"},
		),
		PoolPendingTasks: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskpool_pool_pending_tasks",
				Help: "Number of tasks queued but not yet started",
			},
			[]string{"pool"},
		),
		PoolRunning: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskpool_pool_running",
				Help: "Pool running state (1=running, 0=stopped)",
			},
			[]string{"pool"},
		),
		PoolTasksSubmitted: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskpool_pool_tasks_submitted",
				Help: "Cumulative accepted submissions (snapshot)",
			},
			[]string{"pool"},
		),
		PoolTasksCompleted: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskpool_pool_tasks_completed",
				Help: "Cumulative successfully completed tasks (snapshot)",
			},
			[]string{"pool"},
		),
		PoolTasksFailed: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskpool_pool_tasks_failed",
				Help: "Cumulative failed tasks (snapshot)",
			},
			[]string{"pool"},
		),
		PoolTasksDiscarded: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskpool_pool_tasks_discarded",
				Help: "Cumulative tasks dropped by discarding shutdowns (snapshot)",
			},
			[]string{"pool"},
		),

		// Custom metrics
		CustomCounters:   make(map[string]*prometheus.CounterVec),
		CustomGauges:     make(map[string]*prometheus.GaugeVec),
		CustomHistograms: make(map[string]*prometheus.HistogramVec),

		registerer: registerer,
	}

	return m
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, path, status).Observe(float64(responseSize))
}

// RecordTask records a task execution metric
func (m *Metrics) RecordTask(name, status string, duration time.Duration) {
	m.TasksTotal.WithLabelValues(name, status).Inc()
	m.TaskDuration.WithLabelValues(name, status).Observe(duration.Seconds())
}

// UpdatePool updates the pool snapshot metrics
func (m *Metrics) UpdatePool(poolName string, workers, busy, idle, pending int, running bool, submitted, completed, failed, discarded uint64) {
	m.PoolWorkers.WithLabelValues(poolName).Set(float64(workers))
	m.PoolBusyWorkers.WithLabelValues(poolName).Set(float64(busy))
	m.PoolIdleWorkers.WithLabelValues(poolName).Set(float64(idle))
	m.PoolPendingTasks.WithLabelValues(poolName).Set(float64(pending))
	if running {
		m.PoolRunning.WithLabelValues(poolName).Set(1)
	} else {
		m.PoolRunning.WithLabelValues(poolName).Set(0)
	}
	m.PoolTasksSubmitted.WithLabelValues(poolName).Set(float64(submitted))
	m.PoolTasksCompleted.WithLabelValues(poolName).Set(float64(completed))
	m.PoolTasksFailed.WithLabelValues(poolName).Set(float64(failed))
	m.PoolTasksDiscarded.WithLabelValues(poolName).Set(float64(discarded))
}

// Counter creates or returns a custom counter metric
func (m *Metrics) Counter(name, help string, labels ...string) *prometheus.CounterVec {
	m.customMu.RLock()
	if counter, exists := m.CustomCounters[name]; exists {
		m.customMu.RUnlock()
		return counter
	}
	m.customMu.RUnlock()

	m.customMu.Lock()
	defer m.customMu.Unlock()

	// Double-check after acquiring write lock
	if counter, exists := m.CustomCounters[name]; exists {
		return counter
	}

	counter := promauto.With(m.registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: name,
			Help: help,
		},
		labels,
	)
	m.CustomCounters[name] = counter
	return counter
}

// Gauge creates or returns a custom gauge metric
func (m *Metrics) Gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	m.customMu.RLock()
	if gauge, exists := m.CustomGauges[name]; exists {
		m.customMu.RUnlock()
		return gauge
	}
	m.customMu.RUnlock()

	m.customMu.Lock()
	defer m.customMu.Unlock()

	// Double-check after acquiring write lock
	if gauge, exists := m.CustomGauges[name]; exists {
		return gauge
	}

	gauge := promauto.With(m.registerer).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: name,
			Help: help,
		},
		labels,
	)
	m.CustomGauges[name] = gauge
	return gauge
}

// Histogram creates or returns a custom histogram metric
func (m *Metrics) Histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	m.customMu.RLock()
	if histogram, exists := m.CustomHistograms[name]; exists {
		m.customMu.RUnlock()
		return histogram
	}
	m.customMu.RUnlock()

	m.customMu.Lock()
	defer m.customMu.Unlock()

	// Double-check after acquiring write lock
	if histogram, exists := m.CustomHistograms[name]; exists {
		return histogram
	}

	opts := prometheus.HistogramOpts{
		Name:    name,
		Help:    help,
		Buckets: buckets,
	}
	if buckets == nil {
		opts.Buckets = prometheus.DefBuckets
	}

	histogram := promauto.With(m.registerer).NewHistogramVec(opts, labels)
	m.CustomHistograms[name] = histogram
	return histogram
}

// Convenience functions for global metrics

// Counter returns a custom counter metric (creates if doesn't exist)
func Counter(name, help string, labels ...string) *prometheus.CounterVec {
	return GetMetrics().Counter(name, help, labels...)
}

// Gauge returns a custom gauge metric (creates if doesn't exist)
func Gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return GetMetrics().Gauge(name, help, labels...)
}

// Histogram returns a custom histogram metric (creates if doesn't exist)
func Histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return GetMetrics().Histogram(name, help, buckets, labels...)
}
