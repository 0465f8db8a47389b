// Package metrics provides a self-contained Prometheus registry with
// collectors for client requests and pool tasks, wired into the client and
// pool through their observer interfaces.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a fresh registry and the common collectors.
type Metrics struct {
	reg *prometheus.Registry
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	return &Metrics{reg: prometheus.NewRegistry()}
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler returns an http.Handler serving the registry, for callers that
// expose a scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// RequestMetrics observes executed S3 requests. It implements the client
// Observer interface.
type RequestMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewRequestMetrics registers request collectors on reg.
func NewRequestMetrics(reg *prometheus.Registry) *RequestMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "minis3",
		Subsystem: "client",
		Name:      "requests_total",
		Help:      "Total S3 requests executed, partitioned by operation and status code.",
	}, []string{"op", "code"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "minis3",
		Subsystem: "client",
		Name:      "request_duration_seconds",
		Help:      "Histogram of S3 request latencies, partitioned by operation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	_ = reg.Register(requests)
	_ = reg.Register(latency)
	return &RequestMetrics{requests: requests, latency: latency}
}

// ObserveRequest records one executed request. code 0 means the request
// never produced an HTTP response.
func (r *RequestMetrics) ObserveRequest(op string, code int, d time.Duration) {
	r.requests.WithLabelValues(op, strconv.Itoa(code)).Inc()
	r.latency.WithLabelValues(op).Observe(d.Seconds())
}

// PoolMetrics observes pool task lifecycle. It implements the pool
// Observer interface.
type PoolMetrics struct {
	queued  prometheus.Gauge
	busy    prometheus.Gauge
	tasks   *prometheus.CounterVec
	runtime *prometheus.HistogramVec
}

// NewPoolMetrics registers pool collectors on reg.
func NewPoolMetrics(reg *prometheus.Registry) *PoolMetrics {
	queued := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "minis3",
		Subsystem: "pool",
		Name:      "queued_tasks",
		Help:      "Tasks waiting in the pool queue.",
	})
	busy := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "minis3",
		Subsystem: "pool",
		Name:      "busy_workers",
		Help:      "Workers currently executing a task.",
	})
	tasks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "minis3",
		Subsystem: "pool",
		Name:      "tasks_total",
		Help:      "Terminal tasks, partitioned by outcome.",
	}, []string{"outcome"})
	runtime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "minis3",
		Subsystem: "pool",
		Name:      "task_duration_seconds",
		Help:      "Histogram of task execution times, partitioned by outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})

	_ = reg.Register(queued)
	_ = reg.Register(busy)
	_ = reg.Register(tasks)
	_ = reg.Register(runtime)
	return &PoolMetrics{queued: queued, busy: busy, tasks: tasks, runtime: runtime}
}

// TaskEnqueued records a submission.
func (p *PoolMetrics) TaskEnqueued() { p.queued.Inc() }

// TaskStarted records a worker claiming a task.
func (p *PoolMetrics) TaskStarted() {
	p.queued.Dec()
	p.busy.Inc()
}

// TaskDone records a task reaching a terminal state.
func (p *PoolMetrics) TaskDone(outcome string, d time.Duration) {
	p.busy.Dec()
	p.tasks.WithLabelValues(outcome).Inc()
	p.runtime.WithLabelValues(outcome).Observe(d.Seconds())
}
