// Package metrics exports engine metrics in Prometheus format. Shaped
// directly on the donor's ai/metrics.PrometheusExporter — a registry
// plus a fixed set of Histogram/Counter/Gauge vectors constructed once
// and updated through narrow Record*/Set* methods — with the vectors
// renamed from chat/tool/LLM concerns to scheduling/dispatch concerns.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exports workflow-engine metrics in Prometheus format.
type Exporter struct {
	registry *prometheus.Registry

	executionsTotal  *prometheus.CounterVec
	executionLatency prometheus.Histogram
	executionsActive prometheus.Gauge

	nodeDispatches *prometheus.CounterVec
	nodeLatency    *prometheus.HistogramVec
	nodeRetries    *prometheus.CounterVec

	submitRejections *prometheus.CounterVec
}

// Config configures the Exporter.
type Config struct {
	Registry              *prometheus.Registry
	ExecutionLatencyBucketsSeconds []float64
	NodeLatencyBucketsSeconds      []float64
}

func DefaultConfig() Config {
	return Config{
		ExecutionLatencyBucketsSeconds: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 900},
		NodeLatencyBucketsSeconds:      []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// New constructs an Exporter and registers all vectors on its registry.
func New(cfg Config) *Exporter {
	def := DefaultConfig()
	if len(cfg.ExecutionLatencyBucketsSeconds) == 0 {
		cfg.ExecutionLatencyBucketsSeconds = def.ExecutionLatencyBucketsSeconds
	}
	if len(cfg.NodeLatencyBucketsSeconds) == 0 {
		cfg.NodeLatencyBucketsSeconds = def.NodeLatencyBucketsSeconds
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.executionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflowengine",
		Subsystem: "executions",
		Name:      "total",
		Help:      "Total number of executions by terminal status",
	}, []string{"status"})

	e.executionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "workflowengine",
		Subsystem: "executions",
		Name:      "latency_seconds",
		Help:      "Execution wall-clock latency from RUNNING to terminal",
		Buckets:   cfg.ExecutionLatencyBucketsSeconds,
	})

	e.executionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "workflowengine",
		Subsystem: "executions",
		Name:      "active",
		Help:      "Number of executions currently owned by a scheduler",
	})

	e.nodeDispatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflowengine",
		Subsystem: "nodes",
		Name:      "dispatches_total",
		Help:      "Total number of node dispatches by terminal status",
	}, []string{"status"})

	e.nodeLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "workflowengine",
		Subsystem: "nodes",
		Name:      "latency_seconds",
		Help:      "Node runner call latency in seconds",
		Buckets:   cfg.NodeLatencyBucketsSeconds,
	}, []string{"status"})

	e.nodeRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflowengine",
		Subsystem: "nodes",
		Name:      "runner_retries_total",
		Help:      "Total number of transient node-runner-call retries",
	}, []string{"node_key"})

	e.submitRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflowengine",
		Subsystem: "engine",
		Name:      "submit_rejections_total",
		Help:      "Total number of SubmitExecution calls rejected as busy, by reason (rate_limited, at_capacity)",
	}, []string{"reason"})

	registry.MustRegister(
		e.executionsTotal,
		e.executionLatency,
		e.executionsActive,
		e.nodeDispatches,
		e.nodeLatency,
		e.nodeRetries,
		e.submitRejections,
	)

	return e
}

func (e *Exporter) RecordExecutionTerminal(status string, latency time.Duration) {
	e.executionsTotal.WithLabelValues(status).Inc()
	e.executionLatency.Observe(latency.Seconds())
}

func (e *Exporter) SetActiveExecutions(count int) {
	e.executionsActive.Set(float64(count))
}

func (e *Exporter) RecordNodeDispatch(status string, latency time.Duration) {
	e.nodeDispatches.WithLabelValues(status).Inc()
	e.nodeLatency.WithLabelValues(status).Observe(latency.Seconds())
}

func (e *Exporter) RecordRunnerRetry(nodeKey string) {
	e.nodeRetries.WithLabelValues(nodeKey).Inc()
}

func (e *Exporter) RecordSubmitRejection(reason string) {
	e.submitRejections.WithLabelValues(reason).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
