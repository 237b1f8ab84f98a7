// Package metrics exposes execution engine metrics for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector of the engine on a private registry.
type Metrics struct {
	executionsStarted  prometheus.Counter
	executionsFinished *prometheus.CounterVec
	executionsActive   prometheus.Gauge
	executionDuration  *prometheus.HistogramVec

	nodesFinished *prometheus.CounterVec
	nodeDuration  *prometheus.HistogramVec
	nodeRetries   *prometheus.CounterVec

	budgetRejections *prometheus.CounterVec
	spendUSD         prometheus.Counter
	degradedOps      *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them, with the Go and process
// collectors, on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		executionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conduit_executions_started_total",
			Help: "Total number of executions started",
		}),
		executionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_executions_finished_total",
			Help: "Total number of executions that reached a terminal status",
		}, []string{"status", "cancelled"}),
		executionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "conduit_executions_active",
			Help: "Number of executions currently running in this process",
		}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conduit_execution_duration_seconds",
			Help:    "Wall time from start to terminal status",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 1800},
		}, []string{"status"}),
		nodesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_nodes_finished_total",
			Help: "Total number of nodes by kind and final status",
		}, []string{"kind", "status"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conduit_node_duration_seconds",
			Help:    "Node execution time including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		nodeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_node_retries_total",
			Help: "Total number of retried node invocations",
		}, []string{"kind"}),
		budgetRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_budget_rejections_total",
			Help: "Total number of nodes rejected by the budget guard",
		}, []string{"period"}),
		spendUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conduit_spend_usd_total",
			Help: "Total USD recorded against user budgets",
		}),
		degradedOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_degraded_operations_total",
			Help: "Best-effort operations that failed without failing the node",
		}, []string{"operation"}),
		registry: registry,
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.executionsStarted,
		m.executionsFinished,
		m.executionsActive,
		m.executionDuration,
		m.nodesFinished,
		m.nodeDuration,
		m.nodeRetries,
		m.budgetRejections,
		m.spendUSD,
		m.degradedOps,
	)

	return m
}

func (m *Metrics) ExecutionStarted() {
	if m == nil {
		return
	}

	m.executionsStarted.Inc()
	m.executionsActive.Inc()
}

func (m *Metrics) ExecutionFinished(status string, cancelled bool, duration time.Duration) {
	if m == nil {
		return
	}

	label := "false"
	if cancelled {
		label = "true"
	}

	m.executionsActive.Dec()
	m.executionsFinished.WithLabelValues(status, label).Inc()
	m.executionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *Metrics) NodeFinished(kind, status string, duration time.Duration) {
	if m == nil {
		return
	}

	m.nodesFinished.WithLabelValues(kind, status).Inc()
	m.nodeDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *Metrics) NodeRetried(kind string) {
	if m == nil {
		return
	}

	m.nodeRetries.WithLabelValues(kind).Inc()
}

func (m *Metrics) BudgetRejected(period string) {
	if m == nil {
		return
	}

	m.budgetRejections.WithLabelValues(period).Inc()
}

func (m *Metrics) SpendRecorded(amountUSD float64) {
	if m == nil || amountUSD <= 0 {
		return
	}

	m.spendUSD.Add(amountUSD)
}

func (m *Metrics) Degraded(operation string) {
	if m == nil {
		return
	}

	m.degradedOps.WithLabelValues(operation).Inc()
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
