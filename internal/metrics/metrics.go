// Package metrics exposes Prometheus collectors for the orchestration
// loop. Methods on a nil *Metrics are no-ops so the loop can run without
// instrumentation in tests and the ask command.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Loop outcomes.
const (
	OutcomeAnswered  = "answered"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
	OutcomeTurnLimit = "turn_limit"
)

// Metrics holds the collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	loops          *prometheus.CounterVec
	turns          prometheus.Histogram
	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	condensations  *prometheus.CounterVec
	activeLoops    prometheus.Gauge
	deliveryFailed prometheus.Counter
}

// New registers every collector on a fresh registry, along with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		loops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexus",
			Name:      "loops_total",
			Help:      "Completed loop runs by outcome.",
		}, []string{"outcome"}),
		turns: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nexus",
			Name:      "loop_turns",
			Help:      "Planner calls per loop run.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16, 24},
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexus",
			Name:      "tool_invocations_total",
			Help:      "Tool invocations by tool and status.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nexus",
			Name:      "tool_duration_seconds",
			Help:      "Tool invocation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 3, 10),
		}, []string{"tool"}),
		condensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexus",
			Name:      "condensations_total",
			Help:      "Oversized tool results sent for condensation, by status.",
		}, []string{"status"}),
		activeLoops: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nexus",
			Name:      "active_loops",
			Help:      "Loop runs currently in progress.",
		}),
		deliveryFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nexus",
			Name:      "event_delivery_failures_total",
			Help:      "Event sinks that failed mid-run.",
		}),
	}
	reg.MustRegister(
		m.loops, m.turns, m.toolCalls, m.toolDuration, m.condensations, m.activeLoops, m.deliveryFailed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// LoopStarted increments the active-loop gauge.
func (m *Metrics) LoopStarted() {
	if m == nil {
		return
	}
	m.activeLoops.Inc()
}

// LoopFinished records a completed run.
func (m *Metrics) LoopFinished(outcome string, turns int) {
	if m == nil {
		return
	}
	m.activeLoops.Dec()
	m.loops.WithLabelValues(outcome).Inc()
	m.turns.Observe(float64(turns))
}

// ToolInvoked records one tool call.
func (m *Metrics) ToolInvoked(tool string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// Condensed records one condensation attempt.
func (m *Metrics) Condensed(ok bool) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	m.condensations.WithLabelValues(status).Inc()
}

// DeliveryFailed records an event sink failure.
func (m *Metrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.deliveryFailed.Inc()
}
