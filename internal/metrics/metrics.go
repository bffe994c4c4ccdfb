// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's collectors. Per-request state is passed
// explicitly; nothing here leaks across requests beyond the counters
// themselves.
type Metrics struct {
	Requests     *prometheus.CounterVec
	Iterations   prometheus.Histogram
	ToolRuns     *prometheus.CounterVec
	ToolDuration *prometheus.HistogramVec
	Terminations *prometheus.CounterVec
	StreamErrors prometheus.Counter
}

// New registers and returns the service collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_chat_requests_total",
			Help: "Chat requests by provider.",
		}, []string{"provider"}),
		Iterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "conduit_loop_iterations",
			Help:    "Loop iterations used per request.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		ToolRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_tool_runs_total",
			Help: "Tool executions by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conduit_tool_duration_seconds",
			Help:    "Tool execution duration by tool name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		Terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_loop_terminations_total",
			Help: "Loop terminations by reason.",
		}, []string{"reason"}),
		StreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conduit_provider_stream_errors_total",
			Help: "Provider streams that failed to open.",
		}),
	}
	reg.MustRegister(m.Requests, m.Iterations, m.ToolRuns, m.ToolDuration, m.Terminations, m.StreamErrors)
	return m
}
