// Package metrics exposes Prometheus counters and histograms for pipeline runs.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/michaelbrown/sandcmd/internal/pipeline"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry      *prometheus.Registry
	runs          *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	nonZeroExits  prometheus.Counter
}

// New creates and registers the run collectors plus the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandcmd_runs_total",
			Help: "Finished pipeline runs by outcome.",
		}, []string{"status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandcmd_transitions_total",
			Help: "Pipeline state transitions by target state.",
		}, []string{"to"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sandcmd_stage_duration_seconds",
			Help:    "Time spent in each pipeline state before moving on.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		nonZeroExits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sandcmd_nonzero_exits_total",
			Help: "Sandboxed commands that exited with a non-zero status.",
		}),
	}
	m.registry.MustRegister(
		m.runs, m.transitions, m.stageDuration, m.nonZeroExits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe records a pipeline transition. It has the signature of
// pipeline.Pipeline.OnTransition.
func (m *Metrics) Observe(t pipeline.Transition) {
	m.transitions.WithLabelValues(strings.ToLower(string(t.To))).Inc()
	m.stageDuration.WithLabelValues(strings.ToLower(string(t.From))).Observe(t.Elapsed.Seconds())

	switch t.To {
	case pipeline.StateExecuted:
		if t.Result != nil && t.Result.Exec != nil && t.Result.Exec.ExitCode != 0 {
			m.nonZeroExits.Inc()
		}
	case pipeline.StateDone:
		m.runs.WithLabelValues("completed").Inc()
	case pipeline.StateFailed:
		m.runs.WithLabelValues("failed").Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
