// Package metrics registers the Prometheus counters/histograms for turns
// persisted, retrieval latency, scheduler firings and tool-call outcomes.
// Only the orchestrator iteration, tool-call outcome and scheduler firing
// collectors are updated by the core; the others stay at zero.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the single set of collectors threaded through the app.
type Metrics struct {
	TurnsPersisted *prometheus.CounterVec // labels: role

	RetrievalDuration prometheus.Histogram
	RetrievalResults  *prometheus.CounterVec // labels: kind

	SchedulerFirings *prometheus.CounterVec // labels: trigger_type, outcome

	ToolCallOutcomes *prometheus.CounterVec // labels: tool, outcome

	OrchestratorIterations prometheus.Histogram

	Errors *prometheus.CounterVec // labels: component, kind
}

// New registers every collector against reg. Pass prometheus.NewRegistry()
// in tests to avoid collisions with the global default registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsPersisted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seelen_turns_persisted_total",
			Help: "Turns written to the store, by role.",
		}, []string{"role"}),

		RetrievalDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "seelen_retrieval_duration_seconds",
			Help:    "Latency of the two-stage retrieval pipeline.",
			Buckets: prometheus.DefBuckets,
		}),

		RetrievalResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seelen_retrieval_results_total",
			Help: "Items returned from retrieval, by kind (summary|turn).",
		}, []string{"kind"}),

		SchedulerFirings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seelen_scheduler_firings_total",
			Help: "Scheduled task firings, by trigger_type and outcome.",
		}, []string{"trigger_type", "outcome"}),

		ToolCallOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seelen_tool_call_outcomes_total",
			Help: "Tool invocations from the orchestrator loop, by tool and outcome.",
		}, []string{"tool", "outcome"}),

		OrchestratorIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "seelen_orchestrator_iterations",
			Help:    "Tool-call loop iterations per user turn.",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		}),

		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seelen_errors_total",
			Help: "Tagged errors, by component and taxonomy kind.",
		}, []string{"component", "kind"}),
	}
}
