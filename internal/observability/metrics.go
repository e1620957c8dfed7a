package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the runtime's Prometheus instrumentation, covering run
// throughput, tool latency, compaction frequency, and active-run
// saturation. Grounded on the teacher's internal/observability.Metrics
// (promauto-registered CounterVec/HistogramVec/GaugeVec per concern),
// narrowed to this runtime's components.
type Metrics struct {
	// RunCounter tracks completed runs by terminal finish reason.
	RunCounter *prometheus.CounterVec

	// RunDuration measures total run wall-clock time in seconds.
	RunDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations by tool name and status.
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	ToolExecutionDuration *prometheus.HistogramVec

	// CompactionCounter counts compaction events by strategy.
	CompactionCounter *prometheus.CounterVec

	// ActiveRuns is a gauge of currently in-flight runs.
	ActiveRuns prometheus.Gauge

	// LLMRequestDuration measures provider completion latency in seconds.
	LLMRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers and returns the runtime's metric collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		RunCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_runs_total",
				Help: "Total number of completed agent runs by finish reason",
			},
			[]string{"finish_reason"},
		),
		RunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_run_duration_seconds",
				Help:    "Duration of a full agent run in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"platform"},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_tool_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool"},
		),
		CompactionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_compactions_total",
				Help: "Total number of context compaction events by strategy",
			},
			[]string{"strategy"},
		),
		ActiveRuns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentcore_active_runs",
				Help: "Current number of in-flight agent runs",
			},
		),
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_llm_request_duration_seconds",
				Help:    "Duration of LLM provider completion calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
	}
}
