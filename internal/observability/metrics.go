package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the agent loop: LLM call
// latency, tool call latency, task outcomes, and active session count.
// Exposed at GET /metrics (SPEC_FULL.md §6).
type Metrics struct {
	// LLMRequestDuration measures Complete() call latency in seconds.
	// Labels: provider, model.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts completions by provider, model, and outcome.
	// Labels: provider, model, status (success|error).
	LLMRequestCounter *prometheus.CounterVec

	// ToolExecutionDuration measures one tool Call() in seconds.
	// Labels: tool_name.
	ToolExecutionDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool calls by name and outcome.
	// Labels: tool_name, status (success|error).
	ToolExecutionCounter *prometheus.CounterVec

	// TaskOutcomes counts Manager task terminal states.
	// Labels: status (completed|failed|blocked).
	TaskOutcomes *prometheus.CounterVec

	// ActiveSessions is the current count of live sessions.
	ActiveSessions prometheus.Gauge
}

// NewMetrics registers every instrument with the default Prometheus
// registry. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kestrel_llm_request_duration_seconds",
				Help:    "Duration of LLM completion calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_llm_requests_total",
				Help: "Total LLM completion calls by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kestrel_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"tool_name"},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_tool_executions_total",
				Help: "Total tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		TaskOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_task_outcomes_total",
				Help: "Total Manager task terminal outcomes by status",
			},
			[]string{"status"},
		),
		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "kestrel_active_sessions",
				Help: "Current number of live sessions",
			},
		),
	}
}

// RecordLLMRequest records one completed LLM call.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
}

// RecordToolExecution records one completed tool call.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordTaskOutcome records one Manager task's terminal status.
func (m *Metrics) RecordTaskOutcome(status string) {
	m.TaskOutcomes.WithLabelValues(status).Inc()
}

// SessionStarted increments the active sessions gauge.
func (m *Metrics) SessionStarted() { m.ActiveSessions.Inc() }

// SessionEnded decrements the active sessions gauge.
func (m *Metrics) SessionEnded() { m.ActiveSessions.Dec() }
