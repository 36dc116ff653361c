package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the small set of counters/histograms the agent core exposes.
// This is intentionally thin: deep tracing/metrics pipelines are out of the
// "Agent Core" scope, but basic counters are ambient, like logging.
type Metrics struct {
	IterationsTotal   prometheus.Counter
	ToolCallsTotal    *prometheus.CounterVec
	ToolLatency       *prometheus.HistogramVec
	QueueDepth        *prometheus.GaugeVec
	LoopDetections    prometheus.Counter
	SynthesisCalls    prometheus.Counter
	MessageTimeouts   prometheus.Counter
	MCPCooldowns      *prometheus.CounterVec
	SchedulerFailures prometheus.Counter
}

// NewMetrics registers and returns the metric set against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IterationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nanobot_agent_iterations_total",
			Help: "Total agent-loop iterations executed.",
		}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nanobot_tool_calls_total",
			Help: "Total tool dispatches by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		ToolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "nanobot_tool_latency_seconds",
			Help: "Tool execution latency in seconds.",
		}, []string{"tool"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nanobot_bus_queue_depth",
			Help: "Current depth of the inbound/outbound bus queues.",
		}, []string{"queue"}),
		LoopDetections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nanobot_loop_detections_total",
			Help: "Total times the agent loop detected a repeated tool call.",
		}),
		SynthesisCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nanobot_synthesis_calls_total",
			Help: "Total forced tool-less synthesis calls.",
		}),
		MessageTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nanobot_message_timeouts_total",
			Help: "Total per-message overall timeouts.",
		}),
		MCPCooldowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nanobot_mcp_cooldowns_total",
			Help: "Total MCP server cooldowns entered, by server id.",
		}, []string{"server"}),
		SchedulerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nanobot_scheduler_job_failures_total",
			Help: "Total scheduler job failures.",
		}),
	}
	reg.MustRegister(
		m.IterationsTotal, m.ToolCallsTotal, m.ToolLatency, m.QueueDepth,
		m.LoopDetections, m.SynthesisCalls, m.MessageTimeouts, m.MCPCooldowns,
		m.SchedulerFailures,
	)
	return m
}
