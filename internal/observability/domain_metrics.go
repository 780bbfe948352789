package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athenasql_question_cycles_total",
			Help: "Total number of question cycles by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)
	agentLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "athenasql_agent_latency_seconds",
			Help:    "Agent gateway call latency in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider", "status"},
	)
	queryLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "athenasql_query_latency_seconds",
			Help:    "SQL execution latency in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"status"},
	)
	exportRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athenasql_export_rows_total",
			Help: "Total number of rows written to tabular exports by format.",
		},
		[]string{"format"},
	)
	trackedConversations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "athenasql_tracked_conversations",
			Help: "Current number of conversations held in memory.",
		},
	)
	inflightEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "athenasql_inflight_events",
			Help: "Current number of inbound events being processed.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		questionCyclesTotal,
		agentLatencySeconds,
		queryLatencySeconds,
		exportRowsTotal,
		trackedConversations,
		inflightEvents,
	)
}

func ObserveQuestionCycle(mode, outcome string) {
	questionCyclesTotal.WithLabelValues(mode, outcome).Inc()
}

func ObserveAgentCall(provider string, elapsed time.Duration, err error) {
	agentLatencySeconds.WithLabelValues(provider, statusLabel(err)).Observe(elapsed.Seconds())
}

func ObserveQuery(elapsed time.Duration, err error) {
	queryLatencySeconds.WithLabelValues(statusLabel(err)).Observe(elapsed.Seconds())
}

func ObserveExport(format string, rows int) {
	if rows > 0 {
		exportRowsTotal.WithLabelValues(format).Add(float64(rows))
	}
}

func SetTrackedConversations(count int) {
	if count < 0 {
		count = 0
	}
	trackedConversations.Set(float64(count))
}

func IncInflightEvents() {
	inflightEvents.Inc()
}

func DecInflightEvents() {
	inflightEvents.Dec()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
