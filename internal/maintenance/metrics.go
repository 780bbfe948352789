package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	sweepRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "athenasql_conversation_sweeps_total",
			Help: "Total number of idle conversation sweeps.",
		},
	)
	conversationsEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "athenasql_conversations_evicted_total",
			Help: "Total number of idle conversations evicted from memory.",
		},
	)
	exportsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "athenasql_exports_expired_total",
			Help: "Total number of archived exports deleted after their retention window.",
		},
	)
)

func init() {
	prometheus.MustRegister(sweepRunsTotal, conversationsEvictedTotal, exportsExpiredTotal)
}

func observeSweep(evicted int) {
	sweepRunsTotal.Inc()
	if evicted > 0 {
		conversationsEvictedTotal.Add(float64(evicted))
	}
}

func observeExportsExpired(deleted int) {
	if deleted > 0 {
		exportsExpiredTotal.Add(float64(deleted))
	}
}
