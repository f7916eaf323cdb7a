package oracle

import "github.com/prometheus/client_golang/prometheus"

var (
	oracleCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mail_trust",
			Subsystem: "oracle",
			Name:      "calls",
			Help:      "Number of oracle calls by outcome",
		},
		[]string{"outcome"},
	)
	oracleLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mail_trust",
			Subsystem: "oracle",
			Name:      "latency_seconds",
			Help:      "Latency of completed oracle calls",
			Buckets:   []float64{.1, .25, .5, 1, 2, 4, 8, 16},
		},
	)
)

func init() {
	prometheus.MustRegister(oracleCalls)
	prometheus.MustRegister(oracleLatency)
}
