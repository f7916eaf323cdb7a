package classifier

import "github.com/prometheus/client_golang/prometheus"

var (
	oracleSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mail_trust",
		Subsystem: "classifier",
		Name:      "oracle_skipped_total",
		Help:      "Classifications decided by sender reputation without calling the oracle",
	})
	oracleFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mail_trust",
		Subsystem: "classifier",
		Name:      "oracle_fallbacks_total",
		Help:      "Classifications that fell back to heuristics, by reason",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(oracleSkipped, oracleFallbacks)
}
