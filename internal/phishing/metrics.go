package phishing

import "github.com/prometheus/client_golang/prometheus"

var (
	cacheLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mail_trust",
			Subsystem: "phishing",
			Name:      "pattern_cache_loads",
			Help:      "Number of pattern cache loads by outcome",
		},
		[]string{"outcome"},
	)
	assessments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mail_trust",
			Subsystem: "phishing",
			Name:      "assessments",
			Help:      "Number of phishing assessments by risk band",
		},
		[]string{"risk"},
	)
)

func init() {
	prometheus.MustRegister(cacheLoads)
	prometheus.MustRegister(assessments)
}

func recordCacheLoad(ok bool) {
	if ok {
		cacheLoads.WithLabelValues("ok").Inc()
		return
	}
	cacheLoads.WithLabelValues("failed").Inc()
}
