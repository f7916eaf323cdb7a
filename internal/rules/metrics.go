package rules

import "github.com/prometheus/client_golang/prometheus"

var (
	ruleRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mail_trust",
			Subsystem: "rules",
			Name:      "runs",
			Help:      "Number of rule batch runs by final status",
		},
		[]string{"status"},
	)
	ruleRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mail_trust",
			Subsystem: "rules",
			Name:      "run_duration_seconds",
			Help:      "Duration of rule batch runs",
			Buckets:   prometheus.DefBuckets,
		},
	)
	actionsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mail_trust",
			Subsystem: "rules",
			Name:      "actions",
			Help:      "Number of rule actions applied by type and outcome",
		},
		[]string{"action", "outcome"},
	)
	arrivalApplications = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mail_trust",
			Subsystem: "rules",
			Name:      "arrival_applications",
			Help:      "Number of rules that changed a newly arrived message",
		},
	)
)

func init() {
	prometheus.MustRegister(ruleRuns)
	prometheus.MustRegister(ruleRunDuration)
	prometheus.MustRegister(actionsApplied)
	prometheus.MustRegister(arrivalApplications)
}
