package classlog

import "github.com/prometheus/client_golang/prometheus"

var (
	classifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mail_trust",
			Subsystem: "classification",
			Name:      "logged",
			Help:      "Number of logged classifications by source and category",
		},
		[]string{"source", "category"},
	)
	processingTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mail_trust",
			Subsystem: "classification",
			Name:      "processing_seconds",
			Help:      "Time spent classifying one message",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
	feedbackReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mail_trust",
			Subsystem: "classification",
			Name:      "feedback",
			Help:      "Number of feedback verdicts by correctness",
		},
		[]string{"correct"},
	)
)

func init() {
	prometheus.MustRegister(classifications)
	prometheus.MustRegister(processingTime)
	prometheus.MustRegister(feedbackReceived)
}
