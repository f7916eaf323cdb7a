package filter

import "github.com/prometheus/client_golang/prometheus"

var messagesFiltered = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mail_trust",
	Subsystem: "filter",
	Name:      "messages_total",
	Help:      "Messages handled by the content filter by outcome",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(messagesFiltered)
}
