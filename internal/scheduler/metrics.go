package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	tasksQueued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mail_trust",
		Subsystem: "scheduler",
		Name:      "tasks_queued_total",
		Help:      "Background tasks accepted by the queue",
	})
	tasksRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mail_trust",
		Subsystem: "scheduler",
		Name:      "tasks_retried_total",
		Help:      "Background task attempts scheduled for retry",
	})
	tasksFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mail_trust",
		Subsystem: "scheduler",
		Name:      "tasks_finished_total",
		Help:      "Background tasks by final outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(tasksQueued, tasksRetried, tasksFinished)
}
