package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "helix",
		Subsystem: "worker",
		Name:      "jobs_processed_total",
		Help:      "Job messages settled by outcome (dispatched, requeued, dropped)",
	}, []string{"outcome"})

	workItemsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "helix",
		Subsystem: "worker",
		Name:      "work_items_published_total",
		Help:      "Work item messages published, by queue kind (target, secondary)",
	}, []string{"queue_kind"})
)
