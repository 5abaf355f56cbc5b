package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "helix",
		Subsystem: "api",
		Name:      "jobs_submitted_total",
		Help:      "Job creation requests by outcome (created, duplicate)",
	}, []string{"outcome"})

	jobsCanceled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "helix",
		Subsystem: "api",
		Name:      "jobs_canceled_total",
		Help:      "Jobs canceled through the API",
	})

	containersIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "helix",
		Subsystem: "api",
		Name:      "containers_issued_total",
		Help:      "Storage containers issued to senders",
	})
)
