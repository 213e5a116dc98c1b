package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queuedItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "queue_processor",
		Name:      "queued_items",
		Help:      "Pending items per queue family and worker version.",
	}, []string{"queue", "version"})

	workersStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "queue_processor",
		Name:      "workers_started_total",
		Help:      "Worker Jobs created since process start.",
	}, []string{"queue", "version"})

	reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "queue_processor",
		Name:      "reconciliations_total",
		Help:      "Reconciliation passes, from notifications and polling.",
	}, []string{"queue"})
)
