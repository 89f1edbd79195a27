package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the Prometheus metrics owned by the Orchestrator.
type metrics struct {
	// jobsTotal counts finished or rejected jobs by outcome: "done",
	// "failed", "timeout" or "rejected".
	jobsTotal *prometheus.CounterVec

	// jobDuration records the wall-clock time of each processed job.
	jobDuration *prometheus.HistogramVec

	// queueDepth is the number of jobs waiting for the worker.
	queueDepth prometheus.Gauge

	// nodesTotal counts nodes indexed by successful jobs.
	nodesTotal prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "ingest",
			Name:      "jobs_total",
			Help:      "Total number of ingestion jobs, partitioned by outcome.",
		}, []string{"outcome"}),

		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docrag",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of ingestion jobs from dequeue to publish.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		}, []string{"outcome"}),

		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "docrag",
			Subsystem: "ingest",
			Name:      "queue_depth",
			Help:      "Number of ingestion jobs waiting to be processed.",
		}),

		nodesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "ingest",
			Name:      "nodes_total",
			Help:      "Total number of nodes indexed by successful ingestion jobs.",
		}),
	}
}
