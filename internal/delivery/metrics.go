package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certrail_delivery_jobs_enqueued_total",
		Help: "Total number of delivery jobs added to the queue.",
	})

	jobsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certrail_delivery_jobs_dispatched_total",
		Help: "Total dispatch attempts by resulting status.",
	}, []string{"status"})

	dispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "certrail_delivery_dispatch_latency_seconds",
		Help:    "Latency of a single job dispatch including the mail send.",
		Buckets: prometheus.DefBuckets,
	})
)
