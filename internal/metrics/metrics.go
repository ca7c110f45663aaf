package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_pages_fetched_total",
			Help: "Pages successfully fetched, by endpoint",
		},
		[]string{"endpoint"},
	)

	FetchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_fetch_retries_total",
			Help: "Fetch attempts that were retried after a transient failure",
		},
		[]string{"endpoint"},
	)

	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_records_written_total",
			Help: "Records flushed into output segments, by endpoint",
		},
		[]string{"endpoint"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_runs_total",
			Help: "Finished extraction runs by terminal status",
		},
		[]string{"status"},
	)

	LimiterWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_limiter_wait_seconds",
			Help:    "Time spent waiting for a rate-limiter token",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)
)

// Handler exposes the default registry for the optional metrics listener.
func Handler() http.Handler {
	return promhttp.Handler()
}
