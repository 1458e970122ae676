// Package metrics exposes memoryd's operational gauges and histograms on a
// Prometheus /metrics endpoint, grounded on the pack's
// cmd/metrics-server/main.go pattern (prometheus.NewCounterVec/GaugeVec,
// promhttp.Handler) rather than the teacher's OTel-metrics adapter, since the
// spec calls for a scrape endpoint specifically.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every memoryd gauge/histogram/counter. The zero value is
// unusable; construct with New.
type Metrics struct {
	QueueDepth             *prometheus.GaugeVec
	FenceHoldSeconds       prometheus.Histogram
	ConsolidationBatchSize prometheus.Histogram
	RetrievalLatency       *prometheus.HistogramVec
	JobsProcessed          *prometheus.CounterVec
	JobsFailed             *prometheus.CounterVec
	EpisodesCreated        prometheus.Counter
	FactsUpserted          *prometheus.CounterVec
}

// New constructs and registers every instrument against registry. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the global
// DefaultRegisterer across test runs.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "memoryd_queue_depth",
			Help: "Number of buffered messages per conversation queue.",
		}, []string{"conversation_id"}),
		FenceHoldSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "memoryd_fence_hold_seconds",
			Help:    "Duration a segmentation fence was held before being cleared.",
			Buckets: prometheus.DefBuckets,
		}),
		ConsolidationBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "memoryd_consolidation_batch_size",
			Help:    "Number of episodes processed per consolidation run.",
			Buckets: prometheus.LinearBuckets(1, 5, 10),
		}),
		RetrievalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "memoryd_retrieval_latency_seconds",
			Help:    "End-to-end retrieve_memory latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memoryd_jobs_processed_total",
			Help: "Jobs successfully handled, by job type.",
		}, []string{"job_type"}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memoryd_jobs_failed_total",
			Help: "Jobs that exhausted retries and were sent to the DLQ, by job type.",
		}, []string{"job_type"}),
		EpisodesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memoryd_episodes_created_total",
			Help: "Episodes inserted by the Episode Builder.",
		}),
		FactsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memoryd_facts_upserted_total",
			Help: "Facts inserted, reinforced, or superseded by the Consolidator.",
		}, []string{"action"}),
	}
	registry.MustRegister(
		m.QueueDepth, m.FenceHoldSeconds, m.ConsolidationBatchSize, m.RetrievalLatency,
		m.JobsProcessed, m.JobsFailed, m.EpisodesCreated, m.FactsUpserted,
	)
	return m
}

// Handler returns the promhttp handler for registry, for mounting at /metrics.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
