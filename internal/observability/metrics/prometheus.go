// Package metrics provides Prometheus metrics for the metadata pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	RemoteRequests    prometheus.Counter
	RemoteFailures    prometheus.Counter
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	ConceptsResolved  prometheus.Counter
	ConceptsSkipped   prometheus.Counter
	ConceptMerges     prometheus.Counter
	MergeTieBreaks    prometheus.Counter
	PackagesAttached  prometheus.Counter
	RowsWritten       prometheus.Counter
	FetchDuration     prometheus.Histogram
	HarvestQueueDepth prometheus.Gauge
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		RemoteRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxmeta_remote_requests_total",
			Help: "Total REST API requests sent upstream",
		}),
		RemoteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxmeta_remote_failures_total",
			Help: "Total REST API requests that exhausted retries",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxmeta_cache_hits_total",
			Help: "Total lookups answered from the cache file",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxmeta_cache_misses_total",
			Help: "Total lookups that required a remote call",
		}),
		ConceptsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxmeta_concepts_resolved_total",
			Help: "Total drug concepts resolved from seed identifiers",
		}),
		ConceptsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxmeta_concepts_skipped_total",
			Help: "Total seed identifiers skipped (unknown or unavailable)",
		}),
		ConceptMerges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxmeta_concept_merges_total",
			Help: "Total historical chains merged into existing concepts",
		}),
		MergeTieBreaks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxmeta_merge_tiebreaks_total",
			Help: "Total ambiguous merges resolved by deterministic tie-break",
		}),
		PackagesAttached: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxmeta_packages_attached_total",
			Help: "Total NDC package nodes attached to concepts",
		}),
		RowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxmeta_rows_written_total",
			Help: "Total metadata rows written to the output file",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rxmeta_fetch_duration_seconds",
			Help:    "Remote fetch duration including retries",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		HarvestQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rxmeta_harvest_queue_depth",
			Help: "Pending tasks in the harvest worker pool",
		}),
	}

	prometheus.MustRegister(
		m.RemoteRequests,
		m.RemoteFailures,
		m.CacheHits,
		m.CacheMisses,
		m.ConceptsResolved,
		m.ConceptsSkipped,
		m.ConceptMerges,
		m.MergeTieBreaks,
		m.PackagesAttached,
		m.RowsWritten,
		m.FetchDuration,
		m.HarvestQueueDepth,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
