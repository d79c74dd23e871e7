package sitemap

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "sitemap"

// Metrics holds the coordinator's Prometheus collectors.
type Metrics struct {
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	Refreshes       *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	SourceFailures  *prometheus.CounterVec
	SourceEntries   *prometheus.GaugeVec
	DocumentURLs    prometheus.Gauge
	DocumentBytes   prometheus.Gauge
}

// NewMetrics registers the collectors on reg. A nil reg registers on the
// default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_hits_total",
			Help:      "Document reads served from cache",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_misses_total",
			Help:      "Document reads that found the cache empty or expired",
		}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "refreshes_total",
			Help:      "Completed refresh attempts by result",
		}, []string{"result"}),
		RefreshDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "refresh_duration_seconds",
			Help:      "Time spent aggregating sources and rendering",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		SourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "source_failures_total",
			Help:      "Source fetches skipped because they failed",
		}, []string{"source"}),
		SourceEntries: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "source_entries",
			Help:      "Entries returned by each source on the last refresh",
		}, []string{"source"}),
		DocumentURLs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "document_urls",
			Help:      "URL count of the cached document",
		}),
		DocumentBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "document_bytes",
			Help:      "Size of the cached document",
		}),
	}
}
