package metrics

import "github.com/prometheus/client_golang/prometheus"

// Search and ingestion Prometheus metrics.
var (
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imgsearch",
			Name:      "search_requests_total",
			Help:      "Total number of search requests",
		},
		[]string{"query_type", "status"}, // "text" / "image"
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "imgsearch",
			Name:      "search_duration_seconds",
			Help:      "End-to-end search duration including query embedding",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"query_type"},
	)

	QueryCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imgsearch",
			Name:      "query_cache_total",
			Help:      "Query result cache hits and misses",
		},
		[]string{"result"},
	)

	IngestDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imgsearch",
			Name:      "ingest_documents_total",
			Help:      "Documents processed by ingestion",
		},
		[]string{"status"}, // "ingested" / "skipped" / "failed"
	)
)

func init() {
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(QueryCacheTotal)
	prometheus.MustRegister(IngestDocumentsTotal)
}
