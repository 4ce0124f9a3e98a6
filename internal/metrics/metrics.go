package metrics

import "github.com/prometheus/client_golang/prometheus"

// Engine counters and histograms. Registered explicitly (no init()) so tests
// can use a fresh registry.
var (
	RecordsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "logsieve",
		Name:      "records_accepted_total",
		Help:      "Records accepted by the ingestion gateway",
	})

	RecordsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logsieve",
		Name:      "records_rejected_total",
		Help:      "Records rejected by the ingestion gateway",
	}, []string{"reason"})

	Overloads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "logsieve",
		Name:      "overloads_total",
		Help:      "Ingest requests that hit buffer backpressure timeouts",
	})

	RecordsIndexed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "logsieve",
		Name:      "records_indexed_total",
		Help:      "Records committed into the active segment",
	})

	RecordsDeduplicated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "logsieve",
		Name:      "records_deduplicated_total",
		Help:      "Replayed records skipped by the committed cursor",
	})

	SegmentsSealed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "logsieve",
		Name:      "segments_sealed_total",
		Help:      "Segments sealed and made queryable",
	})

	SegmentsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "logsieve",
		Name:      "segments_deleted_total",
		Help:      "Segments removed by the retention manager",
	})

	SegmentPersistRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "logsieve",
		Name:      "segment_persist_retries_total",
		Help:      "Sealed-segment write attempts that were retried",
	})

	SegmentsCorrupt = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "logsieve",
		Name:      "segments_corrupt_total",
		Help:      "Segments marked corrupt after persistence gave up",
	})

	QueriesTruncated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "logsieve",
		Name:      "queries_truncated_total",
		Help:      "Queries that returned partial results due to a deadline",
	})

	QueryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "logsieve",
		Name:      "query_duration_seconds",
		Help:      "End-to-end query execution time",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})
)

// RegisterEngineMetrics registers engine collectors with the default registry.
func RegisterEngineMetrics() {
	prometheus.MustRegister(
		RecordsAccepted,
		RecordsRejected,
		Overloads,
		RecordsIndexed,
		RecordsDeduplicated,
		SegmentsSealed,
		SegmentsDeleted,
		SegmentPersistRetries,
		SegmentsCorrupt,
		QueriesTruncated,
		QueryDuration,
	)
}
