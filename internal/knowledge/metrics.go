package knowledge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus指标，进程内只注册一次
var (
	ingestCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_knowledge_ingest_total",
			Help: "Total number of knowledge ingest requests by result status",
		},
		[]string{"status"}, // success, duplicate, invalid, error
	)

	chunksWrittenCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "echo_knowledge_chunks_written_total",
			Help: "Total number of passages written to the vector store",
		},
	)

	searchCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_knowledge_search_total",
			Help: "Total number of knowledge searches by outcome",
		},
		[]string{"outcome"}, // ok, empty, error
	)

	searchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "echo_knowledge_search_duration_seconds",
			Help:    "Duration of knowledge searches including query embedding",
			Buckets: prometheus.DefBuckets,
		},
	)

	deleteCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_knowledge_delete_total",
			Help: "Total number of knowledge delete requests",
		},
		[]string{"kind", "outcome"}, // kind: single, batch
	)
)
