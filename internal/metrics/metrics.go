package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intel_pages_fetched_total",
			Help: "Upstream pages fetched successfully",
		},
		[]string{"source"},
	)

	RecordsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intel_records_upserted_total",
			Help: "Canonical records upserted into the relational sink",
		},
		[]string{"source"},
	)

	RecordsInvalid = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intel_records_invalid_total",
			Help: "Raw items rejected by the normalizer",
		},
		[]string{"source"},
	)

	RecordFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intel_record_failures_total",
			Help: "Records that failed to upsert",
		},
		[]string{"source"},
	)

	Cycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intel_cycles_total",
			Help: "Ingestion cycles by terminal state",
		},
		[]string{"source", "state"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intel_events_dropped_total",
			Help: "Ingestion events dropped by the log queue",
		},
	)
)
