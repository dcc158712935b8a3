// Package metrics exposes prometheus collectors for the pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway
	GatewayInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_in_flight",
			Help: "Calls currently holding a gateway token",
		},
		[]string{"target"},
	)

	GatewayWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_wait_seconds",
			Help:    "Time spent waiting for a gateway token",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms to ~16s
		},
		[]string{"target"},
	)

	GatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_calls_total",
			Help: "Gateway calls by target and outcome",
		},
		[]string{"target", "outcome"},
	)

	// External calls (mail provider, ML service)
	ExternalCallSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "external_call_seconds",
			Help:    "Latency of calls to external dependencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target", "op"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	// Ingestion
	IngestMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_total",
			Help: "Messages seen by ingestion, by result",
		},
		[]string{"mode", "result"},
	)

	// Classification
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifications_total",
			Help: "Classification decisions by phase and method",
		},
		[]string{"phase", "method"},
	)

	// Refinement
	RefinementDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refinement_decisions_total",
			Help: "Refinement overwrite decisions",
		},
		[]string{"decision"},
	)

	RefinementWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "refinement_workers_running",
			Help: "Running refinement workers",
		},
	)

	// Reclassification jobs
	ReclassifyJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reclassify_jobs_total",
			Help: "Reclassification jobs by terminal status",
		},
		[]string{"status"},
	)

	ReclassifyItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reclassify_items_total",
			Help: "Reclassification items by result",
		},
		[]string{"result"},
	)

	// Events
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Notification events dropped on full buffers",
		},
		[]string{"sink"},
	)

	// Stream consumer
	StreamEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_entries_total",
			Help: "Stream entries handled by outcome (acked, failed, dead_lettered)",
		},
		[]string{"stream", "outcome"},
	)
)

// ObserveCall records the latency of one external call.
func ObserveCall(target, op string, start time.Time) {
	ExternalCallSeconds.WithLabelValues(target, op).Observe(time.Since(start).Seconds())
}

// ObserveWait records token wait time.
func ObserveWait(target string, start time.Time) {
	GatewayWaitSeconds.WithLabelValues(target).Observe(time.Since(start).Seconds())
}
