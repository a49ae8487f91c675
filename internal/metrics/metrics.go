package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion
	Ingested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replypacer_ingested_total",
			Help: "Inbound messages processed by the ingest sweep",
		},
		[]string{"outcome"}, // "scheduled", "duplicate", "error"
	)

	Scheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replypacer_scheduled_total",
			Help: "Scheduled messages created",
		},
		[]string{"kind"}, // "reply" or "followup"
	)

	PolicyFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replypacer_policy_fallback_total",
			Help: "Policy failures replaced by the bounded random fallback",
		},
		[]string{"policy"}, // "latency" or "followup"
	)

	// Dispatch
	Dispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replypacer_dispatch_total",
			Help: "Due scheduled messages handled by the dispatch sweep",
		},
		[]string{"outcome"}, // "sent", "canceled", "failed", "skipped"
	)

	InvariantViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "replypacer_invariant_violations_total",
			Help: "State transitions rejected after a successful claim",
		},
	)

	// Sweeps
	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replypacer_sweep_duration_seconds",
			Help:    "Duration of ingest and dispatch sweeps",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"sweep"}, // "ingest" or "dispatch"
	)
)
