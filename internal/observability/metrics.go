package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DiscoveryRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "discovery_request_duration_seconds",
			Help:    "End-to-end discovery pipeline duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 20},
		},
		[]string{"intent", "status"},
	)

	DiscoveryRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_requests_total",
			Help: "Total number of discovery requests",
		},
		[]string{"intent", "status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Per-stage pipeline duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage", "status"},
	)

	LLMCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_calls_total",
			Help: "Total number of LLM calls by component and outcome",
		},
		[]string{"component", "outcome"},
	)

	FallbackCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_fallback_total",
			Help: "Total number of component fallback activations",
		},
		[]string{"component"},
	)

	RetrievalLegDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrieval_leg_duration_seconds",
			Help:    "Retrieval leg duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"leg", "status"},
	)

	EmbeddingRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "embedding_request_duration_seconds",
			Help:    "Embedding request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"status"},
	)

	SeenFiltered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seen_candidates_filtered_total",
			Help: "Candidates excluded because they were recently surfaced",
		},
	)

	QuotaDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_denials_total",
			Help: "Discovery requests denied by the quota gate",
		},
		[]string{"tier"},
	)

	OrphanVectorsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orphan_vectors_skipped_total",
			Help: "Candidate vectors skipped because the profile no longer exists",
		},
	)

	SweepDeletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_deletions_total",
			Help: "Listings and vectors removed by the expiry sweep",
		},
		[]string{"reason"},
	)

	IndexingLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexing_lag_seconds",
			Help: "Current profile-indexing pipeline lag in seconds",
		},
	)

	IndexingEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexing_events_total",
			Help: "Total number of profile change events processed",
		},
		[]string{"operation", "status"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	SlowPipelineCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slow_pipeline_total",
			Help: "Total number of slow pipeline runs",
		},
		[]string{"severity", "intent"},
	)
)
