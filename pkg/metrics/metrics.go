// Package metrics exposes Prometheus collectors for synthesis and rendering.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SynthesisCalls counts engine calls.
	// Labels: engine, outcome (success/failure/cache_hit)
	SynthesisCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubstudio_synthesis_calls_total",
			Help: "Synthesis calls by engine and outcome",
		},
		[]string{"engine", "outcome"},
	)

	// SynthesisErrors counts classified failures.
	// Labels: engine, kind (auth_rejected/quota_or_rate_limited/...)
	SynthesisErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubstudio_synthesis_errors_total",
			Help: "Classified synthesis failures by engine and kind",
		},
		[]string{"engine", "kind"},
	)

	// SynthesisRetries counts window retries and fallback advances.
	// Labels: engine, stage (window/model/recovery)
	SynthesisRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubstudio_synthesis_retries_total",
			Help: "Retries by engine and stage",
		},
		[]string{"engine", "stage"},
	)

	// SynthesisDuration observes engine call latency in seconds.
	SynthesisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dubstudio_synthesis_duration_seconds",
			Help:    "Synthesis call latency in seconds by engine",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"engine"},
	)

	// SilencedSegments counts segments replaced by silence.
	SilencedSegments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubstudio_silenced_segments_total",
			Help: "Segments replaced by silence after synthesis failed",
		},
		[]string{"engine"},
	)

	// Jobs counts finished jobs by state (done/failed/cancelled).
	Jobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubstudio_jobs_total",
			Help: "Finished generation jobs by final state",
		},
		[]string{"state"},
	)

	// RenderDuration observes end-to-end job time in seconds.
	RenderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dubstudio_render_duration_seconds",
			Help:    "End-to-end render duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
	)

	// LipSyncScore observes the alignment score of finished renders.
	LipSyncScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dubstudio_lip_sync_score",
			Help:    "Lip-sync score (0-100) of finished renders",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	// SeparationMode counts separations by path (remote/local).
	SeparationMode = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubstudio_separation_total",
			Help: "Stem separations by path",
		},
		[]string{"path"},
	)
)

// RecordCall records one engine call and its latency.
func RecordCall(engine, outcome string, seconds float64) {
	SynthesisCalls.WithLabelValues(engine, outcome).Inc()
	if seconds > 0 {
		SynthesisDuration.WithLabelValues(engine).Observe(seconds)
	}
}

// RecordError records a classified failure.
func RecordError(engine, kind string) {
	SynthesisErrors.WithLabelValues(engine, kind).Inc()
}

// RecordRetry records a retry at the given stage.
func RecordRetry(engine, stage string) {
	SynthesisRetries.WithLabelValues(engine, stage).Inc()
}

// RecordJob records a finished job.
func RecordJob(state string, seconds float64, lipSync int, scored bool) {
	Jobs.WithLabelValues(state).Inc()
	RenderDuration.Observe(seconds)
	if scored {
		LipSyncScore.Observe(float64(lipSync))
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
