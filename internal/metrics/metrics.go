package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_calls_active",
		Help: "Call sessions currently held in the store",
	})

	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_calls_total",
		Help: "Call sessions created, by origin",
	}, []string{"origin"})

	CallsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_calls_ended_total",
		Help: "Call sessions removed, by reason",
	}, []string{"reason"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_webhook_events_total",
		Help: "Telephony webhook events by provider and acknowledgement",
	}, []string{"provider", "ack"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_stage_duration_seconds",
		Help:    "Per-stage latency of the answer pipeline",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0, 10.0},
	}, []string{"stage"})

	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_turn_duration_seconds",
		Help:    "Latency from turn start to playback command",
		Buckets: []float64{0.5, 1.0, 1.5, 2.0, 3.0, 5.0, 8.0, 13.0, 20.0},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	Apologies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_apologies_total",
		Help: "Turns answered with the fallback apology",
	})

	TurnsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_turns_rejected_total",
		Help: "Turn triggers dropped because the session was not listening",
	})

	AudioChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_audio_chunks_total",
		Help: "Streamed audio chunks received",
	})

	SilentFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_silent_flushes_total",
		Help: "Idle flushes discarded as silence",
	})

	StreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_streams_active",
		Help: "Open WebSocket streams",
	})

	EmbeddingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_embedding_duration_seconds",
		Help:    "Embedding generation latency",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.5},
	})

	ArtifactsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_audio_artifacts_purged_total",
		Help: "Expired speech artifacts removed by the janitor",
	})
)
