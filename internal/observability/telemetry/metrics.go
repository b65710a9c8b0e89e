package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveVoiceSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "contavoz_active_voice_sessions",
		Help: "Number of live voice sessions",
	})

	VoiceTurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contavoz_voice_turns_total",
		Help: "Voice turns processed, by intent and outcome",
	}, []string{"intent", "status"})

	RecognitionLayerTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contavoz_recognition_layer_total",
		Help: "Which recognition layer resolved each utterance",
	}, []string{"layer"})

	BargeInsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contavoz_barge_ins_total",
		Help: "Times a user interrupted playback mid sentence",
	})

	SessionTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contavoz_session_timeouts_total",
		Help: "Session timer expiries, by the state they fired in",
	}, []string{"state"})

	VoiceTurnLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "contavoz_voice_turn_latency_seconds",
		Help:    "End to end latency of a voice turn",
		Buckets: prometheus.DefBuckets,
	})

	LLMFallbackLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "contavoz_llm_fallback_latency_seconds",
		Help:    "Latency of the model fallback recognizer",
		Buckets: prometheus.DefBuckets,
	})

	DatabaseLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "contavoz_database_latency_seconds",
		Help:    "Latency of ledger queries",
		Buckets: prometheus.DefBuckets,
	})
)
