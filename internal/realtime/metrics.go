package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_events_total",
		Help: "Inbound events dispatched by type",
	}, []string{"type"})

	metricUnknownEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_unknown_events_total",
		Help: "Inbound events with no handler (dropped)",
	})

	metricProtocolErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_protocol_errors_total",
		Help: "Inbound frames that could not be parsed",
	})

	metricRemoteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_remote_errors_total",
		Help: "Error events reported by the remote, by error type",
	}, []string{"type"})

	metricToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_tool_calls_total",
		Help: "conversation_tool calls by action and status",
	}, []string{"action", "status"})

	metricTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_transitions_total",
		Help: "Phase transition attempts by outcome (accepted, unknown_phase, not_permitted, policy)",
	}, []string{"outcome"})

	metricAudioChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_audio_chunks_sent_total",
		Help: "Conditioned audio chunks sent to the remote",
	})

	metricAudioBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_audio_payload_bytes_sent_total",
		Help: "Base64 audio payload bytes sent to the remote",
	})

	metricBargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_barge_ins_total",
		Help: "Assistant playback interrupted by user speech",
	})

	metricHandshakeMS = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "realtime_handshake_ms",
		Help:    "Session handshake latency by stage (create, connect)",
		Buckets: prometheus.ExponentialBuckets(20, 1.8, 10),
	}, []string{"stage"})

	gaugeConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_sessions_connected",
		Help: "Sessions with an open duplex channel",
	})
)
