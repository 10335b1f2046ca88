package audio

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resampledChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_resampled_chunks_total",
		Help: "Capture chunks that needed resampling to the target rate",
	})

	inputLevel = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "audio_input_level_rms",
		Help:    "RMS level of conditioned capture chunks",
		Buckets: prometheus.ExponentialBuckets(16, 2, 12),
	})

	playbackFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_playback_frames_total",
		Help: "Audio frames written to the playback sink",
	})

	playbackDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_playback_drops_total",
		Help: "Playback frames discarded by reason (flush, full, closed)",
	}, []string{"reason"})
)
