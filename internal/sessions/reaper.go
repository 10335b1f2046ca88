package sessions

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	gaugeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sessions_active",
		Help: "Sessions held by the registry",
	})

	metricReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_reaped_total",
		Help: "Sessions closed by the reaper after their idle deadline",
	})
)

// Reaper periodically closes sessions whose deadline has passed.
type Reaper struct {
	store    Store
	interval time.Duration
	log      *zap.Logger
	onReap   func(*Entry)
	now      func() time.Time
}

// NewReaper builds a reaper. onReap, if set, runs after each reaped session is closed.
func NewReaper(store Store, interval time.Duration, log *zap.Logger, onReap func(*Entry)) *Reaper {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reaper{store: store, interval: interval, log: log, onReap: onReap, now: time.Now}
}

// Run sweeps on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep closes every expired session and returns how many were reaped.
func (r *Reaper) Sweep() int {
	expired := r.store.Expired(r.now())
	for _, e := range expired {
		if e.Session != nil {
			_ = e.Session.Close()
		}
		metricReaped.Inc()
		r.log.Info("session reaped", zap.String("session_id", e.ID), zap.Time("created_at", e.CreatedAt))
		if r.onReap != nil {
			r.onReap(e)
		}
	}
	return len(expired)
}
