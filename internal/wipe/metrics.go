package wipe

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	bytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wipecert_wipe_bytes_written_total",
		Help: "Bytes overwritten across all sessions and passes.",
	})

	blocksRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wipecert_wipe_blocks_retried_total",
		Help: "Block operations retried after a transient I/O error.",
	})

	sessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wipecert_wipe_sessions_total",
		Help: "Wipe sessions by terminal state.",
	}, []string{"state"})

	sessionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wipecert_wipe_session_duration_seconds",
		Help:    "Wall time of wipe sessions.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"state"})

	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wipecert_wipe_active_sessions",
		Help: "Sessions currently running.",
	})

	progressDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wipecert_wipe_progress_events_dropped_total",
		Help: "Progress events dropped because the consumer fell behind.",
	})
)

func init() {
	prometheus.MustRegister(bytesWritten, blocksRetried, sessionsTotal, sessionDuration, activeSessions, progressDropped)
}
