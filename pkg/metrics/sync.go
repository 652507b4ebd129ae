package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics records drain-pass outcomes for the background sync engine.
type SyncMetrics struct {
	passDuration *prometheus.HistogramVec
	outcomes     *prometheus.CounterVec
	queueDepth   *prometheus.GaugeVec
	skipped      prometheus.Counter
}

// NewSyncMetrics registers the sync engine metrics on the provided registerer.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	passDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_pass_duration_seconds",
		Help:    "Duration of queue drain passes in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"trigger"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_item_outcomes_total",
		Help: "Queue item outcomes per drain pass.",
	}, []string{"outcome"})
	queueDepth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sync_queue_depth",
		Help: "Pending-order queue depth by status.",
	}, []string{"status"})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_passes_skipped_total",
		Help: "Drain triggers skipped because a pass was already in flight.",
	})
	reg.MustRegister(passDuration, outcomes, queueDepth, skipped)
	return &SyncMetrics{
		passDuration: passDuration,
		outcomes:     outcomes,
		queueDepth:   queueDepth,
		skipped:      skipped,
	}
}

// ObservePass records the duration of a completed drain pass.
func (s *SyncMetrics) ObservePass(trigger string, duration time.Duration) {
	if s == nil || s.passDuration == nil {
		return
	}
	s.passDuration.WithLabelValues(normalizeLabel(trigger)).Observe(duration.Seconds())
}

// IncOutcome counts one item outcome (synced, retried, terminal).
func (s *SyncMetrics) IncOutcome(outcome string) {
	if s == nil || s.outcomes == nil {
		return
	}
	s.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// SetQueueDepth publishes the current queue depth for a status.
func (s *SyncMetrics) SetQueueDepth(status string, depth int64) {
	if s == nil || s.queueDepth == nil {
		return
	}
	s.queueDepth.WithLabelValues(normalizeLabel(status)).Set(float64(depth))
}

// IncSkipped counts a trigger coalesced by the single-flight guard.
func (s *SyncMetrics) IncSkipped() {
	if s == nil || s.skipped == nil {
		return
	}
	s.skipped.Inc()
}

// HeartbeatMetrics records terminal liveness signal outcomes.
type HeartbeatMetrics struct {
	success prometheus.Counter
	failure prometheus.Counter
}

// NewHeartbeatMetrics registers heartbeat metrics on the provided registerer.
func NewHeartbeatMetrics(reg prometheus.Registerer) *HeartbeatMetrics {
	if reg == nil {
		return &HeartbeatMetrics{}
	}
	success := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heartbeat_success_total",
		Help: "Heartbeats acknowledged by the backend.",
	})
	failure := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heartbeat_failure_total",
		Help: "Heartbeats that failed; the next tick retries implicitly.",
	})
	reg.MustRegister(success, failure)
	return &HeartbeatMetrics{success: success, failure: failure}
}

// IncSuccess counts an acknowledged heartbeat.
func (h *HeartbeatMetrics) IncSuccess() {
	if h == nil || h.success == nil {
		return
	}
	h.success.Inc()
}

// IncFailure counts a failed heartbeat.
func (h *HeartbeatMetrics) IncFailure() {
	if h == nil || h.failure == nil {
		return
	}
	h.failure.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
