package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for live voice sessions.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	ActiveSessions  prometheus.Gauge
	SessionErrors   *prometheus.CounterVec

	// Capture metrics
	FramesSent   prometheus.Counter
	SendFailures prometheus.Counter

	// Playback metrics
	ChunksScheduled prometheus.Counter
	Interruptions   prometheus.Counter
	QueuedSources   prometheus.Gauge

	// Transcript metrics
	TurnsCompleted prometheus.Counter
	TurnsDiscarded prometheus.Counter
}

// NewMetrics creates all metrics and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "sahayak_live_sessions_started_total",
			Help: "Total number of live sessions that reached the connected state",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sahayak_live_active_sessions",
			Help: "Current number of connected live sessions",
		}),
		SessionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sahayak_live_session_errors_total",
			Help: "Total number of live sessions ended by an error, by kind",
		}, []string{"kind"}),

		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "sahayak_capture_frames_sent_total",
			Help: "Total number of microphone frames sent to the remote session",
		}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "sahayak_capture_send_failures_total",
			Help: "Total number of microphone frames the transport rejected",
		}),

		ChunksScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "sahayak_playback_chunks_scheduled_total",
			Help: "Total number of inbound audio chunks scheduled for playback",
		}),
		Interruptions: factory.NewCounter(prometheus.CounterOpts{
			Name: "sahayak_playback_interruptions_total",
			Help: "Total number of playback interruptions (barge-in)",
		}),
		QueuedSources: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sahayak_playback_queued_sources",
			Help: "Current number of scheduled or playing sources",
		}),

		TurnsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "sahayak_transcript_turns_total",
			Help: "Total number of finalized transcript exchanges",
		}),
		TurnsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "sahayak_transcript_discarded_turns_total",
			Help: "Total number of completed turns discarded because both sides were empty",
		}),
	}
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) SessionError(kind string) {
	if m == nil {
		return
	}
	m.SessionErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) FrameSent(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SendFailures.Inc()
		return
	}
	m.FramesSent.Inc()
}

func (m *Metrics) ChunkScheduled(queued int) {
	if m == nil {
		return
	}
	m.ChunksScheduled.Inc()
	m.QueuedSources.Set(float64(queued))
}

func (m *Metrics) QueueDepth(queued int) {
	if m == nil {
		return
	}
	m.QueuedSources.Set(float64(queued))
}

func (m *Metrics) Interrupted() {
	if m == nil {
		return
	}
	m.Interruptions.Inc()
	m.QueuedSources.Set(0)
}

func (m *Metrics) Turn(kept bool) {
	if m == nil {
		return
	}
	if kept {
		m.TurnsCompleted.Inc()
		return
	}
	m.TurnsDiscarded.Inc()
}
