package voice

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds a Session's operational counters and histograms,
// generalizing the teacher's expvar-based AgentMetrics (pkg/agent/agent.go)
// onto a real metrics library — the pack universally reaches for Prometheus
// over expvar for anything beyond a toy (see DESIGN.md).
type Metrics struct {
	FirstWordLatency     prometheus.Histogram
	EndOfUtteranceDelay  prometheus.Histogram
	TurnInferenceLatency prometheus.Histogram
	SessionDuration      prometheus.Histogram
	Interruptions        prometheus.Counter
	StateTransitions     *prometheus.CounterVec
}

// NewMetrics registers a Session's metrics against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// default registry; cmd/voiceagent wires prometheus.DefaultRegisterer in
// production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FirstWordLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voiceagent_first_word_latency_seconds",
			Help:    "Time from end-of-turn commit to the first audio frame of the reply.",
			Buckets: prometheus.DefBuckets,
		}),
		EndOfUtteranceDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voiceagent_end_of_utterance_delay_seconds",
			Help:    "Time from VAD end-of-speech to a committed end-of-turn.",
			Buckets: prometheus.DefBuckets,
		}),
		TurnInferenceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voiceagent_turn_inference_latency_seconds",
			Help:    "Latency of the end-of-turn classifier.",
			Buckets: prometheus.DefBuckets,
		}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voiceagent_session_duration_seconds",
			Help:    "Total wall-clock duration of a completed session.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		Interruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_interruptions_total",
			Help: "Count of speech handles cancelled by user interruption.",
		}),
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceagent_agent_state_transitions_total",
			Help: "Count of agent state changes, labeled by the new state.",
		}, []string{"state"}),
	}

	if reg != nil {
		reg.MustRegister(m.FirstWordLatency, m.EndOfUtteranceDelay, m.TurnInferenceLatency,
			m.SessionDuration, m.Interruptions, m.StateTransitions)
	}
	return m
}

func (m *Metrics) observeStateChange(state string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) observeInterruption() {
	if m == nil {
		return
	}
	m.Interruptions.Inc()
}

func (m *Metrics) observeEndOfUtteranceDelay(d time.Duration) {
	if m == nil {
		return
	}
	m.EndOfUtteranceDelay.Observe(d.Seconds())
}

func (m *Metrics) observeSessionDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.SessionDuration.Observe(d.Seconds())
}
