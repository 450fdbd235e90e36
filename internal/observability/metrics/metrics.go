package metrics

import "github.com/prometheus/client_golang/prometheus"

// PolicyMetrics exposes counters and histograms for the conversation engine.
type PolicyMetrics struct {
	turnsTotal         *prometheus.CounterVec
	safetyVerdicts     *prometheus.CounterVec
	tasksEmitted       *prometheus.CounterVec
	taskStoreFailures  prometheus.Counter
	transitionsTotal   *prometheus.CounterVec
	turnLatencySeconds *prometheus.HistogramVec
}

func NewPolicyMetrics(reg prometheus.Registerer) *PolicyMetrics {
	m := &PolicyMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "policy",
			Name:      "turns_total",
			Help:      "Patient turns handled, by reply kind",
		}, []string{"kind"}),
		safetyVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "policy",
			Name:      "safety_verdicts_total",
			Help:      "Safety classifier verdicts",
		}, []string{"label", "source"}),
		tasksEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "tasks",
			Name:      "emitted_total",
			Help:      "Callback tasks stored, by escalation reason",
		}, []string{"reason"}),
		taskStoreFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "tasks",
			Name:      "store_failures_total",
			Help:      "Failed callback task appends",
		}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "policy",
			Name:      "transitions_total",
			Help:      "Conversation state transitions",
		}, []string{"from", "to"}),
		turnLatencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "frontdesk",
			Subsystem: "policy",
			Name:      "turn_latency_seconds",
			Help:      "Time spent handling one patient turn",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.safetyVerdicts, m.tasksEmitted, m.taskStoreFailures, m.transitionsTotal, m.turnLatencySeconds)
	return m
}

func (m *PolicyMetrics) ObserveTurn(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(kind).Inc()
	m.turnLatencySeconds.WithLabelValues(kind).Observe(seconds)
}

// ObserveSafety counts a verdict. source is "classifier" or "failsafe".
func (m *PolicyMetrics) ObserveSafety(label, source string) {
	if m == nil {
		return
	}
	m.safetyVerdicts.WithLabelValues(label, source).Inc()
}

func (m *PolicyMetrics) ObserveTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *PolicyMetrics) ObserveTaskEmitted(reason string) {
	if m == nil {
		return
	}
	m.tasksEmitted.WithLabelValues(reason).Inc()
}

func (m *PolicyMetrics) ObserveTaskStoreFailure() {
	if m == nil {
		return
	}
	m.taskStoreFailures.Inc()
}
