package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tokenfeed"

// Drop reasons.
const (
	DropNoConsumer  = "no_consumer"
	DropNotRelevant = "not_relevant"
	DropDecodeError = "decode_error"
	DropPanic       = "consumer_panic"
)

// Fetch outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeFailure = "failure"
)

// Metrics holds every collector used by the stream core.
type Metrics struct {
	states         []string
	connState      *prometheus.GaugeVec
	reconnects     prometheus.Counter
	framesReceived *prometheus.CounterVec
	framesRouted   prometheus.Counter
	framesDropped  *prometheus.CounterVec
	controlSent    *prometheus.CounterVec
	fetchAttempts  *prometheus.CounterVec
	consumerItems  *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration, which is what tests usually want.
func New(reg prometheus.Registerer, states ...string) *Metrics {
	m := &Metrics{
		states: states,
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current stream connection state (1 = active state).",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts scheduled after a transport failure.",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames read from the stream by kind.",
		}, []string{"kind"}),
		framesRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_routed_total",
			Help:      "Frame deliveries to stream consumers.",
		}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped before reaching a consumer.",
		}, []string{"reason"}),
		controlSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_messages_total",
			Help:      "Subscribe/unsubscribe messages written to the stream.",
		}, []string{"action"}),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Historical fetch attempts by resource and outcome.",
		}, []string{"resource", "outcome"}),
		consumerItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consumer_items",
			Help:      "Records currently held by a stream consumer.",
		}, []string{"channel"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.connState,
			m.reconnects,
			m.framesReceived,
			m.framesRouted,
			m.framesDropped,
			m.controlSent,
			m.fetchAttempts,
			m.consumerItems,
		)
	}

	return m
}

// SetConnectionState marks state as the active one.
func (m *Metrics) SetConnectionState(state string) {
	if m == nil {
		return
	}
	for _, s := range m.states {
		if s != state {
			m.connState.WithLabelValues(s).Set(0)
		}
	}
	m.connState.WithLabelValues(state).Set(1)
}

func (m *Metrics) IncReconnects() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) IncFrameReceived(kind string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncFrameRouted() {
	if m == nil {
		return
	}
	m.framesRouted.Inc()
}

func (m *Metrics) IncFrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncControl(action string) {
	if m == nil {
		return
	}
	m.controlSent.WithLabelValues(action).Inc()
}

func (m *Metrics) IncFetch(resource, outcome string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(resource, outcome).Inc()
}

func (m *Metrics) SetConsumerItems(channel string, n int) {
	if m == nil {
		return
	}
	m.consumerItems.WithLabelValues(channel).Set(float64(n))
}

// DeleteConsumer removes the series of a torn-down consumer.
func (m *Metrics) DeleteConsumer(channel string) {
	if m == nil {
		return
	}
	m.consumerItems.DeleteLabelValues(channel)
}
