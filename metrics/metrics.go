// Package metrics exposes Prometheus instrumentation for event channels.
//
// Every Metrics value owns a private registry so several channels (or tests)
// can be instrumented side by side. All methods are safe on a nil receiver,
// which lets callers keep instrumentation optional.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eventchannel"

// Send results recorded by ObserveSend.
const (
	SendOK           = "ok"
	SendNotConnected = "not_connected"
	SendError        = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	connectionState    *prometheus.GaugeVec
	connectionsOpened  prometheus.Counter
	reconnectAttempts  prometheus.Counter
	maxAttemptsReached prometheus.Counter
	framesReceived     prometheus.Counter
	decodeFailures     prometheus.Counter
	eventsDispatched   *prometheus.CounterVec
	listenerFailures   *prometheus.CounterVec
	messagesSent       *prometheus.CounterVec
}

// New creates the channel collectors and registers them, together with the
// Go runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current connection state (1 for the active state).",
		}, []string{"state"}),
		connectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_opened_total",
			Help:      "Total number of successfully opened connections.",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Total number of scheduled reconnection attempts.",
		}),
		maxAttemptsReached: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "max_attempts_reached_total",
			Help:      "Number of times reconnection gave up after exhausting its attempts.",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of inbound frames.",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Inbound frames dropped because they were not valid envelopes.",
		}),
		eventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Events dispatched to listeners, by event name.",
		}, []string{"event"}),
		listenerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_failures_total",
			Help:      "Listener invocations that panicked, by event name.",
		}, []string{"event"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound send calls, by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.connectionState,
		m.connectionsOpened,
		m.reconnectAttempts,
		m.maxAttemptsReached,
		m.framesReceived,
		m.decodeFailures,
		m.eventsDispatched,
		m.listenerFailures,
		m.messagesSent,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetConnectionState marks state as the only active connection state.
func (m *Metrics) SetConnectionState(state string) {
	if m == nil {
		return
	}
	m.connectionState.Reset()
	m.connectionState.WithLabelValues(state).Set(1)
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsOpened.Inc()
}

func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *Metrics) MaxAttemptsReached() {
	if m == nil {
		return
	}
	m.maxAttemptsReached.Inc()
}

func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
}

func (m *Metrics) DecodeFailure() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
}

func (m *Metrics) EventDispatched(event string) {
	if m == nil {
		return
	}
	m.eventsDispatched.WithLabelValues(event).Inc()
}

func (m *Metrics) ListenerFailure(event string) {
	if m == nil {
		return
	}
	m.listenerFailures.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveSend(result string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(result).Inc()
}
