package hublink

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by the transport, the
// client and the offline queue. A nil *Metrics is valid and records nothing.
type Metrics struct {
	connectionState      prometheus.Gauge
	reconnectsScheduled  prometheus.Counter
	commandsQueued       prometheus.Counter
	commandsDelivered    prometheus.Counter
	commandsFailed       prometheus.Counter
	commandsDeadLettered prometheus.Counter
	pendingRequests      prometheus.Gauge
}

// NewMetrics creates the hublink collectors and registers them with r.
func NewMetrics(r prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hublink",
			Name:      "connection_state",
			Help:      "current transport state (0=disconnected, 1=authenticating, 2=connected)",
		}),
		reconnectsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hublink",
			Name:      "reconnects_scheduled_total",
			Help:      "number of reconnect attempts scheduled after an unexpected close",
		}),
		commandsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hublink",
			Name:      "commands_queued_total",
			Help:      "number of service calls persisted to the offline queue",
		}),
		commandsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hublink",
			Name:      "commands_delivered_total",
			Help:      "number of queued service calls delivered by a flush",
		}),
		commandsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hublink",
			Name:      "commands_failed_total",
			Help:      "number of queued service calls the hub rejected during a flush",
		}),
		commandsDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hublink",
			Name:      "commands_dead_lettered_total",
			Help:      "number of queued service calls moved to the dead-letter table",
		}),
		pendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hublink",
			Name:      "pending_requests",
			Help:      "number of commands awaiting a result from the hub",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.connectionState,
		m.reconnectsScheduled,
		m.commandsQueued,
		m.commandsDelivered,
		m.commandsFailed,
		m.commandsDeadLettered,
		m.pendingRequests,
	} {
		if err := r.Register(c); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to register metrics", err)
		}
	}
	return m, nil
}

func (m *Metrics) setConnectionState(s ConnectionState) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(s))
}

func (m *Metrics) reconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnectsScheduled.Inc()
}

func (m *Metrics) commandQueued() {
	if m == nil {
		return
	}
	m.commandsQueued.Inc()
}

func (m *Metrics) commandDelivered() {
	if m == nil {
		return
	}
	m.commandsDelivered.Inc()
}

func (m *Metrics) commandFailed() {
	if m == nil {
		return
	}
	m.commandsFailed.Inc()
}

func (m *Metrics) commandDeadLettered() {
	if m == nil {
		return
	}
	m.commandsDeadLettered.Inc()
}

func (m *Metrics) setPendingRequests(n int) {
	if m == nil {
		return
	}
	m.pendingRequests.Set(float64(n))
}
