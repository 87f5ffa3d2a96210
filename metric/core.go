package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the bus-level metrics shared by every hub and adapter.
type Metrics struct {
	// Message flow
	MessagesReceived *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
	DecodeErrors     *prometheus.CounterVec
	RoutingErrors    prometheus.Counter

	// Tick loop
	TickDuration prometheus.Histogram
	Ticks        prometheus.Counter

	// Transports
	TransportStatus *prometheus.GaugeVec
	Reconnects      *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "controlbus",
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Messages decoded from transports",
			},
			[]string{"adapter", "kind"},
		),

		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "controlbus",
				Subsystem: "messages",
				Name:      "sent_total",
				Help:      "Messages encoded and handed to transports",
			},
			[]string{"adapter", "kind"},
		),

		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "controlbus",
				Subsystem: "messages",
				Name:      "dropped_total",
				Help:      "Messages dropped before delivery",
			},
			[]string{"reason"},
		),

		DecodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "controlbus",
				Subsystem: "messages",
				Name:      "decode_errors_total",
				Help:      "Frames that failed to decode",
			},
			[]string{"adapter"},
		),

		RoutingErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "controlbus",
				Subsystem: "messages",
				Name:      "routing_errors_total",
				Help:      "Envelopes delivered to a controller that does not own their key",
			},
		),

		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "controlbus",
				Subsystem: "tick",
				Name:      "duration_seconds",
				Help:      "Time spent in one hub tick",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
		),

		Ticks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "controlbus",
				Subsystem: "tick",
				Name:      "total",
				Help:      "Hub ticks executed",
			},
		),

		TransportStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "controlbus",
				Subsystem: "transport",
				Name:      "status",
				Help:      "Transport status (0=undefined, 1=disconnected, 2=connecting, 3=connected, 4=error)",
			},
			[]string{"adapter"},
		),

		Reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "controlbus",
				Subsystem: "transport",
				Name:      "reconnects_total",
				Help:      "Transport reconnections",
			},
			[]string{"adapter"},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.MessagesReceived,
		c.MessagesSent,
		c.MessagesDropped,
		c.DecodeErrors,
		c.RoutingErrors,
		c.TickDuration,
		c.Ticks,
		c.TransportStatus,
		c.Reconnects,
	}
}

// RecordMessageReceived increments the received counter
func (c *Metrics) RecordMessageReceived(adapter, kind string) {
	c.MessagesReceived.WithLabelValues(adapter, kind).Inc()
}

// RecordMessageSent increments the sent counter
func (c *Metrics) RecordMessageSent(adapter, kind string) {
	c.MessagesSent.WithLabelValues(adapter, kind).Inc()
}

// RecordMessageDropped increments the dropped counter
func (c *Metrics) RecordMessageDropped(reason string) {
	c.MessagesDropped.WithLabelValues(reason).Inc()
}

// RecordDecodeError increments the decode error counter
func (c *Metrics) RecordDecodeError(adapter string) {
	c.DecodeErrors.WithLabelValues(adapter).Inc()
}

// RecordRoutingError increments the routing error counter
func (c *Metrics) RecordRoutingError() {
	c.RoutingErrors.Inc()
}

// RecordTick records one tick and its duration
func (c *Metrics) RecordTick(duration time.Duration) {
	c.Ticks.Inc()
	c.TickDuration.Observe(duration.Seconds())
}

// RecordTransportStatus updates the transport status gauge
func (c *Metrics) RecordTransportStatus(adapter string, status int) {
	c.TransportStatus.WithLabelValues(adapter).Set(float64(status))
}

// RecordReconnect increments the reconnect counter
func (c *Metrics) RecordReconnect(adapter string) {
	c.Reconnects.WithLabelValues(adapter).Inc()
}
