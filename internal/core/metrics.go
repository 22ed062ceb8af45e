package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	routeBroadcast = "broadcast"
	routeDirect    = "direct"
	routeRoster    = "roster"
)

// Metrics holds the hub's Prometheus collectors. Each hub owns its own registry so several
// hubs can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	connections    prometheus.Gauge
	accepted       prometheus.Counter
	rejected       prometheus.Counter
	received       prometheus.Counter
	protocolErrors prometheus.Counter
	routed         *prometheus.CounterVec
	delivered      prometheus.Counter
	deliveryErrors prometheus.Counter
	unrouted       prometheus.Counter
}

func newMetrics(queue *Queue) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wirebus", Subsystem: "hub", Name: "connections",
			Help: "Clients currently registered with the hub.",
		}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wirebus", Subsystem: "hub", Name: "connections_accepted_total",
			Help: "Connections that completed the hello handshake.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wirebus", Subsystem: "hub", Name: "connections_rejected_total",
			Help: "Connections dropped during the handshake.",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wirebus", Subsystem: "hub", Name: "messages_received_total",
			Help: "Frames read from clients and queued for routing.",
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wirebus", Subsystem: "hub", Name: "protocol_errors_total",
			Help: "Frames discarded because they violated the protocol.",
		}),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wirebus", Subsystem: "hub", Name: "messages_routed_total",
			Help: "Messages taken off the queue by the router.",
		}, []string{"mode"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wirebus", Subsystem: "hub", Name: "deliveries_total",
			Help: "Frames forwarded to a recipient.",
		}),
		deliveryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wirebus", Subsystem: "hub", Name: "delivery_errors_total",
			Help: "Forwards that failed; they are not retried.",
		}),
		unrouted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wirebus", Subsystem: "hub", Name: "messages_unrouted_total",
			Help: "Messages that matched no recipient.",
		}),
	}

	queueDepth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "wirebus", Subsystem: "hub", Name: "queue_depth",
		Help: "Messages waiting for the router.",
	}, func() float64 { return float64(queue.Len()) })

	m.registry.MustRegister(
		m.connections, m.accepted, m.rejected, m.received, m.protocolErrors,
		m.routed, m.delivered, m.deliveryErrors, m.unrouted, queueDepth,
		collectors.NewGoCollector(),
	)
	return m
}

// Gatherer exposes the collectors for scraping.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
