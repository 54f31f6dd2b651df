package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pulse",
		Subsystem: "realtime",
		Name:      "connections",
		Help:      "Number of live websocket connections.",
	})

	metricHandshakes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulse",
		Subsystem: "realtime",
		Name:      "handshakes_total",
		Help:      "Websocket handshake attempts by result.",
	}, []string{"result"})

	metricDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulse",
		Subsystem: "realtime",
		Name:      "deliveries_total",
		Help:      "Envelope dispatch attempts by result.",
	}, []string{"result"})
)

const (
	handshakeAccepted     = "accepted"
	handshakeUnauthorized = "unauthorized"
	handshakeRejected     = "rejected"

	deliveryDelivered = "delivered"
	deliveryOffline   = "offline"
	deliveryDropped   = "dropped"
)
