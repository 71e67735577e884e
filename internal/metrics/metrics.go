// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "roomchat",
		Name:      "ws_clients",
		Help:      "Connected websocket clients.",
	})
	InboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomchat",
		Name:      "ws_inbound_events_total",
		Help:      "Events received from websocket clients, by type.",
	}, []string{"type"})
	OutboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomchat",
		Name:      "ws_outbound_events_total",
		Help:      "Envelopes queued to websocket clients, by type.",
	}, []string{"type"})
	DroppedClients = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "roomchat",
		Name:      "ws_dropped_clients_total",
		Help:      "Clients unregistered because their send buffer was full.",
	})
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "roomchat",
		Name:      "ws_rate_limited_total",
		Help:      "Inbound events dropped by the per-client rate limit.",
	})
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomchat",
		Name:      "messages_sent_total",
		Help:      "Messages persisted, by message type.",
	}, []string{"type"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
