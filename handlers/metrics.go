package handlers

import "github.com/prometheus/client_golang/prometheus"

var (
	messageWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dmchat_message_writes_total",
		Help: "Message writes accepted by the store, by operation.",
	}, []string{"op"})

	snapshotsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dmchat_snapshots_sent_total",
		Help: "Live query snapshots queued to clients, by collection.",
	}, []string{"collection"})

	liveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dmchat_live_subscriptions",
		Help: "Live query subscriptions currently open.",
	})

	connectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dmchat_connected_clients",
		Help: "WebSocket clients currently connected.",
	})
)

func init() {
	prometheus.MustRegister(messageWrites, snapshotsSent, liveSubscriptions, connectedClients)
}
