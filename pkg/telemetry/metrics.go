package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var Metrics = struct {
	ActiveConnections prometheus.Gauge
	BroadcastsTotal   *prometheus.CounterVec
	DeliveriesTotal   *prometheus.CounterVec
	PrunedConnections prometheus.Counter
	InboundMessages   *prometheus.CounterVec
	OutboundSends     *prometheus.CounterVec
	SendDuration      *prometheus.HistogramVec
	ConfigReloads     *prometheus.CounterVec
	AdapterUp         *prometheus.GaugeVec
	AuthAttempts      *prometheus.CounterVec
}{
	ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "omnirelay",
		Name:      "active_event_connections",
		Help:      "Number of live event-stream subscriber connections.",
	}),

	BroadcastsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "omnirelay",
		Name:      "broadcasts_total",
		Help:      "Total broadcasts by channel.",
	}, []string{"channel"}),

	DeliveriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "omnirelay",
		Name:      "deliveries_total",
		Help:      "Per-connection broadcast deliveries by outcome.",
	}, []string{"status"}),

	PrunedConnections: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "omnirelay",
		Name:      "pruned_connections_total",
		Help:      "Connections removed by the staleness reaper.",
	}),

	InboundMessages: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "omnirelay",
		Name:      "inbound_messages_total",
		Help:      "Canonical messages received, by platform.",
	}, []string{"platform"}),

	OutboundSends: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "omnirelay",
		Name:      "outbound_sends_total",
		Help:      "Outbound sends routed to adapters, by platform and status.",
	}, []string{"platform", "status"}),

	SendDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "omnirelay",
		Name:      "send_duration_seconds",
		Help:      "Outbound send latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"platform"}),

	ConfigReloads: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "omnirelay",
		Name:      "config_reloads_total",
		Help:      "Configuration reload attempts by outcome.",
	}, []string{"status"}),

	AdapterUp: promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "omnirelay",
		Name:      "adapter_up",
		Help:      "Whether a platform adapter is loaded and live.",
	}, []string{"platform"}),

	AuthAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "omnirelay",
		Name:      "auth_attempts_total",
		Help:      "Event-channel authentication attempts by outcome.",
	}, []string{"status"}),
}
