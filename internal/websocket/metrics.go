package websocket

import "github.com/prometheus/client_golang/prometheus"

var (
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "support_inbox_ws_connections",
			Help: "Current number of active websocket connections.",
		},
	)
	wsMessagesPushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_inbox_ws_messages_pushed_total",
			Help: "Total payloads pushed to live connections.",
		},
	)
	wsPushMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_inbox_ws_push_misses_total",
			Help: "Total pushes that found no usable connection.",
		},
	)
)

func init() {
	prometheus.MustRegister(wsConnections, wsMessagesPushed, wsPushMisses)
}

func incConnections() {
	wsConnections.Inc()
}

func decConnections() {
	wsConnections.Dec()
}

func incPushed() {
	wsMessagesPushed.Inc()
}

func incPushMisses() {
	wsPushMisses.Inc()
}
