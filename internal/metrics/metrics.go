package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_messages_total", Help: "Stream messages ingested by kind"},
		[]string{"kind"},
	)
	MalformedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "feed_malformed_total", Help: "Stream messages dropped as malformed"},
	)
	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "feed_reconnects_total", Help: "Feed reconnect attempts"},
	)
	ConnectionStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "feed_connection_status", Help: "Connection health: 0 disconnected, 1 connecting, 2 stale, 3 degraded, 4 live"},
	)
	SignalsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_applied_total", Help: "Raw signal updates folded into smoothed state"},
		[]string{"symbol"},
	)
	BiasFlips = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_bias_flips_total", Help: "Stabilized bias changes"},
		[]string{"symbol"},
	)
	PlansEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "plans_evicted_total", Help: "Execution plans removed by the TTL sweep"},
	)
	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_submitted_total", Help: "Orders accepted by the venue"},
		[]string{"symbol", "side"},
	)
	OrdersFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_failed_total", Help: "Order submissions rejected or errored"},
		[]string{"symbol"},
	)
	GateSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gate_skips_total", Help: "Gate evaluations short-circuited by a precondition"},
		[]string{"check"},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesTotal, MalformedTotal, ReconnectsTotal, ConnectionStatus,
		SignalsApplied, BiasFlips, PlansEvicted,
		OrdersSubmitted, OrdersFailed, GateSkips,
	)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
