package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market ticks consumed by the engine"},
		[]string{"instrument"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted to a broker"},
		[]string{"instrument", "side"},
	)
	RiskRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "risk_rejections_total", Help: "Orders rejected by pre-trade risk checks"},
		[]string{"instrument"},
	)
	FillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fills_total", Help: "Fills applied to the portfolio"},
		[]string{"instrument", "side"},
	)
	InconsistentFillsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "inconsistent_fills_total", Help: "Fills dropped because they failed validation"},
	)
	DroppedTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dropped_ticks_total", Help: "Ticks discarded by a full streaming queue"},
		[]string{"feed"},
	)
	BrokerRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "broker_retries_total", Help: "Transient venue errors retried"},
		[]string{"op"},
	)
	PendingOrders = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "pending_orders", Help: "Orders awaiting a terminal state"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal, OrdersTotal, RiskRejectionsTotal, FillsTotal,
		InconsistentFillsTotal, DroppedTicksTotal, BrokerRetriesTotal, PendingOrders,
	)
}

// Serve exposes /metrics on addr in the background. An empty addr disables the listener.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	if addr == "" {
		return srv
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
