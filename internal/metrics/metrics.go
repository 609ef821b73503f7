// Package metrics holds the agent's Prometheus collectors on a private
// registry. All methods are safe on a nil *Metrics so components can run
// without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes:
//
//	tradeagent_orders_total{mode,side}       orders filled (mode: paper|live)
//	tradeagent_decisions_total{signal}       advisory signals acted on or ignored
//	tradeagent_exits_total{reason}           exits by reason
//	tradeagent_trades_total{result}          trades by result (open|win|loss)
//	tradeagent_position_open                 1 while a position is open
//	tradeagent_realized_pnl_total            cumulative realized PnL
//	tradeagent_ticks_total                   price ticks received
//	tradeagent_reconnects_total              supervisor reconnect attempts
//	tradeagent_persist_failures_total        failed durable writes
type Metrics struct {
	registry *prometheus.Registry

	orders          *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	exits           *prometheus.CounterVec
	trades          *prometheus.CounterVec
	positionOpen    prometheus.Gauge
	realizedPnL     prometheus.Gauge
	ticks           prometheus.Counter
	reconnects      prometheus.Counter
	persistFailures prometheus.Counter
}

// New creates and registers the collectors, plus the Go and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeagent_orders_total",
			Help: "Orders filled",
		}, []string{"mode", "side"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeagent_decisions_total",
			Help: "Advisory signals received",
		}, []string{"signal"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeagent_exits_total",
			Help: "Position exits by reason",
		}, []string{"reason"}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeagent_trades_total",
			Help: "Trades counted by result (open|win|loss)",
		}, []string{"result"}),
		positionOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeagent_position_open",
			Help: "1 while a position is open",
		}),
		realizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeagent_realized_pnl_total",
			Help: "Cumulative realized PnL in the quote asset since start",
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeagent_ticks_total",
			Help: "Price ticks received",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeagent_reconnects_total",
			Help: "Supervisor reconnect attempts",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeagent_persist_failures_total",
			Help: "Failed durable state writes",
		}),
	}

	m.registry.MustRegister(
		m.orders, m.decisions, m.exits, m.trades,
		m.positionOpen, m.realizedPnL, m.ticks, m.reconnects, m.persistFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the text exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// OrderFilled counts a filled order.
func (m *Metrics) OrderFilled(simulated bool, side string) {
	if m == nil {
		return
	}
	mode := "live"
	if simulated {
		mode = "paper"
	}
	m.orders.WithLabelValues(mode, side).Inc()
}

// Decision counts an advisory signal.
func (m *Metrics) Decision(signal string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(signal).Inc()
}

// PositionOpened records an entry.
func (m *Metrics) PositionOpened() {
	if m == nil {
		return
	}
	m.positionOpen.Set(1)
	m.trades.WithLabelValues("open").Inc()
}

// PositionClosed records an exit and its realized PnL.
func (m *Metrics) PositionClosed(reason string, pnl float64) {
	if m == nil {
		return
	}
	m.positionOpen.Set(0)
	m.exits.WithLabelValues(reason).Inc()
	result := "loss"
	if pnl > 0 {
		result = "win"
	}
	m.trades.WithLabelValues(result).Inc()
	m.realizedPnL.Add(pnl)
}

// SetPositionOpen sets the open-position gauge, e.g. after a restore.
func (m *Metrics) SetPositionOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.positionOpen.Set(1)
	} else {
		m.positionOpen.Set(0)
	}
}

// Tick counts a price tick.
func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

// Reconnect counts a supervisor retry.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// PersistFailed counts a failed durable write.
func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}
