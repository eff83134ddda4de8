// FILE: metrics.go
// Package main – Prometheus metrics for observability.
//
// Exposes the primary metrics the engine updates during operation:
//   • bot_iterations_total            – Completed trading-loop iterations
//   • bot_signals_total{strategy}     – Trade intents produced, pre risk gate
//   • bot_trades_total{strategy}      – Orders submitted to the venue
//   • bot_order_transitions_total{state} – Order state transitions by destination
//   • bot_fills_total                 – Fill events recorded against managed orders
//   • bot_risk_decisions_total{outcome} – Risk gate outcomes (approved|clamped|rejected)
//   • bot_balance_usd                 – Current balance per the risk ledger (gauge)
//   • bot_exposure_usd                – Capital committed to open trades (gauge)
//   • bot_daily_pnl_usd               – Realized P&L since daily rollover (gauge)
//   • bot_open_positions              – Open positions in the ledger (gauge)
//   • bot_emergency_stop              – 1 when the stop is engaged (gauge)
//   • bot_loop_errors_total           – Iteration errors feeding the circuit breaker
//   • bot_feed_reconnects_total       – Spot feed websocket reconnects
//
// These are registered in init() and served by the HTTP handler started in main.go
// at /metrics (Prometheus text exposition format).

package main

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxIterations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_iterations_total",
			Help: "Completed trading-loop iterations",
		},
	)

	mtxSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_signals_total",
			Help: "Trade intents produced by strategies, before the risk gate",
		},
		[]string{"strategy"},
	)

	mtxTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_trades_total",
			Help: "Orders submitted to the venue",
		},
		[]string{"strategy"},
	)

	// Counts transitions by destination state; states are things like
	// SUBMITTED, LIVE, FILLED, CANCELLED, EXPIRED, REJECTED, FAILED.
	mtxOrderStates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_order_transitions_total",
			Help: "Order state transitions split by destination state",
		},
		[]string{"state"},
	)

	mtxFills = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_fills_total",
			Help: "Fill events recorded against managed orders",
		},
	)

	mtxRiskDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_risk_decisions_total",
			Help: "Risk gate outcomes (approved|clamped|rejected)",
		},
		[]string{"outcome"},
	)

	mtxBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_balance_usd",
			Help: "Balance in USD as seen by the risk ledger",
		},
	)

	mtxExposure = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_exposure_usd",
			Help: "Capital committed to open trades",
		},
	)

	mtxDailyPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_daily_pnl_usd",
			Help: "Realized P&L since the daily rollover",
		},
	)

	mtxOpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Open positions in the ledger",
		},
	)

	// bot_emergency_stop flips to 1 when the stop engages and stays there
	// until an operator resets it; dashboards alert on the edge.
	mtxEmergencyStop = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_emergency_stop",
			Help: "1 when the emergency stop is engaged, else 0",
		},
	)

	mtxLoopErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_loop_errors_total",
			Help: "Iteration errors counted toward the circuit breaker",
		},
	)

	mtxFeedReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_feed_reconnects_total",
			Help: "Spot price feed websocket reconnect attempts",
		},
	)
)

func init() {
	prometheus.MustRegister(mtxIterations, mtxSignals, mtxTrades)
	prometheus.MustRegister(mtxOrderStates, mtxFills)
	prometheus.MustRegister(mtxRiskDecisions, mtxBalance, mtxExposure, mtxDailyPnL, mtxOpenPositions, mtxEmergencyStop)
	prometheus.MustRegister(mtxLoopErrors, mtxFeedReconnects)
}

// Helper setters (optional use by other files)
func IncSignal(strategy string)      { mtxSignals.WithLabelValues(strategy).Inc() }
func IncTrade(strategy string)       { mtxTrades.WithLabelValues(strategy).Inc() }
func IncOrderState(state string)     { mtxOrderStates.WithLabelValues(state).Inc() }
func IncRiskDecision(outcome string) { mtxRiskDecisions.WithLabelValues(outcome).Inc() }

// SetRiskGauges pushes a ledger snapshot into the capital gauges.
func SetRiskGauges(balance, exposure, dailyPnL float64, openPositions int, stopped bool) {
	mtxBalance.Set(balance)
	mtxExposure.Set(exposure)
	mtxDailyPnL.Set(dailyPnL)
	mtxOpenPositions.Set(float64(openPositions))
	if stopped {
		mtxEmergencyStop.Set(1)
	} else {
		mtxEmergencyStop.Set(0)
	}
}
