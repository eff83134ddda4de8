// FILE: risk.go
// Package main – Capital-preservation gate for the trading engine.
//
// The RiskGate is the single authority on balance, exposure and realized
// P&L. Every strategy intent passes through Assess before the order
// manager may touch the venue:
//   • per-trade cap   – min(balance × MaxPositionPct/100, MaxSingleLoss);
//                       oversize intents are approved with MaxSize returned
//                       for the caller to clamp, plus a warning
//   • exposure cap    – committed capital (incl. this trade) vs MaxExposurePct
//   • position count  – open exposure keys vs MaxOpenPositions
//   • emergency stop  – sticky kill switch; engages on balance floor or
//                       daily/weekly drawdown breach, clears only by operator reset
//
// Locking: one mutex guards all fields. No venue I/O happens under the lock.
package main

import (
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"
)

// Assessment is the gate's verdict on a single trade intent.
// MaxSize is the size the caller may actually commit (0 when rejected).
type Assessment struct {
	Approved bool
	MaxSize  float64
	Level    string   // ok | warning | critical
	Reasons  []string // why rejected (empty when approved)
	Warnings []string // non-fatal notes (clamp, volatility, stacking)
}

// dayStats is the per-UTC-day risk window. A new window opens lazily at
// the first balance update past midnight.
type dayStats struct {
	Date          time.Time `json:"date"`
	StartBalance  float64   `json:"start_balance"`
	HighWaterMark float64   `json:"high_water_mark"`
	PnL           float64   `json:"pnl"`
	MaxDrawdown   float64   `json:"max_drawdown"` // worst fraction off the HWM
	Trades        int       `json:"trades"`
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
}

// RiskStatus is the JSON block surfaced on /status.
type RiskStatus struct {
	Balance         float64 `json:"balance"`
	StartingBalance float64 `json:"starting_balance"`
	TotalPnL        float64 `json:"total_pnl"`
	DailyPnL        float64 `json:"daily_pnl"`
	DailyPnLPct     float64 `json:"daily_pnl_pct"`
	WeeklyPnL       float64 `json:"weekly_pnl"`
	OpenPositions   int     `json:"open_positions"`
	Exposure        float64 `json:"exposure"`
	ExposurePct     float64 `json:"exposure_pct"`
	EmergencyStop   bool    `json:"emergency_stop"`
	StopReason      string  `json:"stop_reason,omitempty"`
	TradesToday     int     `json:"trades_today"`
	WinRate         float64 `json:"win_rate"`
	MaxDrawdown     float64 `json:"max_drawdown"`
}

// RiskGate tracks capital and enforces RiskLimits.
type RiskGate struct {
	mu     sync.Mutex
	limits RiskLimits

	balance         float64
	startingBalance float64

	day        dayStats
	weekStart  float64
	weekAnchor time.Time // Monday midnight UTC of the current week

	exposure  float64
	positions map[string]float64 // "market:outcome" → committed size

	stopped    bool
	stopReason string

	sessionWins   int
	sessionLosses int

	now func() time.Time
}

func NewRiskGate(limits RiskLimits, startingBalance float64) *RiskGate {
	g := &RiskGate{
		limits:          limits,
		balance:         startingBalance,
		startingBalance: startingBalance,
		weekStart:       startingBalance,
		positions:       make(map[string]float64),
		now:             time.Now,
	}
	t := g.now().UTC()
	g.day = dayStats{Date: midnightUTC(t), StartBalance: startingBalance, HighWaterMark: startingBalance}
	g.weekAnchor = mondayUTC(t)
	return g
}

func exposureKey(marketID string, outcome Outcome) string {
	return marketID + ":" + string(outcome)
}

// Assess runs admission control for one intent. volatility is the feed's
// reading for the intent's underlying asset (0 when not applicable).
func (g *RiskGate) Assess(intent TradeIntent, volatility float64) Assessment {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked(g.now().UTC())

	if g.stopped {
		IncRiskDecision("rejected")
		return Assessment{
			Level:   "critical",
			Reasons: []string{"emergency stop engaged: " + g.stopReason},
		}
	}

	a := Assessment{Approved: true, Level: "ok", MaxSize: intent.Size}

	perTrade := g.maxTradeSizeLocked()
	if intent.Size > perTrade {
		a.MaxSize = perTrade
		a.Warnings = append(a.Warnings,
			fmt.Sprintf("size clamped %.2f -> %.2f", intent.Size, perTrade))
	}

	maxExposure := g.balance * g.limits.MaxExposurePct / 100.0
	if g.exposure+a.MaxSize > maxExposure {
		IncRiskDecision("rejected")
		return Assessment{
			Level: "critical",
			Reasons: []string{fmt.Sprintf("exposure limit: %.2f + %.2f > %.2f",
				g.exposure, a.MaxSize, maxExposure)},
		}
	}

	if len(g.positions) >= g.limits.MaxOpenPositions {
		IncRiskDecision("rejected")
		return Assessment{
			Level:   "critical",
			Reasons: []string{fmt.Sprintf("open positions at limit (%d)", g.limits.MaxOpenPositions)},
		}
	}

	if volatility > g.limits.MaxVolatility {
		a.Warnings = append(a.Warnings,
			fmt.Sprintf("volatility %.3f above %.3f", volatility, g.limits.MaxVolatility))
	}
	if g.hasPositionLocked(intent.MarketID) {
		a.Warnings = append(a.Warnings, "existing position in market "+intent.MarketID)
	}

	if len(a.Warnings) > 0 {
		a.Level = "warning"
	}
	if a.MaxSize < intent.Size {
		IncRiskDecision("clamped")
	} else {
		IncRiskDecision("approved")
	}
	return a
}

// SizeFromEdge sizes a trade by fractional Kelly scaled by strategy
// confidence. Non-positive edges size to zero; positive sizes are clamped
// to [MinTradeSize, per-trade cap] and rounded to cents.
func (g *RiskGate) SizeFromEdge(edge, confidence float64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if edge <= 0 {
		return 0
	}
	size := g.balance * edge * g.limits.KellyFraction * confidence
	size = clamp(size, g.limits.MinTradeSize, g.maxTradeSizeLocked())
	return math.Round(size*100) / 100
}

// RecordTrade commits capital against a market leg. Repeat trades on the
// same (market, outcome) stack onto one exposure key.
func (g *RiskGate) RecordTrade(marketID string, outcome Outcome, size, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked(g.now().UTC())
	g.positions[exposureKey(marketID, outcome)] += size
	g.exposure += size
	g.day.Trades++
	log.Printf("[RISK] committed %.2f to %s %s @ %.3f (exposure %.2f)",
		size, marketID, outcome, price, g.exposure)
}

// RecordClose releases the (market, outcome) exposure entry and books the
// realized result. A zero-P&L close counts as a loss.
func (g *RiskGate) RecordClose(marketID string, outcome Outcome, pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := exposureKey(marketID, outcome)
	if size, ok := g.positions[key]; ok {
		delete(g.positions, key)
		g.exposure = math.Max(0, g.exposure-size)
	}
	if pnl > 0 {
		g.day.Wins++
		g.sessionWins++
	} else {
		g.day.Losses++
		g.sessionLosses++
	}
	g.updateBalanceLocked(g.balance + pnl)
}

// ReleaseCommitment returns capital committed by RecordTrade that never
// turned into a position: an order cancelled, expired, or rejected with
// size left unfilled. No win/loss bookkeeping, no balance change.
func (g *RiskGate) ReleaseCommitment(marketID string, outcome Outcome, size float64) {
	if size <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	key := exposureKey(marketID, outcome)
	cur, ok := g.positions[key]
	if !ok {
		return
	}
	rel := math.Min(cur, size)
	if cur-rel <= 1e-9 {
		delete(g.positions, key)
		rel = cur
	} else {
		g.positions[key] = cur - rel
	}
	g.exposure = math.Max(0, g.exposure-rel)
	log.Printf("[RISK] released %.2f from %s %s (exposure %.2f)", rel, marketID, outcome, g.exposure)
}

// UpdateBalance overwrites the tracked balance with the venue's reading
// (boot and periodic sync), rolls the day window, and re-checks the stops.
func (g *RiskGate) UpdateBalance(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updateBalanceLocked(v)
}

func (g *RiskGate) updateBalanceLocked(v float64) {
	g.rollLocked(g.now().UTC())
	g.balance = v
	g.day.PnL = g.balance - g.day.StartBalance
	if g.balance > g.day.HighWaterMark {
		g.day.HighWaterMark = g.balance
	}
	if g.day.HighWaterMark > 0 {
		dd := (g.day.HighWaterMark - g.balance) / g.day.HighWaterMark
		if dd > g.day.MaxDrawdown {
			g.day.MaxDrawdown = dd
		}
	}
	g.checkStopsLocked()
}

// HasPosition reports whether any outcome leg is open in the market.
func (g *RiskGate) HasPosition(marketID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hasPositionLocked(marketID)
}

func (g *RiskGate) hasPositionLocked(marketID string) bool {
	prefix := marketID + ":"
	for k := range g.positions {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

// AvailableCapital is the exposure headroom left under MaxExposurePct.
func (g *RiskGate) AvailableCapital() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return math.Max(0, g.balance*g.limits.MaxExposurePct/100.0-g.exposure)
}

// Balance returns the gate's current balance.
func (g *RiskGate) Balance() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balance
}

// Stopped reports the emergency stop plus its reason.
func (g *RiskGate) Stopped() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped, g.stopReason
}

// TriggerStop engages the emergency stop. One-way; see ResetStop.
func (g *RiskGate) TriggerStop(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.engageStopLocked(reason)
}

// ResetStop clears the emergency stop. Operator action only.
func (g *RiskGate) ResetStop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		log.Printf("[SAFETY] emergency stop reset (was: %s)", g.stopReason)
	}
	g.stopped = false
	g.stopReason = ""
	mtxEmergencyStop.Set(0)
}

// Status copies the gate for the /status surface and periodic logging.
func (g *RiskGate) Status() RiskStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked(g.now().UTC())

	s := RiskStatus{
		Balance:         g.balance,
		StartingBalance: g.startingBalance,
		TotalPnL:        g.balance - g.startingBalance,
		DailyPnL:        g.day.PnL,
		WeeklyPnL:       g.balance - g.weekStart,
		OpenPositions:   len(g.positions),
		Exposure:        g.exposure,
		EmergencyStop:   g.stopped,
		StopReason:      g.stopReason,
		TradesToday:     g.day.Trades,
		MaxDrawdown:     g.day.MaxDrawdown,
	}
	if g.day.StartBalance > 0 {
		s.DailyPnLPct = 100 * g.day.PnL / g.day.StartBalance
	}
	if g.balance > 0 {
		s.ExposurePct = 100 * g.exposure / g.balance
	}
	if n := g.sessionWins + g.sessionLosses; n > 0 {
		s.WinRate = float64(g.sessionWins) / float64(n)
	}
	return s
}

// maxTradeSizeLocked is the per-trade cap: percent-of-balance bounded by
// the absolute single-loss ceiling.
func (g *RiskGate) maxTradeSizeLocked() float64 {
	pct := g.balance * g.limits.MaxPositionPct / 100.0
	return math.Min(pct, g.limits.MaxSingleLoss)
}

// checkStopsLocked engages the emergency stop when a limit is breached.
// The stop is one-way; nothing here ever clears it.
func (g *RiskGate) checkStopsLocked() {
	if g.stopped {
		return
	}
	dailyLoss := 0.0
	if g.day.PnL < 0 && g.day.StartBalance > 0 {
		dailyLoss = -g.day.PnL / g.day.StartBalance
	}
	weeklyLoss := 0.0
	if wk := g.balance - g.weekStart; wk < 0 && g.weekStart > 0 {
		weeklyLoss = -wk / g.weekStart
	}
	switch {
	case g.balance < g.limits.MinBalance:
		g.engageStopLocked(fmt.Sprintf("balance %.2f below floor %.2f", g.balance, g.limits.MinBalance))
	case dailyLoss >= g.limits.DailyDrawdownLimit:
		g.engageStopLocked(fmt.Sprintf("daily drawdown %.1f%% hit limit %.1f%%",
			100*dailyLoss, 100*g.limits.DailyDrawdownLimit))
	case weeklyLoss >= g.limits.WeeklyDrawdownLimit:
		g.engageStopLocked(fmt.Sprintf("weekly drawdown %.1f%% hit limit %.1f%%",
			100*weeklyLoss, 100*g.limits.WeeklyDrawdownLimit))
	}
}

func (g *RiskGate) engageStopLocked(reason string) {
	if g.stopped {
		return
	}
	g.stopped = true
	g.stopReason = reason
	mtxEmergencyStop.Set(1)
	log.Printf("[SAFETY] EMERGENCY STOP engaged: %s", reason)
}

// rollLocked opens a new daily window at midnight UTC and a new weekly
// window at Monday midnight UTC.
func (g *RiskGate) rollLocked(t time.Time) {
	if day := midnightUTC(t); day.After(g.day.Date) {
		g.day = dayStats{Date: day, StartBalance: g.balance, HighWaterMark: g.balance}
	}
	if wk := mondayUTC(t); wk.After(g.weekAnchor) {
		g.weekAnchor = wk
		g.weekStart = g.balance
	}
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// mondayUTC returns the Monday 00:00 UTC that starts t's week.
func mondayUTC(t time.Time) time.Time {
	d := midnightUTC(t)
	wd := int(d.Weekday())
	if wd == 0 {
		wd = 7 // Sunday belongs to the week that began the prior Monday
	}
	return d.AddDate(0, 0, -(wd - 1))
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
