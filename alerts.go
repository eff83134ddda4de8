// FILE: alerts.go
// Package main – best-effort Discord webhook notifications.
//
// One webhook, rich embeds, per-event-kind throttling:
//   • disabled entirely when no webhook URL is configured
//   • each event kind is throttled so a flapping error cannot spam the
//     channel; critical events (emergency stop, start/stop) bypass it
//   • send errors are logged and swallowed; alerting must never stall
//     or fail the trading loop
//
// Embed colors follow severity: green for good news, orange for
// warnings, red for stops and errors, blue for summaries.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

type alertKind string

const (
	alertStarted  alertKind = "engine_started"
	alertStopped  alertKind = "engine_stopped"
	alertTrade    alertKind = "trade_executed"
	alertBigWin   alertKind = "big_win"
	alertSummary  alertKind = "daily_summary"
	alertDrawdown alertKind = "drawdown_warning"
	alertStop     alertKind = "emergency_stop"
	alertErrors   alertKind = "error_burst"
)

func (k alertKind) color() int {
	switch k {
	case alertStarted, alertTrade, alertBigWin:
		return 0x00FF00
	case alertSummary:
		return 0x0099FF
	case alertDrawdown:
		return 0xFFAA00
	case alertStop, alertErrors:
		return 0xFF0000
	default:
		return 0x808080
	}
}

// critical kinds skip the per-kind throttle.
func (k alertKind) critical() bool {
	return k == alertStop || k == alertStarted || k == alertStopped
}

// Alerter posts embeds to a Discord webhook. All methods are safe for
// concurrent use and are no-ops when no webhook is configured.
type Alerter struct {
	webhook     string
	minInterval time.Duration
	hc          *http.Client

	mu       sync.Mutex
	lastSent map[alertKind]time.Time

	now func() time.Time
}

func NewAlerter(webhookURL string, minInterval time.Duration) *Alerter {
	if minInterval <= 0 {
		minInterval = time.Minute
	}
	return &Alerter{
		webhook:     webhookURL,
		minInterval: minInterval,
		hc:          &http.Client{Timeout: 5 * time.Second},
		lastSent:    make(map[alertKind]time.Time),
		now:         time.Now,
	}
}

func (a *Alerter) Enabled() bool { return a != nil && a.webhook != "" }

// throttled reports (and records) whether this kind fired too recently.
func (a *Alerter) throttled(kind alertKind) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	if last, ok := a.lastSent[kind]; ok && now.Sub(last) < a.minInterval {
		return true
	}
	a.lastSent[kind] = now
	return false
}

// send posts one embed. Fields keep their order, so pass pairs.
func (a *Alerter) send(kind alertKind, title, message string, fields [][2]string) {
	if !a.Enabled() {
		return
	}
	if !kind.critical() && a.throttled(kind) {
		return
	}

	embed := map[string]any{
		"title":       title,
		"description": message,
		"color":       kind.color(),
		"timestamp":   a.now().UTC().Format(time.RFC3339),
	}
	if len(fields) > 0 {
		fs := make([]map[string]any, 0, len(fields))
		for _, f := range fields {
			fs = append(fs, map[string]any{"name": f[0], "value": f[1], "inline": true})
		}
		embed["fields"] = fs
	}
	body := map[string]any{"embeds": []any{embed}}
	bs, _ := json.Marshal(body)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhook, bytes.NewReader(bs))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := a.hc.Do(req)
	if err != nil {
		log.Printf("[ALERT] discord send failed: %v", err)
		return
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		log.Printf("[ALERT] discord send failed: status %d", res.StatusCode)
	}
}

// --- event senders ---

func (a *Alerter) Started(mode, dataVenue, execVenue string, balance float64) {
	a.send(alertStarted, "Engine Started", "Trading engine is now running", [][2]string{
		{"Mode", mode},
		{"Data", dataVenue},
		{"Execution", execVenue},
		{"Balance", fmt.Sprintf("$%.2f", balance)},
	})
}

func (a *Alerter) Stopped(reason string) {
	a.send(alertStopped, "Engine Stopped", "Trading engine has stopped: "+reason, nil)
}

func (a *Alerter) TradeExecuted(strategy, question string, outcome Outcome, kind OrderKind, price, size, edge float64) {
	a.send(alertTrade, "Trade Executed: "+string(outcome),
		fmt.Sprintf("%s order on %s", kind, trimQuestion(question)), [][2]string{
			{"Strategy", strategy},
			{"Outcome", string(outcome)},
			{"Price", fmt.Sprintf("%.4f", price)},
			{"Size", fmt.Sprintf("$%.2f", size)},
			{"Edge", fmt.Sprintf("%.1f%%", edge*100)},
		})
}

func (a *Alerter) BigWin(profit float64, question string) {
	a.send(alertBigWin, fmt.Sprintf("Big Win! +$%.2f", profit),
		"Position resolved with profit on "+trimQuestion(question), [][2]string{
			{"Profit", fmt.Sprintf("$%.2f", profit)},
		})
}

func (a *Alerter) DailySummary(balance, pnl, pnlPct float64, trades int, winRate float64, openPositions int) {
	a.send(alertSummary, "Daily Summary",
		fmt.Sprintf("Today's P&L: $%.2f (%.1f%%)", pnl, pnlPct), [][2]string{
			{"Balance", fmt.Sprintf("$%.2f", balance)},
			{"Trades", fmt.Sprintf("%d", trades)},
			{"Win Rate", fmt.Sprintf("%.1f%%", winRate)},
			{"Open Positions", fmt.Sprintf("%d", openPositions)},
		})
}

func (a *Alerter) DrawdownWarning(current, limit float64) {
	a.send(alertDrawdown, "Drawdown Warning",
		fmt.Sprintf("Daily loss at %.1f%%, approaching %.1f%% limit", current*100, limit*100), [][2]string{
			{"Current", fmt.Sprintf("%.1f%%", current*100)},
			{"Limit", fmt.Sprintf("%.1f%%", limit*100)},
		})
}

func (a *Alerter) EmergencyStop(reason string) {
	a.send(alertStop, "EMERGENCY STOP", "Trading halted: "+reason, [][2]string{
		{"Reason", reason},
	})
}

func (a *Alerter) ErrorBurst(count int, last error) {
	msg := fmt.Sprintf("%d consecutive loop errors, pausing", count)
	if last != nil {
		msg += "; last: " + last.Error()
	}
	a.send(alertErrors, "Loop Error Burst", msg, nil)
}
