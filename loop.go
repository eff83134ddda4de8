// FILE: loop.go
// Package main – the trading engine loop.
//
// One Engine owns the whole pipeline and runs it once per poll interval:
//   1. list tradeable markets (a venue hiccup means an empty pass, not an error)
//   2. mark open positions and settle resolved markets into the ledger
//   3. refresh the balance into the risk gate (live trusts the venue,
//      paper modes trust the ledger)
//   4. evaluate every strategy, isolating panics and errors per strategy
//   5. filter intents: min edge, Kelly sizing, risk gate, size clamp,
//      sort by edge, cap per cycle
//   6. submit survivors as maker orders (taker when urgency demands)
//   7. heartbeat every 30 iterations: status log, summary export, state save
//
// Ten consecutive iteration errors trip a breaker: pause, 60s cooldown,
// auto-resume with the counter reset. A risk-gate stop halts new trading
// but the loop keeps spinning so marks, resolutions, and the status
// surface stay fresh. Shutdown cancels open orders, exports the ledger,
// and writes a final state snapshot.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	maxConsecutiveErrors = 10
	breakerCooldown      = 60 * time.Second
	pausedRetry          = 1 * time.Second
	stoppedRetry         = 10 * time.Second
	statusEvery          = 30 // iterations between heartbeats
	bigWinThreshold      = 1.00
	feedVolWindow        = 10 * time.Minute
)

// inflightLeg remembers where a resting order committed capital so the
// gate can take it back if the order dies unfilled.
type inflightLeg struct {
	marketID string
	outcome  Outcome
}

// Engine wires the gate, order book, ledger, venues, strategies, feed,
// and alerts into one loop.
type Engine struct {
	cfg    Config
	gate   *RiskGate
	book   *OrderManager
	ledger *PositionLedger
	md     MarketData
	exec   OrderExecution
	strats []Strategy
	feed   *PriceFeed // nil when no spot feed is running
	alerts *Alerter

	mu         sync.Mutex
	running    bool
	paused     bool
	iterations int64
	trades     int64
	errTotal   int64
	startedAt  time.Time
	iterMs     []float64
	inflight   map[string]inflightLeg
	lastRisk   RiskStatus
	summaryDay time.Time

	quit     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// EngineStatus is the stable /status contract.
type EngineStatus struct {
	Running        bool          `json:"running"`
	Paused         bool          `json:"paused"`
	Mode           string        `json:"mode"`
	DataVenue      string        `json:"data_venue"`
	ExecVenue      string        `json:"exec_venue"`
	Iterations     int64         `json:"iterations"`
	Trades         int64         `json:"trades_executed"`
	Errors         int64         `json:"errors"`
	UptimeSec      float64       `json:"uptime_seconds"`
	AvgIterationMs float64       `json:"avg_iteration_ms"`
	Strategies     []string      `json:"strategies"`
	Risk           RiskStatus    `json:"risk"`
	Positions      PositionStats `json:"positions"`
	Fills          FillSummary   `json:"fills"`
}

// engineState is the periodic JSON snapshot (ops cache, not a source of
// truth; open positions re-sync from the venue at boot).
type engineState struct {
	SavedAt       time.Time        `json:"saved_at"`
	Mode          string           `json:"mode"`
	Balance       float64          `json:"balance"`
	TotalPnL      float64          `json:"total_pnl"`
	DailyPnL      float64          `json:"daily_pnl"`
	Iterations    int64            `json:"iterations"`
	Trades        int64            `json:"trades_executed"`
	OpenPositions []Position       `json:"open_positions"`
	RecentCloses  []ClosedPosition `json:"recent_closes,omitempty"`
}

func NewEngine(cfg Config, gate *RiskGate, book *OrderManager, ledger *PositionLedger,
	md MarketData, exec OrderExecution, strats []Strategy, feed *PriceFeed, alerts *Alerter) *Engine {
	e := &Engine{
		cfg:      cfg,
		gate:     gate,
		book:     book,
		ledger:   ledger,
		md:       md,
		exec:     exec,
		strats:   strats,
		feed:     feed,
		alerts:   alerts,
		inflight: make(map[string]inflightLeg),
		quit:     make(chan struct{}),
		now:      time.Now,
	}
	book.OnFill(e.onFill)
	return e
}

// Run drives the loop until ctx is cancelled or Stop is called. It owns
// the order monitor goroutine; the feed and HTTP server belong to main.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	e.running = true
	e.startedAt = e.now()
	e.summaryDay = midnightUTC(e.now().UTC())
	e.mu.Unlock()

	log.Printf("[BOOT] engine running: mode=%s data=%s exec=%s strategies=%d poll=%ds",
		e.cfg.Mode, e.md.Name(), e.exec.Name(), len(e.strats), e.cfg.PollIntervalSec)
	e.alerts.Started(e.cfg.Mode, e.md.Name(), e.exec.Name(), e.gate.Balance())

	mctx, mcancel := context.WithCancel(ctx)
	defer mcancel()
	e.book.StartMonitor(mctx)

	poll := time.Duration(e.cfg.PollIntervalSec) * time.Second
	consecutive := 0
	stopSeen := false
	var lastStallLog time.Time

	for !e.done(ctx) {
		start := e.now()

		if e.Paused() {
			e.wait(ctx, pausedRetry)
			continue
		}
		if stopped, reason := e.gate.Stopped(); stopped {
			if !stopSeen {
				stopSeen = true
				e.alerts.EmergencyStop(reason)
			}
			if e.now().Sub(lastStallLog) >= stoppedRetry {
				log.Printf("[SAFETY] trading halted: %s", reason)
				lastStallLog = e.now()
			}
			e.wait(ctx, stoppedRetry)
			continue
		}
		stopSeen = false

		err := e.iterate(ctx)
		if err != nil {
			consecutive++
			e.mu.Lock()
			e.errTotal++
			e.mu.Unlock()
			mtxLoopErrors.Inc()
			log.Printf("[LOOP] iteration error (%d/%d): %v", consecutive, maxConsecutiveErrors, err)
			if consecutive >= maxConsecutiveErrors {
				log.Printf("[LOOP] too many consecutive errors, cooling down %s", breakerCooldown)
				e.alerts.ErrorBurst(consecutive, err)
				e.Pause()
				e.wait(ctx, breakerCooldown)
				e.Resume()
				consecutive = 0
			}
		} else {
			consecutive = 0
		}

		elapsed := e.now().Sub(start)
		e.pushStatus()
		if n := e.observeIteration(elapsed); err == nil && n%statusEvery == 0 {
			e.heartbeat()
		}

		if rem := poll - elapsed; rem > 0 {
			e.wait(ctx, rem)
		}
	}

	mcancel()
	e.shutdown()
}

// iterate runs one pass of the pipeline. Only a panic surfaces as an
// error; transient venue failures degrade to an empty pass.
func (e *Engine) iterate(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("iteration panic: %v", r)
		}
	}()

	e.maybeDailySummary()

	markets, merr := e.md.ListMarkets(ctx)
	if merr != nil {
		log.Printf("[TICK] markets unavailable: %v", merr)
		markets = nil
	}

	e.ledger.MarkToMarket(markets)
	for _, cp := range e.ledger.CheckResolutions(ctx, e.md) {
		e.gate.RecordClose(cp.MarketID, cp.Outcome, cp.RealizedPnL)
		if cp.RealizedPnL >= bigWinThreshold {
			e.alerts.BigWin(cp.RealizedPnL, cp.Question)
		}
	}

	e.sweepInflight()

	if e.cfg.Mode == "live" {
		if bal, berr := e.md.GetBalance(ctx); berr == nil {
			e.gate.UpdateBalance(bal)
		} else {
			log.Printf("[SYNC] balance unavailable: %v", berr)
			e.gate.UpdateBalance(e.gate.Balance())
		}
	} else {
		// Ledger equity stands in; the call still rolls the day window
		// and re-checks the stops.
		e.gate.UpdateBalance(e.gate.Balance())
	}

	intents := e.collectIntents(ctx, markets)
	for _, in := range e.filterIntents(intents) {
		e.executeIntent(ctx, in)
	}
	return nil
}

// maybeDailySummary posts yesterday's final numbers once per UTC day,
// using the last status captured before midnight.
func (e *Engine) maybeDailySummary() {
	day := midnightUTC(e.now().UTC())
	e.mu.Lock()
	if day.Equal(e.summaryDay) {
		e.mu.Unlock()
		return
	}
	last := e.lastRisk
	e.summaryDay = day
	e.mu.Unlock()
	if last.Balance > 0 {
		e.alerts.DailySummary(last.Balance, last.DailyPnL, last.DailyPnLPct,
			last.TradesToday, last.WinRate*100, last.OpenPositions)
	}
}

// collectIntents fans the snapshot out to every strategy.
func (e *Engine) collectIntents(ctx context.Context, markets []Market) []TradeIntent {
	if len(markets) == 0 {
		return nil
	}
	positions := e.ledger.ListOpen()
	balance := e.gate.Balance()

	var intents []TradeIntent
	for _, s := range e.strats {
		out := evaluateSafe(ctx, s, markets, positions, balance)
		for _, in := range out {
			IncSignal(in.Strategy)
		}
		intents = append(intents, out...)
	}
	return intents
}

// evaluateSafe isolates one strategy: a panic or error costs only its
// own intents for this pass, never the iteration.
func evaluateSafe(ctx context.Context, s Strategy, markets []Market, positions []Position, balance float64) (out []TradeIntent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[TICK] strategy %s panicked: %v", s.Name(), r)
			out = nil
		}
	}()
	out, err := s.Evaluate(ctx, markets, positions, balance)
	if err != nil {
		log.Printf("[TICK] strategy %s: %v", s.Name(), err)
		return nil
	}
	return out
}

// filterIntents applies the admission pipeline: minimum edge, Kelly
// sizing for intents that left size open, the risk gate, the gate's size
// clamp, then rank by edge and cap the cycle.
func (e *Engine) filterIntents(intents []TradeIntent) []TradeIntent {
	if len(intents) == 0 {
		return nil
	}
	approved := make([]TradeIntent, 0, len(intents))
	for _, in := range intents {
		if in.Edge < e.cfg.MinEV {
			continue
		}
		if in.Size <= 0 {
			in.Size = e.gate.SizeFromEdge(in.Edge, in.Confidence)
		}
		if in.Size <= 0 {
			continue
		}
		as := e.gate.Assess(in, e.volatilityReading(in))
		if !as.Approved {
			log.Printf("[RISK] rejected %s %s: %s", in.Strategy, in.MarketID, strings.Join(as.Reasons, "; "))
			continue
		}
		if in.Size > as.MaxSize {
			in.Size = as.MaxSize
		}
		if in.Size <= 0 {
			continue
		}
		approved = append(approved, in)
	}
	sortByEdge(approved)
	if len(approved) > e.cfg.MaxTradesPerCycle {
		approved = approved[:e.cfg.MaxTradesPerCycle]
	}
	return approved
}

// executeIntent creates and submits one order. Maker by default; intents
// tagged immediate cross the book as takers.
func (e *Engine) executeIntent(ctx context.Context, in TradeIntent) {
	kind := KindMaker
	if in.Urgency == "immediate" {
		kind = KindTaker
	}
	o := e.book.Create(in, in.Size, kind)
	if err := e.book.Submit(ctx, o.LocalID); err != nil {
		return // Submit already logged the failure
	}
	e.gate.RecordTrade(in.MarketID, in.Outcome, in.Size, in.Price)

	track := false
	if cur, ok := e.book.Get(o.LocalID); ok && !cur.State.Terminal() {
		track = true
	}
	e.mu.Lock()
	e.trades++
	if track {
		e.inflight[o.LocalID] = inflightLeg{marketID: in.MarketID, outcome: in.Outcome}
	}
	e.mu.Unlock()

	IncTrade(in.Strategy)
	log.Printf("[TICK] executed %s: %s %s $%.2f @ %.4f edge=%.1f%%",
		in.Strategy, in.Outcome, trimQuestion(in.Question), in.Size, in.Price, in.Edge*100)
	e.alerts.TradeExecuted(in.Strategy, in.Question, in.Outcome, kind, in.Price, in.Size, in.Edge)
}

// onFill turns a fill's USDC notional into outcome shares and books the
// position. Execution costs hit the ledger balance directly in paper
// modes; in live mode the periodic venue balance sync already sees them.
func (e *Engine) onFill(o ManagedOrder, f Fill) {
	if o.Side != SideBuy || f.Price <= 0 || f.Size <= 0 {
		return
	}
	shares := f.Size / f.Price
	e.ledger.Open(o.MarketID, o.Outcome, shares, f.Price, o.Strategy, o.Question)
	if e.cfg.Mode != "live" && (f.Fee > 0 || f.Rebate > 0) {
		e.gate.UpdateBalance(e.gate.Balance() + f.Rebate - f.Fee)
	}
}

// sweepInflight releases gate capital held by resting orders that went
// terminal with size unfilled, so dead orders cannot choke future
// assessments.
func (e *Engine) sweepInflight() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.inflight))
	for id := range e.inflight {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		o, ok := e.book.Get(id)
		if ok && !o.State.Terminal() {
			continue
		}
		if ok && o.State != OrderFilled && o.RemainingSize > 0 {
			e.gate.ReleaseCommitment(o.MarketID, o.Outcome, o.RemainingSize)
		}
		e.mu.Lock()
		delete(e.inflight, id)
		e.mu.Unlock()
	}
}

// volatilityReading maps an intent to the spot volatility of the asset
// its market tracks; markets with no feed symbol read as calm.
func (e *Engine) volatilityReading(in TradeIntent) float64 {
	if e.feed == nil {
		return 0
	}
	for _, sym := range e.feed.symbols {
		if assetMentioned(in.Question, sym) {
			v := e.feed.Volatility(sym, feedVolWindow)
			return math.Abs(v.ChangePct) / 100.0
		}
	}
	return 0
}

// pushStatus refreshes the capital gauges and the pre-midnight snapshot,
// and warns when the daily loss closes in on the drawdown limit.
func (e *Engine) pushStatus() {
	rs := e.gate.Status()
	open := e.ledger.Stats().Open
	SetRiskGauges(rs.Balance, rs.Exposure, rs.DailyPnL, open, rs.EmergencyStop)

	if !rs.EmergencyStop && rs.DailyPnLPct < 0 {
		loss := -rs.DailyPnLPct / 100
		if lim := e.cfg.Risk.DailyDrawdownLimit; lim > 0 && loss >= 0.8*lim {
			e.alerts.DrawdownWarning(loss, lim)
		}
	}

	e.mu.Lock()
	e.lastRisk = rs
	e.mu.Unlock()
}

func (e *Engine) observeIteration(elapsed time.Duration) int64 {
	mtxIterations.Inc()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.iterations++
	e.iterMs = append(e.iterMs, float64(elapsed)/float64(time.Millisecond))
	if len(e.iterMs) > 100 {
		e.iterMs = e.iterMs[len(e.iterMs)-100:]
	}
	return e.iterations
}

// heartbeat logs the operator status block and refreshes the on-disk
// snapshots.
func (e *Engine) heartbeat() {
	rs := e.gate.Status()
	ps := e.ledger.Stats()
	fs := e.book.FillStats()
	e.mu.Lock()
	iter, trades, errs := e.iterations, e.trades, e.errTotal
	up := e.now().Sub(e.startedAt)
	e.mu.Unlock()

	log.Printf("[STATUS] uptime=%.1fh iterations=%d trades=%d errors=%d venue=%s",
		up.Hours(), iter, trades, errs, e.exec.Name())
	log.Printf("[STATUS] balance=$%.2f daily=$%+.2f (%+.1f%%) exposure=$%.2f (%.0f%%) stop=%v",
		rs.Balance, rs.DailyPnL, rs.DailyPnLPct, rs.Exposure, rs.ExposurePct, rs.EmergencyStop)
	log.Printf("[STATUS] positions=%d unrealized=$%+.2f realized=$%+.2f winrate=%.0f%% net_fees=$%+.2f",
		ps.Open, ps.Unrealized, ps.Realized, ps.WinRate*100, fs.NetFees)

	if err := e.ledger.ExportSummary(e.summaryPath()); err != nil {
		log.Printf("[STATUS] summary export: %v", err)
	}
	if err := e.saveState(rs); err != nil {
		log.Printf("[STATUS] state save: %v", err)
	}
}

func (e *Engine) summaryPath() string {
	return filepath.Join(e.cfg.DataDir, "positions_summary.json")
}

// saveState writes the engine snapshot atomically (tmp + rename).
func (e *Engine) saveState(rs RiskStatus) error {
	e.mu.Lock()
	st := engineState{
		SavedAt:    e.now().UTC(),
		Mode:       e.cfg.Mode,
		Balance:    rs.Balance,
		TotalPnL:   rs.TotalPnL,
		DailyPnL:   rs.DailyPnL,
		Iterations: e.iterations,
		Trades:     e.trades,
	}
	e.mu.Unlock()
	st.OpenPositions = e.ledger.ListOpen()
	st.RecentCloses = e.ledger.RecentCloses(10)

	if err := os.MkdirAll(filepath.Dir(e.cfg.StateFile), 0o755); err != nil {
		return err
	}
	bs, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := e.cfg.StateFile + ".tmp"
	if err := os.WriteFile(tmp, bs, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, e.cfg.StateFile)
}

// loadEngineState reads a previous snapshot for boot-time display. Best
// effort; the venue, not this file, is the source of truth.
func loadEngineState(path string) (*engineState, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var st engineState
	if err := json.Unmarshal(bs, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// shutdown drains the engine: cancel resting orders, export the ledger,
// leave a final status block and state snapshot behind.
func (e *Engine) shutdown() {
	log.Printf("[LOOP] draining: cancelling open orders")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if n := e.book.CancelAll(ctx, ""); n > 0 {
		log.Printf("[LOOP] cancelled %d open orders", n)
	}
	e.book.WaitStopped()

	e.heartbeat()
	e.alerts.Stopped("shutdown signal")

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	log.Printf("[LOOP] shutdown complete")
}

// Pause suspends trading; marks, resolutions, and status keep running.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		e.paused = true
		log.Printf("[LOOP] paused")
	}
}

// Resume lifts a pause.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		e.paused = false
		log.Printf("[LOOP] resumed")
	}
}

// Stop ends Run after the current iteration. Idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		log.Printf("[LOOP] stop requested")
		close(e.quit)
	})
}

func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *Engine) done(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-e.quit:
		return true
	default:
		return false
	}
}

// wait sleeps up to d, returning early on shutdown.
func (e *Engine) wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-e.quit:
	case <-t.C:
	}
}

// Status assembles the full JSON snapshot for /status.
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	st := EngineStatus{
		Running:    e.running,
		Paused:     e.paused,
		Mode:       e.cfg.Mode,
		Iterations: e.iterations,
		Trades:     e.trades,
		Errors:     e.errTotal,
	}
	if e.running {
		st.UptimeSec = e.now().Sub(e.startedAt).Seconds()
	}
	if len(e.iterMs) > 0 {
		var sum float64
		for _, ms := range e.iterMs {
			sum += ms
		}
		st.AvgIterationMs = sum / float64(len(e.iterMs))
	}
	e.mu.Unlock()

	st.DataVenue = e.md.Name()
	st.ExecVenue = e.exec.Name()
	for _, s := range e.strats {
		st.Strategies = append(st.Strategies, s.Name())
	}
	st.Risk = e.gate.Status()
	st.Positions = e.ledger.Stats()
	st.Fills = e.book.FillStats()
	return st
}
