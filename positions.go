// FILE: positions.go
// Package main – Position ledger: open inventory, realized results, history.
//
// Positions are keyed (market, outcome); a repeat buy blends into the
// existing position at the cost-weighted average price. Sizes are outcome
// shares, costs are USDC, so UnrealizedPnL = Size×Mark − EntryCost.
//
// Closed positions are appended to an append-only CSV
// (data/closed_positions.csv). At startup the CSV is replayed to rebuild
// realized P&L and win/loss aggregates only; open positions are never
// rebuilt from history.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Position is one open holding of outcome shares.
type Position struct {
	ID            string    `json:"id"`
	MarketID      string    `json:"market_id"`
	Question      string    `json:"question,omitempty"`
	Outcome       Outcome   `json:"outcome"`
	Size          float64   `json:"size"` // outcome shares
	AvgPrice      float64   `json:"avg_price"`
	EntryCost     float64   `json:"entry_cost"` // USDC spent
	MarkPrice     float64   `json:"mark_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	OpenedAt      time.Time `json:"opened_at"`
	Strategy      string    `json:"strategy"`
}

// ClosedPosition freezes a position at exit.
type ClosedPosition struct {
	Position
	ExitPrice      float64   `json:"exit_price"`
	ExitValue      float64   `json:"exit_value"`
	RealizedPnL    float64   `json:"realized_pnl"`
	RealizedPnLPct float64   `json:"realized_pnl_pct"`
	Resolution     string    `json:"resolution"` // win | loss | closed | resolved-win | resolved-loss
	ClosedAt       time.Time `json:"closed_at"`
}

// PositionStats is the ledger's aggregate block for /status.
type PositionStats struct {
	Open         int                `json:"open"`
	OpenExposure float64            `json:"open_exposure"` // USDC at entry
	Unrealized   float64            `json:"unrealized_pnl"`
	Realized     float64            `json:"realized_pnl"`
	Wins         int                `json:"wins"`
	Losses       int                `json:"losses"`
	WinRate      float64            `json:"win_rate"`
	PerStrategy  map[string]float64 `json:"per_strategy_pnl"`
}

// PositionLedger owns all open positions and the realized-result history.
type PositionLedger struct {
	mu       sync.Mutex
	open     map[string]*Position // position id → position
	byKey    map[string]string    // "market:outcome" → position id
	closed   []ClosedPosition     // this session, oldest first
	realized float64
	wins     int
	losses   int
	perStrat map[string]float64

	historyPath string
	now         func() time.Time
}

// NewPositionLedger replays the CSV history at historyPath (if present)
// into the aggregate counters and returns an empty open book.
func NewPositionLedger(historyPath string) *PositionLedger {
	l := &PositionLedger{
		open:        make(map[string]*Position),
		byKey:       make(map[string]string),
		perStrat:    make(map[string]float64),
		historyPath: historyPath,
		now:         time.Now,
	}
	if err := l.replayHistory(); err != nil {
		log.Printf("[POS] history replay: %v", err)
	}
	return l
}

// Open records a buy of `shares` at `price`. A second buy on the same
// (market, outcome) blends into the existing position.
func (l *PositionLedger) Open(marketID string, outcome Outcome, shares, price float64, strategy, question string) *Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := exposureKey(marketID, outcome)
	if id, ok := l.byKey[key]; ok {
		p := l.open[id]
		newCost := p.EntryCost + shares*price
		newSize := p.Size + shares
		p.Size = newSize
		p.EntryCost = newCost
		if newSize > 0 {
			p.AvgPrice = newCost / newSize
		}
		p.MarkPrice = price
		p.UnrealizedPnL = p.Size*p.MarkPrice - p.EntryCost
		log.Printf("[POS] blended %s %s: %.4f sh @ avg %.3f (cost %.2f)",
			marketID, outcome, p.Size, p.AvgPrice, p.EntryCost)
		return p
	}

	p := &Position{
		ID:        uuid.New().String(),
		MarketID:  marketID,
		Question:  question,
		Outcome:   outcome,
		Size:      shares,
		AvgPrice:  price,
		EntryCost: shares * price,
		MarkPrice: price,
		OpenedAt:  l.now(),
		Strategy:  strategy,
	}
	l.open[p.ID] = p
	l.byKey[key] = p.ID
	log.Printf("[POS] opened %s %s: %.4f sh @ %.3f (cost %.2f, %s)",
		marketID, outcome, shares, price, p.EntryCost, strategy)
	return p
}

// Close realizes a position at exitPrice and appends it to the CSV
// history. An unknown id is logged and returns (nil, nil), which makes
// double-closes idempotent. Empty resolution is derived from the P&L sign.
func (l *PositionLedger) Close(id string, exitPrice float64, resolution string) (*ClosedPosition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.open[id]
	if !ok {
		log.Printf("[POS] close: unknown id %s", id)
		return nil, nil
	}
	delete(l.open, id)
	delete(l.byKey, exposureKey(p.MarketID, p.Outcome))

	cp := ClosedPosition{
		Position:   *p,
		ExitPrice:  exitPrice,
		ExitValue:  p.Size * exitPrice,
		ClosedAt:   l.now(),
		Resolution: resolution,
	}
	cp.RealizedPnL = cp.ExitValue - p.EntryCost
	if p.EntryCost > 0 {
		cp.RealizedPnLPct = 100 * cp.RealizedPnL / p.EntryCost
	}
	if cp.Resolution == "" {
		if cp.RealizedPnL > 0 {
			cp.Resolution = "win"
		} else {
			cp.Resolution = "loss"
		}
	}

	l.closed = append(l.closed, cp)
	l.realized += cp.RealizedPnL
	if cp.RealizedPnL > 0 {
		l.wins++
	} else {
		l.losses++
	}
	l.perStrat[cp.Strategy] += cp.RealizedPnL

	if err := l.appendHistoryLocked(cp); err != nil {
		log.Printf("[POS] history append: %v", err)
	}
	log.Printf("[POS] closed %s %s: pnl %+.2f (%.1f%%, %s)",
		cp.MarketID, cp.Outcome, cp.RealizedPnL, cp.RealizedPnLPct, cp.Resolution)
	return &cp, nil
}

// MarkToMarket refreshes mark prices from a fresh market list. Positions
// whose market is missing from the list are logged and left at their last
// mark; the batch never aborts.
func (l *PositionLedger) MarkToMarket(markets []Market) {
	byID := make(map[string]Market, len(markets))
	for _, mk := range markets {
		byID[mk.ID] = mk
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.open {
		mk, ok := byID[p.MarketID]
		if !ok {
			log.Printf("[POS] mark: no quote for %s, keeping %.3f", p.MarketID, p.MarkPrice)
			continue
		}
		p.MarkPrice = mk.Price(p.Outcome)
		p.UnrealizedPnL = p.Size*p.MarkPrice - p.EntryCost
	}
}

// CheckResolutions closes positions in settled markets. A reported winner
// settles at 1.0 or 0.0; without one, a near-certain mark (≥0.95 / ≤0.05)
// decides, and anything in between stays open and is logged. Returns the
// closures so the caller can feed the risk gate.
func (l *PositionLedger) CheckResolutions(ctx context.Context, md MarketData) []ClosedPosition {
	l.mu.Lock()
	type check struct {
		id       string
		marketID string
		outcome  Outcome
		mark     float64
	}
	checks := make([]check, 0, len(l.open))
	for _, p := range l.open {
		checks = append(checks, check{p.ID, p.MarketID, p.Outcome, p.MarkPrice})
	}
	l.mu.Unlock()

	var out []ClosedPosition
	for _, c := range checks {
		st, err := md.MarketStatus(ctx, c.marketID)
		if err != nil {
			log.Printf("[POS] resolution check %s: %v", c.marketID, err)
			continue
		}
		if !st.Settled {
			continue
		}

		var exit float64
		var resolution string
		switch {
		case st.Winner != "":
			if st.Winner == c.outcome {
				exit, resolution = 1.0, "resolved-win"
			} else {
				exit, resolution = 0.0, "resolved-loss"
			}
		case c.mark >= 0.95:
			exit, resolution = 1.0, "resolved-win"
		case c.mark <= 0.05:
			exit, resolution = 0.0, "resolved-loss"
		default:
			log.Printf("[POS] %s settled but mark %.3f indeterminate, leaving open", c.marketID, c.mark)
			continue
		}

		cp, err := l.Close(c.id, exit, resolution)
		if err != nil || cp == nil {
			continue
		}
		out = append(out, *cp)
	}
	return out
}

// Get returns a copy of the open position with the given id.
func (l *PositionLedger) Get(id string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.open[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Find returns a copy of the open (market, outcome) position.
func (l *PositionLedger) Find(marketID string, outcome Outcome) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byKey[exposureKey(marketID, outcome)]
	if !ok {
		return Position{}, false
	}
	return *l.open[id], true
}

// ListOpen returns copies of all open positions.
func (l *PositionLedger) ListOpen() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Position, 0, len(l.open))
	for _, p := range l.open {
		out = append(out, *p)
	}
	return out
}

// RecentCloses returns up to n of this session's most recent closures,
// oldest first.
func (l *PositionLedger) RecentCloses(n int) []ClosedPosition {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > len(l.closed) {
		n = len(l.closed)
	}
	out := make([]ClosedPosition, n)
	copy(out, l.closed[len(l.closed)-n:])
	return out
}

// Stats aggregates the ledger for /status and the periodic log line.
func (l *PositionLedger) Stats() PositionStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := PositionStats{
		Open:        len(l.open),
		Realized:    l.realized,
		Wins:        l.wins,
		Losses:      l.losses,
		PerStrategy: make(map[string]float64, len(l.perStrat)),
	}
	for _, p := range l.open {
		s.OpenExposure += p.EntryCost
		s.Unrealized += p.UnrealizedPnL
	}
	for k, v := range l.perStrat {
		s.PerStrategy[k] = v
	}
	if n := l.wins + l.losses; n > 0 {
		s.WinRate = float64(l.wins) / float64(n)
	}
	return s
}

// ExportSummary writes a JSON snapshot (open book + last 20 closes) via
// tmp+rename. Operator convenience cache, not a source of truth.
func (l *PositionLedger) ExportSummary(path string) error {
	l.mu.Lock()
	open := make([]Position, 0, len(l.open))
	for _, p := range l.open {
		open = append(open, *p)
	}
	recent := l.closed
	if len(recent) > 20 {
		recent = recent[len(recent)-20:]
	}
	tail := make([]ClosedPosition, len(recent))
	copy(tail, recent)
	l.mu.Unlock()

	snap := struct {
		GeneratedAt  time.Time        `json:"generated_at"`
		Open         []Position       `json:"open_positions"`
		RecentCloses []ClosedPosition `json:"recent_closes"`
	}{l.now(), open, tail}

	bs, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, bs, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

var historyHeader = []string{
	"id", "market_id", "question", "outcome", "strategy",
	"size", "avg_price", "entry_cost", "exit_price", "exit_value",
	"realized_pnl", "realized_pnl_pct", "resolution", "opened_at", "closed_at",
}

// appendHistoryLocked writes one CSV row, creating the file with a header
// on first use. Caller holds the lock.
func (l *PositionLedger) appendHistoryLocked(cp ClosedPosition) error {
	if l.historyPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.historyPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.historyPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if st.Size() == 0 {
		if err := w.Write(historyHeader); err != nil {
			return err
		}
	}
	row := []string{
		cp.ID, cp.MarketID, cp.Question, string(cp.Outcome), cp.Strategy,
		fmtF(cp.Size), fmtF(cp.AvgPrice), fmtF(cp.EntryCost),
		fmtF(cp.ExitPrice), fmtF(cp.ExitValue),
		fmtF(cp.RealizedPnL), fmtF(cp.RealizedPnLPct), cp.Resolution,
		cp.OpenedAt.UTC().Format(time.RFC3339), cp.ClosedAt.UTC().Format(time.RFC3339),
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// replayHistory rebuilds realized aggregates from the CSV. Open positions
// are intentionally not reconstructed; the venue is the authority on those.
func (l *PositionLedger) replayHistory() error {
	if l.historyPath == "" {
		return nil
	}
	f, err := os.Open(l.historyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(historyHeader)
	rows, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("parse %s: %w", l.historyPath, err)
	}
	n := 0
	for i, row := range rows {
		if i == 0 && row[0] == "id" {
			continue
		}
		pnl, err := strconv.ParseFloat(row[10], 64)
		if err != nil {
			log.Printf("[POS] history row %d: bad pnl %q", i+1, row[10])
			continue
		}
		l.realized += pnl
		if pnl > 0 {
			l.wins++
		} else {
			l.losses++
		}
		l.perStrat[row[4]] += pnl
		n++
	}
	if n > 0 {
		log.Printf("[POS] replayed %d closed positions: realized %+.2f (%d W / %d L)",
			n, l.realized, l.wins, l.losses)
	}
	return nil
}

func fmtF(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
