// tools/replayhistory: summarize the closed-position CSV offline.
//
// Usage:
//   go run ./tools/replayhistory -in data/closed_positions.csv
//   go run ./tools/replayhistory -in data/closed_positions.csv -strategy arbitrage
//   go run ./tools/replayhistory -in data/closed_positions.csv -since 2026-08-01 -daily
//
// Notes:
// - Reads the append-only history the engine writes; never modifies it.
// - Columns: id,market_id,question,outcome,strategy,size,avg_price,entry_cost,
//   exit_price,exit_value,realized_pnl,realized_pnl_pct,resolution,opened_at,closed_at.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"
)

// ----- Minimal shared types (compatible with the persisted CSV) -----

type closedRow struct {
	MarketID   string
	Question   string
	Outcome    string
	Strategy   string
	EntryCost  float64
	PnL        float64
	PnLPct     float64
	Resolution string
	OpenedAt   time.Time
	ClosedAt   time.Time
}

type bucket struct {
	trades int
	wins   int
	pnl    float64
	best   float64
	worst  float64
}

func (b *bucket) add(pnl float64) {
	b.trades++
	if pnl > 0 {
		b.wins++
	}
	b.pnl += pnl
	if pnl > b.best {
		b.best = pnl
	}
	if pnl < b.worst {
		b.worst = pnl
	}
}

func (b bucket) winRate() float64 {
	if b.trades == 0 {
		return 0
	}
	return float64(b.wins) / float64(b.trades) * 100
}

func main() {
	var (
		in       = flag.String("in", "data/closed_positions.csv", "Closed-position history CSV")
		strategy = flag.String("strategy", "", "Keep only rows from this strategy")
		since    = flag.String("since", "", "Keep only rows closed on/after this date (YYYY-MM-DD or RFC3339)")
		daily    = flag.Bool("daily", false, "Also print a per-day PnL rollup")
	)
	flag.Parse()

	rows, err := readHistory(*in)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}

	var cutoff time.Time
	if *since != "" {
		cutoff, err = parseWhen(*since)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -since:", err)
			os.Exit(1)
		}
	}

	var kept []closedRow
	for _, r := range rows {
		if *strategy != "" && r.Strategy != *strategy {
			continue
		}
		if !cutoff.IsZero() && r.ClosedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		fmt.Println("no closed positions match")
		return
	}

	var total bucket
	var hold time.Duration
	perStrat := map[string]*bucket{}
	perRes := map[string]int{}
	perDay := map[string]*bucket{}
	for _, r := range kept {
		total.add(r.PnL)
		if !r.OpenedAt.IsZero() && r.ClosedAt.After(r.OpenedAt) {
			hold += r.ClosedAt.Sub(r.OpenedAt)
		}
		b := perStrat[r.Strategy]
		if b == nil {
			b = &bucket{}
			perStrat[r.Strategy] = b
		}
		b.add(r.PnL)
		perRes[r.Resolution]++
		day := r.ClosedAt.UTC().Format("2006-01-02")
		d := perDay[day]
		if d == nil {
			d = &bucket{}
			perDay[day] = d
		}
		d.add(r.PnL)
	}

	fmt.Printf("Closed positions: %d  (%d W / %d L, %.1f%% win rate)\n",
		total.trades, total.wins, total.trades-total.wins, total.winRate())
	fmt.Printf("Realized PnL:     $%+.2f  (avg $%+.2f, best $%+.2f, worst $%+.2f)\n",
		total.pnl, total.pnl/float64(total.trades), total.best, total.worst)
	fmt.Printf("Avg hold:         %s\n", (hold / time.Duration(total.trades)).Round(time.Minute))

	fmt.Println("\nPer strategy:")
	for _, name := range sortedKeys(perStrat) {
		b := perStrat[name]
		fmt.Printf("  %-16s trades=%-4d win=%5.1f%%  pnl=$%+.2f\n", name, b.trades, b.winRate(), b.pnl)
	}

	fmt.Println("\nPer resolution:")
	resNames := make([]string, 0, len(perRes))
	for k := range perRes {
		resNames = append(resNames, k)
	}
	sort.Strings(resNames)
	for _, k := range resNames {
		fmt.Printf("  %-16s %d\n", k, perRes[k])
	}

	if *daily {
		fmt.Println("\nPer day:")
		for _, day := range sortedKeys(perDay) {
			b := perDay[day]
			fmt.Printf("  %s  trades=%-4d pnl=$%+.2f\n", day, b.trades, b.pnl)
		}
	}
}

func readHistory(path string) ([]closedRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 15
	recs, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := make([]closedRow, 0, len(recs))
	for i, rec := range recs {
		if i == 0 && rec[0] == "id" {
			continue
		}
		pnl, err := strconv.ParseFloat(rec[10], 64)
		if err != nil {
			continue
		}
		row := closedRow{
			MarketID:   rec[1],
			Question:   rec[2],
			Outcome:    rec[3],
			Strategy:   rec[4],
			PnL:        pnl,
			Resolution: rec[12],
		}
		row.EntryCost, _ = strconv.ParseFloat(rec[7], 64)
		row.PnLPct, _ = strconv.ParseFloat(rec[11], 64)
		row.OpenedAt, _ = time.Parse(time.RFC3339, rec[13])
		row.ClosedAt, _ = time.Parse(time.RFC3339, rec[14])
		out = append(out, row)
	}
	return out, nil
}

func parseWhen(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func sortedKeys(m map[string]*bucket) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
