// Probe tradeable binary markets and write them to a CSV or the terminal.
//
// Usage examples:
//   # Scan the public data API for liquid crypto markets:
//   go run ./tools/probemarkets -category Crypto -limit 25
//
//   # Same scan through the local gateway sidecar:
//   GATEWAY_URL=http://localhost:8787 go run ./tools/probemarkets -source gateway
//
//   # Dump everything the arbitrage strategy would look at:
//   go run ./tools/probemarkets -max-sum 0.99 -out data/arb_candidates.csv
//
// Notes:
// - The public API double-encodes outcome prices as a JSON array inside a
//   string ("[\"0.45\", \"0.55\"]"); the gateway returns plain numbers.
//   Both shapes are tolerated here.
// - The CSV header is: id,question,yes,no,sum,liquidity,volume,category,end_date.
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

type marketRow struct {
	ID            string `json:"id"`
	Question      string `json:"question"`
	OutcomePrices string `json:"outcomePrices"`
	YesPrice      any    `json:"yes_price"`
	NoPrice       any    `json:"no_price"`
	Liquidity     any    `json:"liquidity"`
	VolGamma      any    `json:"volume24hr"`
	VolGateway    any    `json:"volume_24h"`
	Category      string `json:"category"`
	EndGamma      string `json:"endDate"`
	EndGateway    string `json:"end_date"`
	Active        bool   `json:"active"`
	Closed        bool   `json:"closed"`
}

type probed struct {
	id        string
	question  string
	yes, no   float64
	liquidity float64
	volume    float64
	category  string
	endDate   string
}

func main() {
	var (
		source = flag.String("source", "gamma", "Market source: gamma | gateway")
		base   = flag.String("base", "", "Override base URL for the chosen source")
		limit  = flag.Int("limit", 100, "Max markets to show")
		cat    = flag.String("category", "", "Keep only this category (case-insensitive)")
		minLiq = flag.Float64("min-liquidity", 0, "Keep only markets at or above this liquidity")
		maxSum = flag.Float64("max-sum", 2.0, "Keep only markets whose YES+NO is at or below this")
		out    = flag.String("out", "", "Write CSV here instead of printing a table")
	)
	flag.Parse()

	url := buildURL(*source, *base, *limit)
	hc := &http.Client{Timeout: 15 * time.Second}
	resp, err := hc.Get(url)
	if err != nil {
		panic(fmt.Errorf("GET %s: %w", url, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		panic(fmt.Errorf("markets status %d", resp.StatusCode))
	}

	// Either a bare array or {"markets":[...]} depending on the source.
	var raw any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		panic(fmt.Errorf("decode JSON: %w", err))
	}
	rows := normalizeList(raw)
	if len(rows) == 0 {
		panic("no markets returned")
	}

	list := make([]probed, 0, len(rows))
	for _, r := range rows {
		p, ok := toProbed(r)
		if !ok {
			continue
		}
		if *cat != "" && !strings.EqualFold(p.category, *cat) {
			continue
		}
		if p.liquidity < *minLiq {
			continue
		}
		if p.yes+p.no > *maxSum {
			continue
		}
		list = append(list, p)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].liquidity > list[j].liquidity })
	if len(list) > *limit {
		list = list[:*limit]
	}

	if *out != "" {
		writeCSV(*out, list)
		fmt.Printf("Wrote %s (%d rows)\n", *out, len(list))
		return
	}
	printTable(list, *source)
}

func buildURL(source, base string, limit int) string {
	switch strings.ToLower(source) {
	case "gateway":
		if base == "" {
			base = getenv("GATEWAY_URL", "http://127.0.0.1:8787")
		}
		return trimRightSlash(base) + "/markets"
	default:
		if base == "" {
			base = getenv("GAMMA_URL", "https://gamma-api.polymarket.com")
		}
		return fmt.Sprintf("%s/markets?active=true&closed=false&order=liquidity&ascending=false&limit=%d",
			trimRightSlash(base), limit)
	}
}

func normalizeList(raw any) []marketRow {
	// Accept either:
	//   [ {...}, {...} ]  or  {"markets": [ {...} ] }
	var arr []any
	switch v := raw.(type) {
	case []any:
		arr = v
	case map[string]any:
		if m, ok := v["markets"]; ok {
			arr, _ = m.([]any)
		}
	}
	out := make([]marketRow, 0, len(arr))
	for _, it := range arr {
		bs, err := json.Marshal(it)
		if err != nil {
			continue
		}
		var r marketRow
		if err := json.Unmarshal(bs, &r); err == nil {
			out = append(out, r)
		}
	}
	return out
}

func toProbed(r marketRow) (probed, bool) {
	if r.ID == "" || r.Closed {
		return probed{}, false
	}
	yes := asFloat(r.YesPrice)
	no := asFloat(r.NoPrice)
	if yes == 0 && r.OutcomePrices != "" {
		yes, no = parsePricePair(r.OutcomePrices)
	}
	if yes <= 0 || yes >= 1 {
		return probed{}, false
	}
	if no == 0 {
		no = 1 - yes
	}
	end := r.EndGamma
	if end == "" {
		end = r.EndGateway
	}
	vol := asFloat(r.VolGamma)
	if vol == 0 {
		vol = asFloat(r.VolGateway)
	}
	return probed{
		id:        r.ID,
		question:  r.Question,
		yes:       yes,
		no:        no,
		liquidity: asFloat(r.Liquidity),
		volume:    vol,
		category:  r.Category,
		endDate:   end,
	}, true
}

// parsePricePair unwraps the double-encoded price array. Elements may be
// strings or numbers.
func parsePricePair(s string) (yes, no float64) {
	var arr []any
	if err := json.Unmarshal([]byte(s), &arr); err != nil || len(arr) == 0 {
		return 0, 0
	}
	yes = asFloat(arr[0])
	if len(arr) > 1 {
		no = asFloat(arr[1])
	}
	return yes, no
}

func writeCSV(path string, list []probed) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		panic(err)
	}
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"id", "question", "yes", "no", "sum", "liquidity", "volume", "category", "end_date"}); err != nil {
		panic(err)
	}
	for _, p := range list {
		rec := []string{
			p.id, p.question,
			fmtF(p.yes), fmtF(p.no), fmtF(p.yes + p.no),
			fmtF(p.liquidity), fmtF(p.volume), p.category, p.endDate,
		}
		if err := w.Write(rec); err != nil {
			panic(err)
		}
	}
}

func printTable(list []probed, source string) {
	fmt.Printf("%-14s %-52s %6s %6s %6s %10s %-10s\n",
		"ID", "QUESTION", "YES", "NO", "SUM", "LIQUIDITY", "CATEGORY")
	for _, p := range list {
		q := p.question
		if len(q) > 50 {
			q = q[:47] + "..."
		}
		fmt.Printf("%-14s %-52s %6.3f %6.3f %6.3f %10.0f %-10s\n",
			p.id, q, p.yes, p.no, p.yes+p.no, p.liquidity, p.category)
	}
	fmt.Printf("\n%d markets (source=%s)\n", len(list), source)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func trimRightSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	default:
		return 0
	}
}

func fmtF(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
