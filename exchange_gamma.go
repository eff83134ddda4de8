// FILE: exchange_gamma.go
// Package main – read-only public market-data client (Gamma-style API).
//
// No credentials, no order flow. Useful for `sim` mode: real market
// prices from the public API, paper execution locally. Endpoints:
//   • ListMarkets:  GET /markets?active=true&closed=false&... (bare array)
//   • MarketStatus: GET /markets/{id} (single object, closed flag)
//   • GetBalance:   unsupported; returns an error so the engine falls
//     back to the internal ledger balance
//
// The public API is stringly typed: `outcomePrices` and `outcomes` are
// JSON arrays double-encoded inside string fields, numbers arrive as
// either strings or numbers. Parse everything defensively.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// GammaClient reads public market data. Implements MarketData only.
type GammaClient struct {
	base string
	hc   *http.Client
}

func NewGammaClient(base string) *GammaClient {
	base = strings.TrimSpace(base)
	if base == "" {
		base = "https://gamma-api.polymarket.com"
	}
	base = strings.TrimRight(base, "/")
	return &GammaClient{
		base: base,
		hc:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (gc *GammaClient) Name() string { return "gamma" }

// gammaRow is the raw market shape of the public API.
type gammaRow struct {
	ID            string `json:"id"`
	Question      string `json:"question"`
	Outcomes      string `json:"outcomes"`      // e.g. "[\"Yes\", \"No\"]"
	OutcomePrices string `json:"outcomePrices"` // e.g. "[\"0.55\", \"0.45\"]"
	BestBid       any    `json:"bestBid"`
	BestAsk       any    `json:"bestAsk"`
	Liquidity     any    `json:"liquidity"`
	Volume24h     any    `json:"volume24hr"`
	Category      string `json:"category"`
	EndDate       string `json:"endDate"`
	Active        bool   `json:"active"`
	Closed        bool   `json:"closed"`
}

func (gc *GammaClient) ListMarkets(ctx context.Context) ([]Market, error) {
	q := url.Values{}
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("order", "liquidity")
	q.Set("ascending", "false")
	q.Set("limit", "100")

	u := fmt.Sprintf("%s/markets?%s", gc.base, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("newrequest gamma markets: %w (url=%s)", err, u)
	}
	req.Header.Set("User-Agent", "polyprinter/gamma")

	res, err := gc.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("gamma markets %d: %s", res.StatusCode, string(b))
	}

	var rows []gammaRow
	if err := json.NewDecoder(res.Body).Decode(&rows); err != nil {
		return nil, err
	}

	markets := make([]Market, 0, len(rows))
	for _, r := range rows {
		if m, ok := parseGammaMarket(r); ok {
			markets = append(markets, m)
		}
	}
	return markets, nil
}

// GetBalance is unsupported on the public API. The engine treats the
// error as "venue cannot say" and uses the ledger balance instead.
func (gc *GammaClient) GetBalance(ctx context.Context) (float64, error) {
	return 0, fmt.Errorf("gamma: balance not available on public API")
}

func (gc *GammaClient) MarketStatus(ctx context.Context, marketID string) (MarketStatus, error) {
	u := fmt.Sprintf("%s/markets/%s", gc.base, url.PathEscape(marketID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return MarketStatus{}, fmt.Errorf("newrequest gamma status: %w (url=%s)", err, u)
	}
	req.Header.Set("User-Agent", "polyprinter/gamma")

	res, err := gc.hc.Do(req)
	if err != nil {
		return MarketStatus{}, err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return MarketStatus{}, fmt.Errorf("gamma status %d: %s", res.StatusCode, string(b))
	}

	var r gammaRow
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return MarketStatus{}, err
	}
	st := MarketStatus{Active: r.Active && !r.Closed, Settled: r.Closed}
	if st.Settled {
		// Settled markets pin the winning outcome to ~1.00.
		yes, _, ok := parseOutcomePrices(r.OutcomePrices)
		switch {
		case ok && yes >= 0.99:
			st.Winner = OutcomeYes
		case ok && yes <= 0.01:
			st.Winner = OutcomeNo
		}
	}
	return st, nil
}

// parseGammaMarket normalizes one raw row. Rows without an id or a
// readable yes price are skipped.
func parseGammaMarket(r gammaRow) (Market, bool) {
	id := strings.TrimSpace(r.ID)
	if id == "" {
		return Market{}, false
	}
	yes, no, ok := parseOutcomePrices(r.OutcomePrices)
	if !ok || yes <= 0 || yes >= 1 { // pinned prices mean nothing left to trade
		return Market{}, false
	}
	return Market{
		ID:        id,
		Question:  r.Question,
		YesPrice:  yes,
		NoPrice:   no,
		YesBid:    anyF(r.BestBid),
		YesAsk:    anyF(r.BestAsk),
		Liquidity: anyF(r.Liquidity),
		Volume24h: anyF(r.Volume24h),
		Category:  r.Category,
		EndDate:   anyT(r.EndDate),
		Active:    r.Active && !r.Closed,
	}, true
}

// parseOutcomePrices decodes the double-encoded price array. The first
// element is the YES price; NO falls back to the complement when the
// second element is missing or unreadable. Settled markets pin prices
// to exactly 0/1 and still parse as ok.
func parseOutcomePrices(s string) (yes, no float64, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, false
	}
	var raw []any
	if err := json.Unmarshal([]byte(s), &raw); err != nil || len(raw) == 0 {
		return 0, 0, false
	}
	yes, ok = anyPrice(raw[0])
	if !ok {
		return 0, 0, false
	}
	no = 1 - yes
	if len(raw) > 1 {
		if v, vok := anyPrice(raw[1]); vok {
			no = v
		}
	}
	return yes, no, true
}

// anyPrice reads a number or numeric string and bounds it to [0,1].
func anyPrice(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if t >= 0 && t <= 1 {
			return t, true
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil && f >= 0 && f <= 1 {
			return f, true
		}
	}
	return 0, false
}
