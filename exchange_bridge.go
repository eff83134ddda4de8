// FILE: exchange_bridge.go
// Package main – HTTP venue backend that talks to the local REST gateway.
//
// The gateway sidecar fronts the venue's CLOB API (auth, order signing,
// rate limits) and normalizes every response to flat JSON with
// string/number fields. This file implements both engine seams on top:
//   • MarketData:     GET /markets, GET /balance, GET /markets/{id}/status
//   • OrderExecution: POST /orders, DELETE /orders/{id}, GET /orders/open
//
// Rejection vs failure: HTTP 400/422 from POST /orders means the venue
// refused the order (bad price, closed market, insufficient funds) and is
// wrapped in errOrderRejected so the order book records REJECTED; every
// other non-2xx or transport error surfaces as a plain error and the
// order is marked FAILED instead.

package main

import (
	"bytes"
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

// BridgeExchange talks to the local REST gateway.
type BridgeExchange struct {
	base string
	hc   *http.Client
}

func NewBridgeExchange(base string) *BridgeExchange {
	base = strings.TrimSpace(base)
	if i := strings.IndexAny(base, " \t#"); i >= 0 { // cut trailing comment/space
		base = strings.TrimSpace(base[:i])
	}
	if base == "" {
		base = "http://127.0.0.1:8787"
	}
	base = strings.TrimRight(base, "/")
	return &BridgeExchange{
		base: base,
		hc:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (bx *BridgeExchange) Name() string { return "gateway-bridge" }

// --- Markets ---

func (bx *BridgeExchange) ListMarkets(ctx context.Context) ([]Market, error) {
	u := bx.base + "/markets"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("newrequest markets: %w (url=%s)", err, u)
	}
	req.Header.Set("User-Agent", "polyprinter/bridge")

	res, err := bx.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("markets %d: %s", res.StatusCode, string(b))
	}

	// Gateway returns normalized rows with string/number fields; parse defensively.
	type row struct {
		ID        string `json:"id"`
		Question  string `json:"question"`
		YesPrice  any    `json:"yes_price"`
		NoPrice   any    `json:"no_price"`
		YesBid    any    `json:"yes_bid"`
		YesAsk    any    `json:"yes_ask"`
		Liquidity any    `json:"liquidity"`
		Volume24h any    `json:"volume_24h"`
		Category  string `json:"category"`
		EndDate   string `json:"end_date"`
		Active    bool   `json:"active"`
	}
	var rows []row
	if err := json.NewDecoder(res.Body).Decode(&rows); err != nil {
		return nil, err
	}

	markets := make([]Market, 0, len(rows))
	for _, r := range rows {
		if strings.TrimSpace(r.ID) == "" {
			continue
		}
		markets = append(markets, Market{
			ID:        strings.TrimSpace(r.ID),
			Question:  r.Question,
			YesPrice:  anyF(r.YesPrice),
			NoPrice:   anyF(r.NoPrice),
			YesBid:    anyF(r.YesBid),
			YesAsk:    anyF(r.YesAsk),
			Liquidity: anyF(r.Liquidity),
			Volume24h: anyF(r.Volume24h),
			Category:  r.Category,
			EndDate:   anyT(r.EndDate),
			Active:    r.Active,
		})
	}
	return markets, nil
}

func (bx *BridgeExchange) MarketStatus(ctx context.Context, marketID string) (MarketStatus, error) {
	u := fmt.Sprintf("%s/markets/%s/status", bx.base, url.PathEscape(marketID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return MarketStatus{}, fmt.Errorf("newrequest status: %w (url=%s)", err, u)
	}
	req.Header.Set("User-Agent", "polyprinter/bridge")

	res, err := bx.hc.Do(req)
	if err != nil {
		return MarketStatus{}, err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return MarketStatus{}, fmt.Errorf("status %d: %s", res.StatusCode, string(b))
	}
	var out struct {
		Active   bool   `json:"active"`
		Resolved bool   `json:"resolved"`
		Winner   string `json:"winner"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return MarketStatus{}, err
	}
	st := MarketStatus{Active: out.Active, Settled: out.Resolved}
	switch strings.ToUpper(strings.TrimSpace(out.Winner)) {
	case "YES":
		st.Winner = OutcomeYes
	case "NO":
		st.Winner = OutcomeNo
	}
	return st, nil
}

// --- Balance ---

func (bx *BridgeExchange) GetBalance(ctx context.Context) (float64, error) {
	u := bx.base + "/balance"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("newrequest balance: %w (url=%s)", err, u)
	}
	req.Header.Set("User-Agent", "polyprinter/bridge")

	res, err := bx.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return 0, fmt.Errorf("balance %d: %s", res.StatusCode, string(b))
	}
	var out struct {
		Asset     string `json:"asset"`
		Available string `json:"available"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, err
	}
	avail, err := strconv.ParseFloat(strings.TrimSpace(out.Available), 64)
	if err != nil {
		return 0, fmt.Errorf("balance parse %q: %w", out.Available, err)
	}
	return avail, nil
}

// --- Orders ---

func (bx *BridgeExchange) SubmitOrder(ctx context.Context, oreq OrderRequest) (OrderAck, error) {
	u := bx.base + "/orders"
	body := map[string]any{
		"market_id":       oreq.MarketID,
		"outcome":         string(oreq.Outcome),
		"side":            string(oreq.Side),
		"kind":            string(oreq.Kind),
		"price":           fmt.Sprintf("%.4f", oreq.Price),
		"size":            fmt.Sprintf("%.2f", oreq.Size),
		"client_order_id": oreq.ClientID, // dedupe-safe ID for retries
	}
	bs, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(bs))
	if err != nil {
		return OrderAck{}, fmt.Errorf("newrequest order: %w (url=%s)", err, u)
	}
	req.Header.Set("User-Agent", "polyprinter/bridge")
	req.Header.Set("Content-Type", "application/json")

	res, err := bx.hc.Do(req)
	if err != nil {
		return OrderAck{}, err
	}
	defer res.Body.Close()

	b, _ := io.ReadAll(res.Body)
	if res.StatusCode == http.StatusBadRequest || res.StatusCode == http.StatusUnprocessableEntity {
		return OrderAck{}, fmt.Errorf("%w: bridge %d: %s", errOrderRejected, res.StatusCode, strings.TrimSpace(string(b)))
	}
	if res.StatusCode >= 300 {
		return OrderAck{}, fmt.Errorf("bridge order %d: %s", res.StatusCode, string(b))
	}

	var norm struct {
		OrderID    string `json:"order_id"`
		AcceptedAt string `json:"accepted_at"`
	}
	if err := json.Unmarshal(b, &norm); err == nil && strings.TrimSpace(norm.OrderID) != "" {
		at := anyT(norm.AcceptedAt)
		if at.IsZero() {
			at = time.Now().UTC()
		}
		return OrderAck{ExchangeID: strings.TrimSpace(norm.OrderID), AcceptedAt: at}, nil
	}

	// Fallback: extract an order_id (top-level or under success_response.order_id).
	var generic map[string]any
	_ = json.Unmarshal(b, &generic)
	id := ""
	if v, ok := generic["order_id"]; ok {
		id = fmt.Sprintf("%v", v)
	}
	if id == "" {
		if sr, ok := generic["success_response"].(map[string]any); ok {
			if v, ok2 := sr["order_id"]; ok2 {
				id = fmt.Sprintf("%v", v)
			}
		}
	}
	if strings.TrimSpace(id) == "" {
		return OrderAck{}, fmt.Errorf("bridge order: no order_id in response: %s", string(b))
	}
	return OrderAck{ExchangeID: strings.TrimSpace(id), AcceptedAt: time.Now().UTC()}, nil
}

func (bx *BridgeExchange) CancelOrder(ctx context.Context, exchangeID string) error {
	if strings.TrimSpace(exchangeID) == "" {
		return fmt.Errorf("cancel: empty exchange id")
	}
	u := fmt.Sprintf("%s/orders/%s", bx.base, url.PathEscape(exchangeID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("newrequest cancel: %w (url=%s)", err, u)
	}
	req.Header.Set("User-Agent", "polyprinter/bridge")

	res, err := bx.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("cancel %d: %s", res.StatusCode, string(b))
	}
	return nil
}

func (bx *BridgeExchange) ListOpenOrders(ctx context.Context) ([]OpenOrder, error) {
	u := bx.base + "/orders/open"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("newrequest open orders: %w (url=%s)", err, u)
	}
	req.Header.Set("User-Agent", "polyprinter/bridge")

	res, err := bx.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("open orders %d: %s", res.StatusCode, string(b))
	}

	type row struct {
		OrderID   string `json:"order_id"`
		MarketID  string `json:"market_id"`
		Price     any    `json:"price"`
		Remaining any    `json:"remaining"`
	}
	var rows []row
	if err := json.NewDecoder(res.Body).Decode(&rows); err != nil {
		return nil, err
	}
	open := make([]OpenOrder, 0, len(rows))
	for _, r := range rows {
		if strings.TrimSpace(r.OrderID) == "" {
			continue
		}
		open = append(open, OpenOrder{
			ExchangeID: strings.TrimSpace(r.OrderID),
			MarketID:   r.MarketID,
			Price:      anyF(r.Price),
			Remaining:  anyF(r.Remaining),
		})
	}
	return open, nil
}

// --- small helpers local to this file ---

// anyF reads a float out of a string-or-number JSON field.
func anyF(v any) float64 {
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

// anyT parses RFC3339 first, then unix seconds.
func anyT(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC()
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC()
	}
	return time.Time{}
}
