// FILE: feeds.go
// Package main – Spot price feed for the crypto underlyings.
//
// Streams trades from the Binance combined websocket
// (wss://.../stream?streams=btcusdt@trade/ethusdt@trade) and keeps a
// short per-symbol history ring. The spike-reversion strategy reads
// DetectSpike and PriceSeries; the risk gate reads Volatility.
//
// When the stream is down the feed degrades to REST polling
// (/api/v3/ticker/price) every few seconds, so consumers always see a
// price, just a staler one. Reconnects use doubling backoff capped at
// one minute and are counted in bot_feed_reconnects_total.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	feedHistoryMaxAge = 15 * time.Minute
	feedHistoryCap    = 2000
	feedRestEvery     = 5 * time.Second
	feedMaxBackoff    = time.Minute
)

// PricePoint is one retained spot observation.
type PricePoint struct {
	Price float64
	At    time.Time
}

// Volatility summarizes a symbol's recent movement.
type Volatility struct {
	Current   float64 // last price
	ChangePct float64 // window start → now, in percent
	StdDev    float64 // std-dev of simple returns across the window
	Points    int
}

// Spike is a detected sharp move.
type Spike struct {
	Symbol    string
	Direction string // up | down
	ChangePct float64
	From      float64
	To        float64
	Window    time.Duration
	At        time.Time
}

// PriceFeed maintains live spot prices for a fixed symbol set.
type PriceFeed struct {
	mu        sync.Mutex
	history   map[string][]PricePoint // symbol ("BTC") → ring, oldest first
	connected bool

	symbols []string          // "BTC", "ETH", ...
	pairs   map[string]string // "BTCUSDT" → "BTC"
	wsURL   string
	restURL string

	hc  *http.Client
	wg  sync.WaitGroup
	now func() time.Time
}

func NewPriceFeed(symbols []string, wsURL, restURL string) *PriceFeed {
	f := &PriceFeed{
		history: make(map[string][]PricePoint),
		symbols: symbols,
		pairs:   make(map[string]string, len(symbols)),
		wsURL:   wsURL,
		restURL: strings.TrimRight(restURL, "/"),
		hc:      &http.Client{Timeout: 8 * time.Second},
		now:     time.Now,
	}
	for _, s := range symbols {
		f.pairs[strings.ToUpper(s)+"USDT"] = strings.ToUpper(s)
	}
	return f
}

// Start launches the stream reader and the REST fallback poller. Both run
// until ctx is cancelled; call WaitStopped after cancelling.
func (f *PriceFeed) Start(ctx context.Context) {
	if len(f.symbols) == 0 {
		return
	}
	f.pollOnce(ctx) // warm the ring so strategies have data at boot

	f.wg.Add(2)
	go func() {
		defer f.wg.Done()
		f.runStream(ctx)
	}()
	go func() {
		defer f.wg.Done()
		f.runRestFallback(ctx)
	}()
}

// WaitStopped blocks until both feed goroutines have exited.
func (f *PriceFeed) WaitStopped() { f.wg.Wait() }

// Connected reports whether the websocket is currently up.
func (f *PriceFeed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Price returns the most recent observation for symbol.
func (f *PriceFeed) Price(symbol string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.history[strings.ToUpper(symbol)]
	if len(h) == 0 {
		return 0, false
	}
	return h[len(h)-1].Price, true
}

// PriceSeries returns the prices observed within the window, oldest first.
func (f *PriceFeed) PriceSeries(symbol string, window time.Duration) []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	cut := f.now().Add(-window)
	var out []float64
	for _, p := range f.history[strings.ToUpper(symbol)] {
		if p.At.After(cut) {
			out = append(out, p.Price)
		}
	}
	return out
}

// Volatility reports movement across the window. Fewer than two points in
// the window yields a zero reading.
func (f *PriceFeed) Volatility(symbol string, window time.Duration) Volatility {
	xs := f.windowPoints(symbol, window)
	if len(xs) < 2 {
		return Volatility{Points: len(xs)}
	}
	first, last := xs[0].Price, xs[len(xs)-1].Price
	v := Volatility{Current: last, Points: len(xs)}
	if first > 0 {
		v.ChangePct = 100 * (last - first) / first
	}
	prices := make([]float64, len(xs))
	for i, p := range xs {
		prices[i] = p.Price
	}
	v.StdDev = ReturnsStdDev(prices)
	return v
}

// DetectSpike reports a move of at least thresholdPct (absolute percent)
// across the window.
func (f *PriceFeed) DetectSpike(symbol string, thresholdPct float64, window time.Duration) (Spike, bool) {
	xs := f.windowPoints(symbol, window)
	if len(xs) < 2 {
		return Spike{}, false
	}
	first, last := xs[0], xs[len(xs)-1]
	if first.Price <= 0 {
		return Spike{}, false
	}
	pct := 100 * (last.Price - first.Price) / first.Price
	if pct < thresholdPct && pct > -thresholdPct {
		return Spike{}, false
	}
	dir := "up"
	if pct < 0 {
		dir = "down"
	}
	return Spike{
		Symbol:    strings.ToUpper(symbol),
		Direction: dir,
		ChangePct: pct,
		From:      first.Price,
		To:        last.Price,
		Window:    window,
		At:        last.At,
	}, true
}

func (f *PriceFeed) windowPoints(symbol string, window time.Duration) []PricePoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	cut := f.now().Add(-window)
	h := f.history[strings.ToUpper(symbol)]
	var out []PricePoint
	for _, p := range h {
		if p.At.After(cut) {
			out = append(out, p)
		}
	}
	return out
}

// record appends an observation, coalescing sub-second updates into the
// latest point and pruning by age and length.
func (f *PriceFeed) record(symbol string, price float64, at time.Time) {
	if price <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.history[symbol]
	if n := len(h); n > 0 && at.Sub(h[n-1].At) < time.Second {
		h[n-1].Price = price
		f.history[symbol] = h
		return
	}
	h = append(h, PricePoint{Price: price, At: at})
	cut := at.Add(-feedHistoryMaxAge)
	i := 0
	for i < len(h) && h[i].At.Before(cut) {
		i++
	}
	if i > 0 {
		h = h[i:]
	}
	if len(h) > feedHistoryCap {
		h = h[len(h)-feedHistoryCap:]
	}
	f.history[symbol] = h
}

func (f *PriceFeed) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

// combinedTrade is the Binance combined-stream envelope for @trade events.
type combinedTrade struct {
	Stream string `json:"stream"`
	Data   struct {
		Event  string `json:"e"`
		Symbol string `json:"s"`
		Price  string `json:"p"`
		TimeMs int64  `json:"T"`
	} `json:"data"`
}

// runStream keeps one websocket session alive at a time, reconnecting
// with doubling backoff.
func (f *PriceFeed) runStream(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		start := f.now()
		err := f.streamOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if f.now().Sub(start) > time.Minute {
			backoff = time.Second // session held; start fresh
		}
		log.Printf("[FEED] stream closed: %v; reconnect in %s", err, backoff)
		mtxFeedReconnects.Inc()
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > feedMaxBackoff {
			backoff = feedMaxBackoff
		}
	}
}

func (f *PriceFeed) streamOnce(ctx context.Context) error {
	names := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		names = append(names, strings.ToLower(s)+"usdt@trade")
	}
	url := f.wsURL + "?streams=" + strings.Join(names, "/")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	// unblock ReadJSON when ctx is cancelled
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	f.setConnected(true)
	defer f.setConnected(false)
	log.Printf("[FEED] connected: %s", url)

	for {
		var msg combinedTrade
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		sym, ok := f.pairs[msg.Data.Symbol]
		if !ok || msg.Data.Event != "trade" {
			continue
		}
		price, err := strconv.ParseFloat(msg.Data.Price, 64)
		if err != nil {
			continue
		}
		at := time.UnixMilli(msg.Data.TimeMs)
		if msg.Data.TimeMs == 0 {
			at = f.now()
		}
		f.record(sym, price, at)
	}
}

// runRestFallback polls ticker prices while the stream is down.
func (f *PriceFeed) runRestFallback(ctx context.Context) {
	t := time.NewTicker(feedRestEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if f.Connected() {
				continue
			}
			f.pollOnce(ctx)
		}
	}
}

func (f *PriceFeed) pollOnce(ctx context.Context) {
	for pair, sym := range f.pairs {
		price, err := f.fetchTicker(ctx, pair)
		if err != nil {
			log.Printf("[FEED] rest poll %s: %v", pair, err)
			continue
		}
		f.record(sym, price, f.now())
	}
}

func (f *PriceFeed) fetchTicker(ctx context.Context, pair string) (float64, error) {
	url := f.restURL + "/api/v3/ticker/price?symbol=" + pair
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := f.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("ticker %s: http %d", pair, resp.StatusCode)
	}
	var body struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(body.Price, 64)
}
