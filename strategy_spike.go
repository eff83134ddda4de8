// FILE: strategy_spike.go
// Package main – Spot-spike mean-reversion strategy.
//
// When a monitored spot price moves more than ThresholdPct within the
// lookback window, bet on reversal in a matching prediction market:
// up-spike ⇒ buy NO, down-spike ⇒ buy YES. Reversion is probabilistic,
// so sizing is conservative (1% of balance, $2 cap, scaled by
// confidence) and a per-asset cooldown guards against over-trading one
// move.
//
// Confirmation uses the feed's own series: an RSI-14 extreme in the
// reversion's favor raises confidence, a mid-zone reading lowers it, and
// an SMA(10/30) regime read rejects reversion bets against a strong
// trend (up-spikes inside an uptrend tend to keep going).
package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"
)

const (
	spikeMinEV      = 0.02
	spikeSeriesSpan = 10 * time.Minute
	spikeSeriesMin  = 20 // points needed before TA speaks
	spikeRSIPeriod  = 14
	spikeTrendBand  = 0.001 // fast vs slow SMA divergence that counts as a trend
	spikeHorizonSec = 900
)

type spikeStrategy struct {
	cfg  SpikeConfig
	feed *PriceFeed

	lastSignal map[string]time.Time // asset → last signal time (cooldown)
	detected   int
	triggered  int
	rejections int

	now func() time.Time
}

func newSpikeStrategy(cfg SpikeConfig, feed *PriceFeed) *spikeStrategy {
	return &spikeStrategy{
		cfg:        cfg,
		feed:       feed,
		lastSignal: make(map[string]time.Time),
		now:        time.Now,
	}
}

func (s *spikeStrategy) Name() string { return "spike-reversion" }

func (s *spikeStrategy) Evaluate(ctx context.Context, markets []Market, positions []Position, balance float64) ([]TradeIntent, error) {
	var intents []TradeIntent
	window := time.Duration(s.cfg.WindowSec) * time.Second

	for _, asset := range s.feed.symbols {
		spike, ok := s.feed.DetectSpike(asset, s.cfg.ThresholdPct, window)
		if !ok {
			continue
		}
		s.detected++
		log.Printf("[SPIKE] %s moved %s %.1f%% in %ds (%.2f -> %.2f)",
			asset, spike.Direction, math.Abs(spike.ChangePct), s.cfg.WindowSec,
			spike.From, spike.To)

		if s.now().Sub(s.lastSignal[asset]) < time.Duration(s.cfg.CooldownSec)*time.Second {
			continue
		}

		mk, ok := findAssetMarket(markets, asset)
		if !ok {
			continue
		}
		if hasOpenPosition(positions, mk.ID) {
			continue
		}

		intent, ok := s.reversionIntent(mk, asset, spike, balance)
		if !ok {
			continue
		}
		intents = append(intents, intent)
		s.triggered++
		s.lastSignal[asset] = s.now()
	}
	return intents, nil
}

// reversionIntent prices the reversal bet for one spike.
func (s *spikeStrategy) reversionIntent(mk Market, asset string, spike Spike, balance float64) (TradeIntent, bool) {
	outcome := OutcomeNo // up-spike: bet the move comes back down
	if spike.Direction == "down" {
		outcome = OutcomeYes
	}
	price := mk.Price(outcome)
	if price <= 0 || price >= 1 {
		return TradeIntent{}, false
	}

	magnitude := math.Abs(spike.ChangePct)
	confidence := math.Min(0.9,
		s.cfg.MinConfidence+math.Min(0.2, (magnitude-s.cfg.ThresholdPct)*0.05))

	rsi, regime, taOK := s.confirmation(asset)
	if taOK {
		if regime == "trend-up" && spike.Direction == "up" {
			s.rejections++
			log.Printf("[SPIKE] rejected: %s up-spike inside uptrend", asset)
			return TradeIntent{}, false
		}
		if regime == "trend-down" && spike.Direction == "down" {
			s.rejections++
			log.Printf("[SPIKE] rejected: %s down-spike inside downtrend", asset)
			return TradeIntent{}, false
		}

		adj := 0.0
		switch {
		case rsi > 70 && spike.Direction == "up":
			adj += 0.1
		case rsi < 30 && spike.Direction == "down":
			adj += 0.1
		case rsi >= 40 && rsi <= 60:
			adj -= 0.05
		}
		if regime == "range" {
			adj += 0.1 // range-bound tape favors reversion
		}
		confidence = math.Min(0.95, confidence+adj)

		if (spike.Direction == "up" && rsi > 70) || (spike.Direction == "down" && rsi < 30) {
			confidence = math.Min(0.95, confidence+0.05)
		}
	}

	// Fair value sits a few points past the quote in the reversion's
	// favor; stronger confidence claims a bigger edge.
	edgeMult := 0.05 + (confidence-0.6)*0.05
	fair := price + edgeMult
	ev := expectedValue(fair, price, KindMaker)
	if ev < spikeMinEV {
		return TradeIntent{}, false
	}

	size := math.Min(balance*s.cfg.SizePct/100.0, s.cfg.MaxSize)
	size *= 0.5 + (confidence - 0.5)

	log.Printf("[SPIKE] reversion %s %s $%.2f @ %.4f (conf %.2f, regime %s)",
		mk.ID, outcome, size, price, confidence, regime)

	return TradeIntent{
		MarketID:   mk.ID,
		Question:   mk.Question,
		Outcome:    outcome,
		Price:      price,
		Size:       size,
		Edge:       ev,
		Confidence: confidence,
		Strategy:   s.Name(),
		Urgency:    "high",
		HorizonSec: spikeHorizonSec,
		Reason: fmt.Sprintf("spike reversion: %s %s %.1f%%, RSI %.0f",
			asset, spike.Direction, magnitude, rsi),
	}, true
}

// confirmation reads RSI and an SMA regime from the feed series. taOK is
// false when the history is too thin to judge.
func (s *spikeStrategy) confirmation(asset string) (rsi float64, regime string, taOK bool) {
	series := s.feed.PriceSeries(asset, spikeSeriesSpan)
	if len(series) < spikeSeriesMin {
		return 50, "unknown", false
	}
	rsi = LastRSI(series, spikeRSIPeriod)

	regime = "range"
	fast := SMA(series, 10)
	slow := SMA(series, 30)
	i := len(series) - 1
	if !math.IsNaN(fast[i]) && !math.IsNaN(slow[i]) && slow[i] > 0 {
		div := (fast[i] - slow[i]) / slow[i]
		switch {
		case div > spikeTrendBand:
			regime = "trend-up"
		case div < -spikeTrendBand:
			regime = "trend-down"
		}
	}
	return rsi, regime, true
}

// findAssetMarket picks the first active market whose question mentions
// the asset (ticker or full name for BTC/ETH).
func findAssetMarket(markets []Market, asset string) (Market, bool) {
	for _, mk := range markets {
		if !mk.Active {
			continue
		}
		if assetMentioned(mk.Question, asset) {
			return mk, true
		}
	}
	return Market{}, false
}

func assetMentioned(question, asset string) bool {
	q := strings.ToLower(question)
	if strings.Contains(q, strings.ToLower(asset)) {
		return true
	}
	switch strings.ToUpper(asset) {
	case "BTC":
		return strings.Contains(q, "bitcoin")
	case "ETH":
		return strings.Contains(q, "ethereum")
	}
	return false
}
