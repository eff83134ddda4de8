// FILE: strategy.go
// Package main – Strategy abstractions and intent plumbing.
//
// A Strategy turns a market snapshot into zero or more TradeIntents. The
// loop owns everything after that: EV filter, risk gate, sizing, order
// submission. Strategies never talk to the venue and never mutate shared
// state, which is what makes the per-strategy panic isolation in the loop
// safe.
//
// Shipped strategies (constructed in buildStrategies):
//   • arbitrage       – YES+NO sum under par, paired maker legs
//   • market-maker    – two-sided quotes around fair value
//   • spike-reversion – fade sharp spot moves via the price feed
package main

import (
	"context"
	"sort"
)

// TradeIntent is a strategy's request to buy one outcome leg.
// Size is USDC notional; Edge is the fee-adjusted expected value per
// dollar at Price. Intents are values: the loop clamps by copying.
type TradeIntent struct {
	MarketID   string
	Question   string
	Outcome    Outcome
	Price      float64 // limit price, fraction in (0,1)
	Size       float64 // USDC; 0 lets the loop size by Kelly
	Edge       float64
	Confidence float64 // [0,1]
	Strategy   string
	Urgency    string // normal | immediate (immediate crosses the book)
	HorizonSec int    // expected time to thesis resolution
	Reason     string
}

// Strategy is the one seam the loop evaluates each iteration.
// Evaluate must be side-effect free and respect ctx.
type Strategy interface {
	Name() string
	Evaluate(ctx context.Context, markets []Market, positions []Position, balance float64) ([]TradeIntent, error)
}

// expectedValue is the fee-adjusted EV per dollar of buying at price when
// the outcome is worth fairValue: fairValue/price − 1, plus the maker
// rebate or minus the taker fee.
func expectedValue(fairValue, price float64, kind OrderKind) float64 {
	if price <= 0 {
		return 0
	}
	ev := fairValue/price - 1
	if kind == KindMaker {
		ev += makerRebateRate
	} else {
		ev -= takerFeeRate
	}
	return ev
}

// sortByEdge orders intents best-first.
func sortByEdge(intents []TradeIntent) {
	sort.Slice(intents, func(i, j int) bool {
		return intents[i].Edge > intents[j].Edge
	})
}

// hasOpenPosition reports whether any leg of the market is already held.
func hasOpenPosition(positions []Position, marketID string) bool {
	for _, p := range positions {
		if p.MarketID == marketID {
			return true
		}
	}
	return false
}

// buildStrategies constructs the enabled strategy set. The spot feed may
// be nil (paper mode without feeds); spike reversion is skipped then.
func buildStrategies(cfg Config, feed *PriceFeed) []Strategy {
	var out []Strategy
	if cfg.Arbitrage.Enabled {
		out = append(out, newArbitrageStrategy(cfg.Arbitrage))
	}
	if cfg.MarketMaker.Enabled {
		out = append(out, newMarketMakerStrategy(cfg.MarketMaker))
	}
	if cfg.Spike.Enabled && feed != nil {
		out = append(out, newSpikeStrategy(cfg.Spike, feed))
	}
	return out
}
