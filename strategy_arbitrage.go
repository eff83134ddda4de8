// FILE: strategy_arbitrage.go
// Package main – YES/NO arbitrage strategy.
//
// A binary market where YES + NO asks sum below par pays out regardless
// of the outcome: buy both legs, one resolves to $1. With maker rebates
// on both resting orders the net profit per pair is
//
//   net = (1 − (yes+no)) + 2×rebate
//
// and any net ≥ MinSpread is worth pairing. Legs are shaded MakerBuf
// below the quoted prices to keep maker status. Both intents carry half
// the net as their per-side edge and confidence 1.0.
package main

import (
	"context"
	"fmt"
	"log"
	"math"
)

// arbSizing bounds: at most half the balance per arb, 1–10 share pairs.
const (
	arbBalanceFrac = 0.5
	arbMinPairs    = 1.0
	arbMaxPairs    = 10.0
	arbMinLiq      = 100.0
)

type arbitrageStrategy struct {
	cfg   ArbitrageConfig
	found int
}

func newArbitrageStrategy(cfg ArbitrageConfig) *arbitrageStrategy {
	return &arbitrageStrategy{cfg: cfg}
}

func (s *arbitrageStrategy) Name() string { return "arbitrage" }

func (s *arbitrageStrategy) Evaluate(ctx context.Context, markets []Market, positions []Position, balance float64) ([]TradeIntent, error) {
	var intents []TradeIntent
	for _, mk := range markets {
		if !mk.Active || mk.Liquidity < arbMinLiq {
			continue
		}
		totalCost := mk.YesPrice + mk.NoPrice
		if totalCost <= 0 {
			continue
		}
		net := (1.0 - totalCost) + 2*makerRebateRate
		if net < s.cfg.MinSpread {
			continue
		}
		if hasOpenPosition(positions, mk.ID) {
			continue
		}
		s.found++
		log.Printf("[ARB] found %s: YES %.4f + NO %.4f = %.4f (net %.4f = %.1f%%)",
			trimQuestion(mk.Question), mk.YesPrice, mk.NoPrice, totalCost, net, net*100)

		// Pair count: capped by balance share and the per-arb budget.
		maxPairs := math.Min(balance*arbBalanceFrac/totalCost, s.cfg.MaxSize/totalCost)
		pairs := math.Max(arbMinPairs, math.Min(maxPairs, arbMaxPairs))

		yesBuy := clamp(mk.YesPrice-s.cfg.MakerBuf, 0.01, 0.99)
		noBuy := clamp(mk.NoPrice-s.cfg.MakerBuf, 0.01, 0.99)

		intents = append(intents,
			TradeIntent{
				MarketID:   mk.ID,
				Question:   mk.Question,
				Outcome:    OutcomeYes,
				Price:      yesBuy,
				Size:       pairs * yesBuy,
				Edge:       net / 2,
				Confidence: 1.0,
				Strategy:   s.Name(),
				Urgency:    "high",
				HorizonSec: 3600,
				Reason:     fmt.Sprintf("arb YES leg: sum=%.4f", totalCost),
			},
			TradeIntent{
				MarketID:   mk.ID,
				Question:   mk.Question,
				Outcome:    OutcomeNo,
				Price:      noBuy,
				Size:       pairs * noBuy,
				Edge:       net / 2,
				Confidence: 1.0,
				Strategy:   s.Name(),
				Urgency:    "high",
				HorizonSec: 3600,
				Reason:     fmt.Sprintf("arb NO leg: sum=%.4f", totalCost),
			},
		)
	}
	return intents, nil
}

// trimQuestion shortens long market questions for log lines.
func trimQuestion(q string) string {
	if len(q) > 50 {
		return q[:50] + "..."
	}
	return q
}
