// FILE: strategy_maker.go
// Package main – Two-sided market-making strategy.
//
// Posts resting bids and asks around fair value in liquid crypto markets
// and earns the maker rebate on every fill. The ask side of a binary
// market is expressed as buying NO at 1−ask, so both intents are buys.
//
// Inventory discipline: the net YES-minus-NO cost basis from the open
// book scales quote sizes down as imbalance grows, and past
// MaxInventoryRatio the side that would add to the imbalance goes dark.
// Quotes are tracked per market and only re-posted when fair value has
// drifted past RebalanceAt or the quote has gone stale.
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
	makerQuoteMaxAge = 5 * time.Minute
	makerMinSizeFrac = 0.25 // inventory scaling never cuts a live side below this
	makerConfidence  = 0.8
	makerHorizonSec  = 300
)

type quoteState struct {
	fairValue float64
	postedAt  time.Time
}

type marketMakerStrategy struct {
	cfg    MarketMakerConfig
	quotes map[string]quoteState // market ID → last posted quote
	posted int
	now    func() time.Time
}

func newMarketMakerStrategy(cfg MarketMakerConfig) *marketMakerStrategy {
	return &marketMakerStrategy{
		cfg:    cfg,
		quotes: make(map[string]quoteState),
		now:    time.Now,
	}
}

func (s *marketMakerStrategy) Name() string { return "market-maker" }

func (s *marketMakerStrategy) Evaluate(ctx context.Context, markets []Market, positions []Position, balance float64) ([]TradeIntent, error) {
	var intents []TradeIntent
	for _, mk := range markets {
		if !s.quotable(mk) {
			continue
		}
		fv := fairValueMid(mk)

		if q, ok := s.quotes[mk.ID]; ok {
			drift := math.Abs(fv - q.fairValue)
			if drift <= s.cfg.RebalanceAt && s.now().Sub(q.postedAt) <= makerQuoteMaxAge {
				continue // quotes still good
			}
			log.Printf("[MM] re-quoting %s: fv %.4f -> %.4f (drift %.4f)",
				mk.ID, q.fairValue, fv, drift)
			delete(s.quotes, mk.ID)
		}

		qs := s.quoteIntents(mk, fv, positions)
		if len(qs) > 0 {
			s.quotes[mk.ID] = quoteState{fairValue: fv, postedAt: s.now()}
			s.posted += len(qs)
			intents = append(intents, qs...)
		}
	}
	return intents, nil
}

// quotable filters to active, liquid crypto markets.
func (s *marketMakerStrategy) quotable(mk Market) bool {
	if !mk.Active || mk.Liquidity < s.cfg.MinLiquidity {
		return false
	}
	cat := strings.ToLower(mk.Category)
	return strings.Contains(cat, "crypto") ||
		strings.Contains(cat, "bitcoin") ||
		strings.Contains(cat, "ethereum")
}

// quoteIntents builds the bid (buy YES) and ask (buy NO at 1−ask) legs.
func (s *marketMakerStrategy) quoteIntents(mk Market, fv float64, positions []Position) []TradeIntent {
	bid := clamp(fv-s.cfg.SpreadOffset, 0.01, 0.99)
	ask := clamp(fv+s.cfg.SpreadOffset, 0.01, 0.99)
	noBuy := 1 - ask

	bidEV := expectedValue(fv, bid, KindMaker)
	askEV := expectedValue(1-fv, noBuy, KindMaker)

	net := netInventory(positions, mk.ID)
	bidSize := s.sizeForInventory(net, true)
	askSize := s.sizeForInventory(net, false)

	var out []TradeIntent
	if bidEV > s.cfg.MinEdge && bidSize > 0 {
		out = append(out, TradeIntent{
			MarketID:   mk.ID,
			Question:   mk.Question,
			Outcome:    OutcomeYes,
			Price:      bid,
			Size:       bidSize,
			Edge:       bidEV,
			Confidence: makerConfidence,
			Strategy:   s.Name(),
			Urgency:    "normal",
			HorizonSec: makerHorizonSec,
			Reason:     fmt.Sprintf("MM bid: fv=%.4f spread=%.3f", fv, s.cfg.SpreadOffset),
		})
	}
	if askEV > s.cfg.MinEdge && askSize > 0 {
		out = append(out, TradeIntent{
			MarketID:   mk.ID,
			Question:   mk.Question,
			Outcome:    OutcomeNo,
			Price:      noBuy,
			Size:       askSize,
			Edge:       askEV,
			Confidence: makerConfidence,
			Strategy:   s.Name(),
			Urgency:    "normal",
			HorizonSec: makerHorizonSec,
			Reason:     fmt.Sprintf("MM ask: fv=%.4f spread=%.3f", fv, s.cfg.SpreadOffset),
		})
	}
	return out
}

// sizeForInventory shrinks the quote as inventory builds and blocks the
// side that would push a hard imbalance further.
func (s *marketMakerStrategy) sizeForInventory(net float64, buyYes bool) float64 {
	ratio := 0.0
	if s.cfg.OrderSize > 0 {
		ratio = math.Abs(net) / s.cfg.OrderSize
	}
	if ratio > s.cfg.MaxInventoryRatio {
		if buyYes && net > 0 {
			return 0 // already long YES
		}
		if !buyYes && net < 0 {
			return 0 // already long NO
		}
	}
	adj := clamp(1-ratio/(2*s.cfg.MaxInventoryRatio), makerMinSizeFrac, 1.0)
	return s.cfg.OrderSize * adj
}

// fairValueMid estimates fair value as the YES mid implied by both books.
func fairValueMid(mk Market) float64 {
	return (mk.YesPrice + (1 - mk.NoPrice)) / 2
}

// netInventory is the YES-minus-NO cost basis held in a market.
func netInventory(positions []Position, marketID string) float64 {
	net := 0.0
	for _, p := range positions {
		if p.MarketID != marketID {
			continue
		}
		if p.Outcome == OutcomeYes {
			net += p.EntryCost
		} else {
			net -= p.EntryCost
		}
	}
	return net
}
