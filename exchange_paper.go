// FILE: exchange_paper.go
// Package main – In-memory simulated venue for offline runs and tests.
//
// Implements both MarketData and OrderExecution with no external calls:
//   • a rotating set of synthetic crypto binary markets whose prices
//     random-walk on every ListMarkets, occasionally dipping the YES+NO
//     sum low enough to hand the arbitrage strategy something to find
//   • resting maker orders mature after a random delay and then vanish
//     from the open-order list, which drives the engine's normal
//     fill-on-disappearance reconcile path instead of a special case
//   • markets settle at their end date (winner = side trading above 0.5)
//     and are replaced with fresh ones so the loop never runs dry
//
// Deterministic under a fixed seed; tests lean on that.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	paperFillMin = 5 * time.Second
	paperFillMax = 45 * time.Second
	paperLifeMin = 10 * time.Minute
	paperLifeMax = 20 * time.Minute
)

type paperOrder struct {
	req      OrderRequest
	placedAt time.Time
	fillAt   time.Time
}

type paperMarket struct {
	mk       Market
	settleAt time.Time
}

// PaperExchange is the synthetic venue.
type PaperExchange struct {
	mu      sync.Mutex
	balance float64
	markets map[string]*paperMarket
	settled map[string]MarketStatus
	open    map[string]*paperOrder
	rng     *rand.Rand
	seq     int
	now     func() time.Time
}

func NewPaperExchange(balance float64, seed int64) *PaperExchange {
	p := &PaperExchange{
		balance: balance,
		markets: make(map[string]*paperMarket),
		settled: make(map[string]MarketStatus),
		open:    make(map[string]*paperOrder),
		rng:     rand.New(rand.NewSource(seed)),
		now:     time.Now,
	}
	for _, asset := range []string{"Bitcoin", "Bitcoin", "Ethereum", "Ethereum"} {
		p.spawnLocked(asset)
	}
	return p
}

func (p *PaperExchange) Name() string { return "paper" }

// spawnLocked creates one synthetic market. Caller holds the lock.
func (p *PaperExchange) spawnLocked(asset string) *paperMarket {
	p.seq++
	yes := 0.30 + p.rng.Float64()*0.40
	life := paperLifeMin + time.Duration(p.rng.Int63n(int64(paperLifeMax-paperLifeMin)))
	strike := 100_000 + p.rng.Intn(20)*500
	if asset == "Ethereum" {
		strike = 3_000 + p.rng.Intn(20)*50
	}
	pm := &paperMarket{
		mk: Market{
			ID:        fmt.Sprintf("paper-%d", p.seq),
			Question:  fmt.Sprintf("Will %s be above $%d at the next close?", asset, strike),
			YesPrice:  yes,
			NoPrice:   1 - yes,
			Liquidity: 300 + p.rng.Float64()*2700,
			Volume24h: 1000 + p.rng.Float64()*9000,
			Category:  "Crypto",
			EndDate:   p.now().Add(life),
			Active:    true,
		},
		settleAt: p.now().Add(life),
	}
	pm.mk.YesBid = pm.mk.YesPrice - 0.01
	pm.mk.YesAsk = pm.mk.YesPrice + 0.01
	p.markets[pm.mk.ID] = pm
	return pm
}

// driftLocked random-walks one market's prices. The NO leg gets its own
// noise so the YES+NO sum wanders either side of par.
func (p *PaperExchange) driftLocked(pm *paperMarket) {
	yes := clamp(pm.mk.YesPrice+(p.rng.Float64()-0.5)*0.02, 0.02, 0.98)
	eps := -0.025 + p.rng.Float64()*0.04 // sum−1 ∈ [−0.025, +0.015]
	pm.mk.YesPrice = yes
	pm.mk.NoPrice = clamp(1-yes+eps, 0.02, 0.98)
	pm.mk.YesBid = clamp(yes-0.01, 0.01, 0.99)
	pm.mk.YesAsk = clamp(yes+0.01, 0.01, 0.99)
}

// rotateLocked settles due markets and spawns replacements.
func (p *PaperExchange) rotateLocked() {
	now := p.now()
	for id, pm := range p.markets {
		if now.Before(pm.settleAt) {
			continue
		}
		winner := OutcomeNo
		if pm.mk.YesPrice > 0.5 {
			winner = OutcomeYes
		}
		p.settled[id] = MarketStatus{Settled: true, Winner: winner}
		delete(p.markets, id)

		asset := "Bitcoin"
		if assetMentioned(pm.mk.Question, "ETH") {
			asset = "Ethereum"
		}
		p.spawnLocked(asset)
	}
}

func (p *PaperExchange) ListMarkets(ctx context.Context) ([]Market, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotateLocked()
	out := make([]Market, 0, len(p.markets))
	for _, pm := range p.markets {
		p.driftLocked(pm)
		out = append(out, pm.mk)
	}
	return out, nil
}

func (p *PaperExchange) GetBalance(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

func (p *PaperExchange) MarketStatus(ctx context.Context, marketID string) (MarketStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.settled[marketID]; ok {
		return st, nil
	}
	if _, ok := p.markets[marketID]; ok {
		return MarketStatus{Active: true}, nil
	}
	return MarketStatus{}, fmt.Errorf("market %s not found", marketID)
}

// SubmitOrder accepts a validated order. Maker orders rest until a
// randomized fill time; taker orders ack immediately and never rest.
func (p *PaperExchange) SubmitOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if req.Price <= 0 || req.Price >= 1 {
		return OrderAck{}, fmt.Errorf("%w: price %.4f out of range", errOrderRejected, req.Price)
	}
	if req.Size <= 0 {
		return OrderAck{}, fmt.Errorf("%w: size %.4f", errOrderRejected, req.Size)
	}
	if _, ok := p.markets[req.MarketID]; !ok {
		return OrderAck{}, fmt.Errorf("%w: market %s not open", errOrderRejected, req.MarketID)
	}

	ack := OrderAck{ExchangeID: uuid.New().String(), AcceptedAt: p.now()}
	if req.Kind == KindMaker {
		delay := paperFillMin + time.Duration(p.rng.Int63n(int64(paperFillMax-paperFillMin)))
		p.open[ack.ExchangeID] = &paperOrder{
			req:      req,
			placedAt: ack.AcceptedAt,
			fillAt:   ack.AcceptedAt.Add(delay),
		}
	}
	return ack, nil
}

func (p *PaperExchange) CancelOrder(ctx context.Context, exchangeID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.open[exchangeID]
	if !ok {
		return fmt.Errorf("order %s not found", exchangeID)
	}
	if !p.now().Before(o.fillAt) {
		// already executed; the next reconcile will surface the fill
		delete(p.open, exchangeID)
		return fmt.Errorf("order %s already executed", exchangeID)
	}
	delete(p.open, exchangeID)
	return nil
}

// ListOpenOrders drops matured orders before answering, which is how
// paper fills reach the engine: the reconciler sees them disappear.
func (p *PaperExchange) ListOpenOrders(ctx context.Context) ([]OpenOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	var out []OpenOrder
	for id, o := range p.open {
		if !now.Before(o.fillAt) {
			delete(p.open, id)
			continue
		}
		out = append(out, OpenOrder{
			ExchangeID: id,
			MarketID:   o.req.MarketID,
			Price:      o.req.Price,
			Remaining:  o.req.Size,
		})
	}
	return out, nil
}
