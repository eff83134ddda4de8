// FILE: exchange.go
// Package main – Exchange abstractions shared by all venue backends.
//
// This file defines the two seams the engine needs to talk to a
// prediction-market venue:
//   • MarketData: tradeable-market listing, balance, settlement status
//   • OrderExecution: submit/cancel/list-open, consumed by the order book
// plus the common wire types (Market, OrderRequest, OrderAck, OpenOrder).
//
// Three concrete implementations live in separate files:
//   • exchange_paper.go  – in-memory simulated venue (no external calls)
//   • exchange_bridge.go – HTTP client for the local REST gateway sidecar
//   • exchange_gamma.go  – read-only public market-data client
package main

import (
	"context"
	"errors"
	"time"
)

// errOrderRejected marks a venue-side refusal (bad price, closed market,
// insufficient funds). Transport and timeout errors are never wrapped in
// it, so the order manager can tell REJECTED from FAILED.
var errOrderRejected = errors.New("order rejected by venue")

// OrderSide is the side of a trade. The engine only ever buys outcome
// tokens (betting against an outcome means buying its complement).
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderKind selects resting (maker) vs immediate (taker) execution.
type OrderKind string

const (
	KindMaker OrderKind = "MAKER" // resting limit; earns a rebate when filled
	KindTaker OrderKind = "TAKER" // crosses the book; pays the taker fee
)

// Outcome is one of the two complementary sides of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Opposite returns the complementary outcome.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// Market is the normalized view of one binary market.
// Prices are fractions in (0,1); YesPrice+NoPrice ≈ 1 at fair value.
type Market struct {
	ID        string
	Question  string
	YesPrice  float64
	NoPrice   float64
	YesBid    float64
	YesAsk    float64
	Liquidity float64
	Volume24h float64
	Category  string
	EndDate   time.Time
	Active    bool
}

// Price returns the current ask for buying the given outcome.
func (m Market) Price(o Outcome) float64 {
	if o == OutcomeYes {
		return m.YesPrice
	}
	return m.NoPrice
}

// MarketStatus reports whether a market is still trading and, once
// settled, which outcome won. Settled=true with Winner=="" means the
// venue reported settlement without a determinable winner.
type MarketStatus struct {
	Active  bool
	Settled bool
	Winner  Outcome
}

// OrderRequest is what the order book hands an execution backend.
type OrderRequest struct {
	MarketID string
	Outcome  Outcome
	Side     OrderSide
	Kind     OrderKind
	Price    float64 // limit price, fraction in (0,1)
	Size     float64 // notional USDC
	ClientID string  // local order id, dedupe-safe across retries
}

// OrderAck is the venue's acknowledgement of a submitted order.
type OrderAck struct {
	ExchangeID string
	AcceptedAt time.Time
}

// OpenOrder is one row of the venue's open-order list, used by
// reconciliation. Only the exchange id is load-bearing.
type OpenOrder struct {
	ExchangeID string
	MarketID   string
	Price      float64
	Remaining  float64
}

// MarketData is the read side of a venue: what can be traded, what the
// account is worth, and whether a market has settled.
type MarketData interface {
	Name() string
	ListMarkets(ctx context.Context) ([]Market, error)
	GetBalance(ctx context.Context) (float64, error)
	MarketStatus(ctx context.Context, marketID string) (MarketStatus, error)
}

// OrderExecution is the write side of a venue. Implementations must be
// safe for concurrent use: the loop goroutine and the order monitor both
// call into them.
type OrderExecution interface {
	Name() string
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, exchangeID string) error
	ListOpenOrders(ctx context.Context) ([]OpenOrder, error)
}
