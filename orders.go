// FILE: orders.go
// Package main – Order lifecycle manager.
//
// Owns every order the engine creates, from intent to terminal state:
//
//   PENDING → SUBMITTED → (LIVE | FILLED†)
//   LIVE    → (PARTIAL → FILLED† | CANCELLED† | EXPIRED†)
//   any non-terminal → REJECTED† | FAILED†
//
// † = terminal and absorbing. Transitions are table-guarded; an illegal
// transition returns errTerminalState and leaves the order untouched, which
// is what makes the reconcile-vs-cancel race safe: whichever terminal state
// lands first wins and the loser becomes a no-op.
//
// The venue is never called while the lock is held (unlock for I/O,
// re-lock to apply). Fill observers run outside the lock on copies.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

type OrderState string

const (
	OrderPending   OrderState = "PENDING"
	OrderSubmitted OrderState = "SUBMITTED"
	OrderLive      OrderState = "LIVE"
	OrderPartial   OrderState = "PARTIAL"
	OrderFilled    OrderState = "FILLED"
	OrderCancelled OrderState = "CANCELLED"
	OrderExpired   OrderState = "EXPIRED"
	OrderRejected  OrderState = "REJECTED"
	OrderFailed    OrderState = "FAILED"
)

// Terminal reports whether the state absorbs all further transitions.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderExpired, OrderRejected, OrderFailed:
		return true
	}
	return false
}

var orderTransitions = map[OrderState][]OrderState{
	OrderPending:   {OrderSubmitted, OrderCancelled, OrderRejected, OrderFailed},
	OrderSubmitted: {OrderLive, OrderFilled, OrderRejected, OrderFailed},
	OrderLive:      {OrderPartial, OrderFilled, OrderCancelled, OrderExpired, OrderRejected, OrderFailed},
	OrderPartial:   {OrderFilled, OrderCancelled, OrderExpired, OrderRejected, OrderFailed},
}

func canTransition(from, to OrderState) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var (
	errTerminalState = errors.New("order in terminal state")
	errUnknownOrder  = errors.New("unknown order")
)

// Venue fee schedule: makers earn a rebate, takers pay. Mutually
// exclusive per fill.
const (
	makerRebateRate = 0.01
	takerFeeRate    = 0.03
)

// Fill is one execution against an order. Size is USDC notional.
type Fill struct {
	Price  float64   `json:"price"`
	Size   float64   `json:"size"`
	Time   time.Time `json:"time"`
	Maker  bool      `json:"maker"`
	Fee    float64   `json:"fee"`
	Rebate float64   `json:"rebate"`
}

// ManagedOrder is the engine's view of one venue order.
type ManagedOrder struct {
	LocalID       string        `json:"local_id"`
	ExchangeID    string        `json:"exchange_id,omitempty"`
	MarketID      string        `json:"market_id"`
	Question      string        `json:"question,omitempty"`
	Outcome       Outcome       `json:"outcome"`
	Side          OrderSide     `json:"side"`
	Kind          OrderKind     `json:"kind"`
	Price         float64       `json:"price"`
	Size          float64       `json:"size"` // USDC notional
	FilledSize    float64       `json:"filled_size"`
	RemainingSize float64       `json:"remaining_size"`
	AvgFillPrice  float64       `json:"avg_fill_price"`
	State         OrderState    `json:"state"`
	Strategy      string        `json:"strategy"`
	Timeout       time.Duration `json:"-"`
	CreatedAt     time.Time     `json:"created_at"`
	SubmittedAt   time.Time     `json:"submitted_at,omitempty"`
	FilledAt      time.Time     `json:"filled_at,omitempty"`
	CancelledAt   time.Time     `json:"cancelled_at,omitempty"`
	FailReason    string        `json:"fail_reason,omitempty"`
	Fills         []Fill        `json:"fills,omitempty"`
}

// FillObserver receives each recorded fill on a copy of the order, after
// the manager's lock is released.
type FillObserver func(o ManagedOrder, f Fill)

// FillSummary aggregates execution costs across all fills.
type FillSummary struct {
	Fills   int     `json:"fills"`
	Fees    float64 `json:"fees"`
	Rebates float64 `json:"rebates"`
	NetFees float64 `json:"net_fees"` // fees − rebates; negative means the engine earned
}

// OrderManager tracks orders by local id and runs the background sweep
// (timeouts, then venue reconciliation).
type OrderManager struct {
	mu         sync.Mutex
	exec       OrderExecution
	orders     map[string]*ManagedOrder
	byExchange map[string]string // exchange id → local id

	defaultTimeout time.Duration
	syncEvery      time.Duration

	observers []FillObserver
	fills     int
	fees      float64
	rebates   float64

	wg  sync.WaitGroup
	now func() time.Time
}

func NewOrderManager(exec OrderExecution, timeout, syncEvery time.Duration) *OrderManager {
	return &OrderManager{
		exec:           exec,
		orders:         make(map[string]*ManagedOrder),
		byExchange:     make(map[string]string),
		defaultTimeout: timeout,
		syncEvery:      syncEvery,
		now:            time.Now,
	}
}

// OnFill registers an observer for recorded fills. Register before the
// monitor starts; registration is not synchronized with delivery.
func (m *OrderManager) OnFill(fn FillObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Create builds a PENDING order from an intent. No network.
func (m *OrderManager) Create(intent TradeIntent, size float64, kind OrderKind) *ManagedOrder {
	o := &ManagedOrder{
		LocalID:       uuid.New().String(),
		MarketID:      intent.MarketID,
		Question:      intent.Question,
		Outcome:       intent.Outcome,
		Side:          SideBuy,
		Kind:          kind,
		Price:         intent.Price,
		Size:          size,
		RemainingSize: size,
		State:         OrderPending,
		Strategy:      intent.Strategy,
		Timeout:       m.defaultTimeout,
		CreatedAt:     m.now(),
	}
	m.mu.Lock()
	m.orders[o.LocalID] = o
	m.mu.Unlock()
	return o
}

// Submit sends a PENDING order to the venue. Maker orders go LIVE on ack;
// taker orders fill immediately at the requested price. Venue rejections
// land in REJECTED, transport errors in FAILED; neither is retried here.
func (m *OrderManager) Submit(ctx context.Context, localID string) error {
	m.mu.Lock()
	o, ok := m.orders[localID]
	if !ok {
		m.mu.Unlock()
		return errUnknownOrder
	}
	if err := m.transitionLocked(o, OrderSubmitted); err != nil {
		m.mu.Unlock()
		return err
	}
	o.SubmittedAt = m.now()
	req := OrderRequest{
		MarketID: o.MarketID,
		Outcome:  o.Outcome,
		Side:     o.Side,
		Kind:     o.Kind,
		Price:    o.Price,
		Size:     o.Size,
		ClientID: o.LocalID,
	}
	m.mu.Unlock() // unlock for I/O

	ack, err := m.exec.SubmitOrder(ctx, req)

	m.mu.Lock() // re-lock
	if err != nil {
		to := OrderFailed
		if errors.Is(err, errOrderRejected) {
			to = OrderRejected
		}
		o.FailReason = err.Error()
		if terr := m.transitionLocked(o, to); terr != nil {
			m.mu.Unlock()
			return terr
		}
		m.mu.Unlock()
		log.Printf("[ORDER] submit %s %s %s: %v", o.Strategy, o.MarketID, to, err)
		return fmt.Errorf("submit order: %w", err)
	}

	o.ExchangeID = ack.ExchangeID
	if ack.ExchangeID != "" {
		m.byExchange[ack.ExchangeID] = o.LocalID
	}

	if o.Kind == KindTaker {
		oc, fc, aerr := m.applyFillLocked(o, o.Size, o.Price)
		m.mu.Unlock()
		if aerr != nil {
			return aerr
		}
		m.notify(oc, fc)
		log.Printf("[ORDER] taker filled %s %s %s %.2f @ %.3f",
			o.Strategy, o.MarketID, o.Outcome, o.Size, o.Price)
		return nil
	}

	if err := m.transitionLocked(o, OrderLive); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()
	log.Printf("[ORDER] live %s %s %s %.2f @ %.3f id=%s",
		o.Strategy, o.MarketID, o.Outcome, o.Size, o.Price, o.ExchangeID)
	return nil
}

// Cancel moves a resting order to CANCELLED. Terminal orders are a no-op
// success; orders that never reached the venue cancel locally.
func (m *OrderManager) Cancel(ctx context.Context, localID, reason string) error {
	return m.cancelTo(ctx, localID, reason, OrderCancelled)
}

func (m *OrderManager) cancelTo(ctx context.Context, localID, reason string, to OrderState) error {
	m.mu.Lock()
	o, ok := m.orders[localID]
	if !ok {
		m.mu.Unlock()
		return errUnknownOrder
	}
	if o.State.Terminal() {
		m.mu.Unlock()
		return nil
	}
	exchangeID := o.ExchangeID
	if exchangeID == "" {
		err := m.transitionLocked(o, to)
		o.CancelledAt = m.now()
		m.mu.Unlock()
		if err == nil {
			log.Printf("[ORDER] %s local %s (%s)", to, localID, reason)
		}
		return err
	}
	m.mu.Unlock() // unlock for I/O

	cerr := m.exec.CancelOrder(ctx, exchangeID)

	m.mu.Lock() // re-lock
	if o.State.Terminal() {
		// filled or reconciled while the cancel was in flight
		m.mu.Unlock()
		return nil
	}
	if cerr != nil {
		m.mu.Unlock()
		return fmt.Errorf("cancel order %s: %w", exchangeID, cerr)
	}
	err := m.transitionLocked(o, to)
	o.CancelledAt = m.now()
	m.mu.Unlock()
	if err == nil {
		log.Printf("[ORDER] %s %s %s %s (%s)", to, o.Strategy, o.MarketID, exchangeID, reason)
	}
	return err
}

// RecordFill applies an execution to a live order: VWAP update, fee or
// rebate, and the PARTIAL/FILLED transition. Oversized reports are capped
// at the remaining size so the fill arithmetic always balances.
func (m *OrderManager) RecordFill(localID string, size, price float64) error {
	m.mu.Lock()
	o, ok := m.orders[localID]
	if !ok {
		m.mu.Unlock()
		return errUnknownOrder
	}
	if o.State.Terminal() {
		m.mu.Unlock()
		return errTerminalState
	}
	oc, fc, err := m.applyFillLocked(o, size, price)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.notify(oc, fc)
	return nil
}

// applyFillLocked does the bookkeeping for one fill and returns copies for
// observer delivery. Caller holds the lock.
func (m *OrderManager) applyFillLocked(o *ManagedOrder, size, price float64) (ManagedOrder, Fill, error) {
	if size > o.RemainingSize {
		size = o.RemainingSize
	}
	f := Fill{
		Price: price,
		Size:  size,
		Time:  m.now(),
		Maker: o.Kind == KindMaker,
	}
	if f.Maker {
		f.Rebate = size * makerRebateRate
	} else {
		f.Fee = size * takerFeeRate
	}

	o.Fills = append(o.Fills, f)
	o.FilledSize += size
	o.RemainingSize = o.Size - o.FilledSize
	var notional, qty float64
	for _, pf := range o.Fills {
		notional += pf.Price * pf.Size
		qty += pf.Size
	}
	if qty > 0 {
		o.AvgFillPrice = notional / qty
	}

	to := OrderPartial
	if o.RemainingSize <= 1e-9 {
		o.RemainingSize = 0
		to = OrderFilled
	}
	if o.State != to {
		if err := m.transitionLocked(o, to); err != nil {
			return ManagedOrder{}, Fill{}, err
		}
	}
	if to == OrderFilled {
		o.FilledAt = f.Time
	}

	m.fills++
	m.fees += f.Fee
	m.rebates += f.Rebate
	mtxFills.Inc()
	log.Printf("[FILL] %s %s %s %.2f @ %.3f (%s, fee %.4f rebate %.4f)",
		o.Strategy, o.MarketID, o.Outcome, f.Size, f.Price, o.State, f.Fee, f.Rebate)
	return *o, f, nil
}

// notify delivers a fill to observers outside the lock. A panicking
// observer is logged and isolated.
func (m *OrderManager) notify(o ManagedOrder, f Fill) {
	m.mu.Lock()
	obs := make([]FillObserver, len(m.observers))
	copy(obs, m.observers)
	m.mu.Unlock()
	for _, fn := range obs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[ORDER] fill observer panic: %v", r)
				}
			}()
			fn(o, f)
		}()
	}
}

// CheckTimeouts expires resting orders whose budget has run out.
func (m *OrderManager) CheckTimeouts(ctx context.Context, now time.Time) {
	m.mu.Lock()
	var stale []string
	for id, o := range m.orders {
		if o.State != OrderLive && o.State != OrderPartial {
			continue
		}
		timeout := o.Timeout
		if timeout <= 0 {
			timeout = m.defaultTimeout
		}
		if now.Sub(o.SubmittedAt) > timeout {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		if err := m.cancelTo(ctx, id, "timeout", OrderExpired); err != nil {
			log.Printf("[ORDER] expire %s: %v", id, err)
		}
	}
}

// Reconcile compares local resting orders against the venue's open-order
// list. A tracked order the venue no longer knows is treated as filled for
// its full remaining size at the limit price; an already-terminal local
// state (e.g. a cancel that just landed) wins because terminal absorbs.
func (m *OrderManager) Reconcile(ctx context.Context) error {
	open, err := m.exec.ListOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("list open orders: %w", err)
	}
	alive := make(map[string]bool, len(open))
	for _, oo := range open {
		alive[oo.ExchangeID] = true
	}

	type delivery struct {
		o ManagedOrder
		f Fill
	}
	var out []delivery

	m.mu.Lock()
	for _, o := range m.orders {
		if o.State != OrderLive && o.State != OrderPartial {
			continue
		}
		if o.ExchangeID == "" || alive[o.ExchangeID] {
			continue
		}
		log.Printf("[SYNC] order %s gone from venue; recording fill %.2f @ %.3f",
			o.ExchangeID, o.RemainingSize, o.Price)
		oc, fc, ferr := m.applyFillLocked(o, o.RemainingSize, o.Price)
		if ferr != nil {
			log.Printf("[SYNC] reconcile %s: %v", o.LocalID, ferr)
			continue
		}
		out = append(out, delivery{oc, fc})
	}
	m.mu.Unlock()

	for _, d := range out {
		m.notify(d.o, d.f)
	}
	return nil
}

// CancelAll cancels every non-terminal order, optionally filtered by
// strategy. Best-effort; returns how many cancels succeeded.
func (m *OrderManager) CancelAll(ctx context.Context, strategy string) int {
	m.mu.Lock()
	var ids []string
	for id, o := range m.orders {
		if o.State.Terminal() {
			continue
		}
		if strategy != "" && o.Strategy != strategy {
			continue
		}
		ids = append(ids, id)
	}
	m.mu.Unlock()

	n := 0
	for _, id := range ids {
		if err := m.Cancel(ctx, id, "cancel all"); err != nil {
			log.Printf("[ORDER] cancel all %s: %v", id, err)
			continue
		}
		n++
	}
	return n
}

// StartMonitor runs the background sweep (timeouts, then reconcile) every
// syncEvery until ctx is cancelled.
func (m *OrderManager) StartMonitor(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		t := time.NewTicker(m.syncEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				m.CheckTimeouts(ctx, now)
				if err := m.Reconcile(ctx); err != nil {
					log.Printf("[SYNC] reconcile: %v", err)
				}
			}
		}
	}()
}

// WaitStopped blocks until the monitor goroutine has exited.
func (m *OrderManager) WaitStopped() { m.wg.Wait() }

// Get returns a copy of the order.
func (m *OrderManager) Get(localID string) (ManagedOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[localID]
	if !ok {
		return ManagedOrder{}, false
	}
	return *o, true
}

// OpenOrders returns copies of all non-terminal orders.
func (m *OrderManager) OpenOrders() []ManagedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ManagedOrder
	for _, o := range m.orders {
		if !o.State.Terminal() {
			out = append(out, *o)
		}
	}
	return out
}

// FillStats summarizes execution costs across the session.
func (m *OrderManager) FillStats() FillSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return FillSummary{
		Fills:   m.fills,
		Fees:    math.Round(m.fees*10000) / 10000,
		Rebates: math.Round(m.rebates*10000) / 10000,
		NetFees: math.Round((m.fees-m.rebates)*10000) / 10000,
	}
}

// transitionLocked applies a guarded state change. Caller holds the lock.
func (m *OrderManager) transitionLocked(o *ManagedOrder, to OrderState) error {
	if o.State.Terminal() {
		return fmt.Errorf("%w: %s is %s", errTerminalState, o.LocalID, o.State)
	}
	if !canTransition(o.State, to) {
		return fmt.Errorf("illegal transition %s -> %s for %s", o.State, to, o.LocalID)
	}
	o.State = to
	IncOrderState(string(to))
	return nil
}
