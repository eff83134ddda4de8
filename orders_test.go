// FILE: orders_test.go
package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExec is an in-memory OrderExecution that records every call and
// fails on demand. Shared by the order and loop tests.
type fakeExec struct {
	mu        sync.Mutex
	submitErr error
	cancelErr error
	listErr   error
	open      []OpenOrder
	reqs      []OrderRequest
	cancelled []string
}

func (f *fakeExec) Name() string { return "fake" }

func (f *fakeExec) SubmitOrder(_ context.Context, req OrderRequest) (OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return OrderAck{}, f.submitErr
	}
	f.reqs = append(f.reqs, req)
	return OrderAck{ExchangeID: fmt.Sprintf("ex-%d", len(f.reqs)), AcceptedAt: time.Now()}, nil
}

func (f *fakeExec) CancelOrder(_ context.Context, exchangeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, exchangeID)
	return nil
}

func (f *fakeExec) ListOpenOrders(_ context.Context) ([]OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]OpenOrder(nil), f.open...), nil
}

func (f *fakeExec) requests() []OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OrderRequest(nil), f.reqs...)
}

func newTestBook() (*OrderManager, *fakeExec) {
	fake := &fakeExec{}
	return NewOrderManager(fake, 60*time.Second, time.Second), fake
}

func TestOrderLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("create starts pending", func(t *testing.T) {
		m, _ := newTestBook()
		o := m.Create(intentFor("m1", 2.0), 2.0, KindMaker)
		assert.NotEmpty(t, o.LocalID)
		assert.Equal(t, OrderPending, o.State)
		assert.Equal(t, SideBuy, o.Side)
		assert.InDelta(t, 2.0, o.RemainingSize, 1e-9)
		assert.Zero(t, o.FilledSize)
	})

	t.Run("maker goes live on ack", func(t *testing.T) {
		m, fake := newTestBook()
		o := m.Create(intentFor("m1", 2.0), 2.0, KindMaker)
		require.NoError(t, m.Submit(ctx, o.LocalID))

		got, ok := m.Get(o.LocalID)
		require.True(t, ok)
		assert.Equal(t, OrderLive, got.State)
		assert.Equal(t, "ex-1", got.ExchangeID)
		assert.False(t, got.SubmittedAt.IsZero())

		reqs := fake.requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, o.LocalID, reqs[0].ClientID)
		assert.Equal(t, KindMaker, reqs[0].Kind)
	})

	t.Run("taker fills immediately at the requested price", func(t *testing.T) {
		m, _ := newTestBook()
		var seen []Fill
		m.OnFill(func(_ ManagedOrder, f Fill) { seen = append(seen, f) })

		in := intentFor("m1", 5.0)
		in.Price = 0.55
		o := m.Create(in, 5.0, KindTaker)
		require.NoError(t, m.Submit(ctx, o.LocalID))

		got, _ := m.Get(o.LocalID)
		assert.Equal(t, OrderFilled, got.State)
		assert.InDelta(t, 5.0, got.FilledSize, 1e-9)
		assert.InDelta(t, 0.55, got.AvgFillPrice, 1e-9)
		require.Len(t, got.Fills, 1)
		assert.False(t, got.Fills[0].Maker)
		assert.InDelta(t, 0.15, got.Fills[0].Fee, 1e-9) // 5.00 * 3%
		assert.Zero(t, got.Fills[0].Rebate)

		require.Len(t, seen, 1)
		st := m.FillStats()
		assert.Equal(t, 1, st.Fills)
		assert.InDelta(t, 0.15, st.Fees, 1e-9)
		assert.InDelta(t, 0.0, st.Rebates, 1e-9)
		assert.InDelta(t, 0.15, st.NetFees, 1e-9)
	})

	t.Run("venue rejection lands in REJECTED", func(t *testing.T) {
		m, fake := newTestBook()
		fake.submitErr = fmt.Errorf("%w: price out of range", errOrderRejected)
		o := m.Create(intentFor("m1", 1.0), 1.0, KindMaker)

		err := m.Submit(ctx, o.LocalID)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errOrderRejected))

		got, _ := m.Get(o.LocalID)
		assert.Equal(t, OrderRejected, got.State)
		assert.NotEmpty(t, got.FailReason)
	})

	t.Run("transport error lands in FAILED", func(t *testing.T) {
		m, fake := newTestBook()
		fake.submitErr = errors.New("dial tcp: connection refused")
		o := m.Create(intentFor("m1", 1.0), 1.0, KindMaker)

		err := m.Submit(ctx, o.LocalID)
		require.Error(t, err)
		assert.False(t, errors.Is(err, errOrderRejected))

		got, _ := m.Get(o.LocalID)
		assert.Equal(t, OrderFailed, got.State)
	})

	t.Run("submit is guarded against replays", func(t *testing.T) {
		m, _ := newTestBook()
		o := m.Create(intentFor("m1", 1.0), 1.0, KindMaker)
		require.NoError(t, m.Submit(ctx, o.LocalID))

		err := m.Submit(ctx, o.LocalID)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "illegal transition")
	})

	t.Run("unknown order id", func(t *testing.T) {
		m, _ := newTestBook()
		assert.ErrorIs(t, m.Submit(ctx, "nope"), errUnknownOrder)
	})
}

func TestOrderFills(t *testing.T) {
	ctx := context.Background()

	t.Run("partial then full with vwap and rebates", func(t *testing.T) {
		m, _ := newTestBook()
		var seen []Fill
		m.OnFill(func(_ ManagedOrder, f Fill) { seen = append(seen, f) })

		in := intentFor("m1", 5.0)
		in.Price = 0.50
		o := m.Create(in, 5.0, KindMaker)
		require.NoError(t, m.Submit(ctx, o.LocalID))

		require.NoError(t, m.RecordFill(o.LocalID, 3.0, 0.50))
		got, _ := m.Get(o.LocalID)
		assert.Equal(t, OrderPartial, got.State)
		assert.InDelta(t, 3.0, got.FilledSize, 1e-9)
		assert.InDelta(t, 2.0, got.RemainingSize, 1e-9)
		assert.InDelta(t, 0.50, got.AvgFillPrice, 1e-9)
		assert.InDelta(t, 0.03, got.Fills[0].Rebate, 1e-9)

		require.NoError(t, m.RecordFill(o.LocalID, 2.0, 0.52))
		got, _ = m.Get(o.LocalID)
		assert.Equal(t, OrderFilled, got.State)
		assert.InDelta(t, 0.508, got.AvgFillPrice, 1e-9) // (3*0.50+2*0.52)/5
		assert.Zero(t, got.RemainingSize)
		assert.False(t, got.FilledAt.IsZero())
		assert.InDelta(t, got.Size, got.FilledSize+got.RemainingSize, 1e-9)

		require.Len(t, seen, 2)
		st := m.FillStats()
		assert.Equal(t, 2, st.Fills)
		assert.InDelta(t, 0.05, st.Rebates, 1e-9)
		assert.InDelta(t, -0.05, st.NetFees, 1e-9)
	})

	t.Run("oversize fill is capped at remaining", func(t *testing.T) {
		m, _ := newTestBook()
		o := m.Create(intentFor("m1", 2.0), 2.0, KindMaker)
		require.NoError(t, m.Submit(ctx, o.LocalID))

		require.NoError(t, m.RecordFill(o.LocalID, 5.0, 0.50))
		got, _ := m.Get(o.LocalID)
		assert.Equal(t, OrderFilled, got.State)
		assert.InDelta(t, 2.0, got.FilledSize, 1e-9)
	})

	t.Run("fills on a terminal order are refused", func(t *testing.T) {
		m, _ := newTestBook()
		o := m.Create(intentFor("m1", 1.0), 1.0, KindMaker)
		require.NoError(t, m.Submit(ctx, o.LocalID))
		require.NoError(t, m.RecordFill(o.LocalID, 1.0, 0.50))

		assert.ErrorIs(t, m.RecordFill(o.LocalID, 1.0, 0.50), errTerminalState)
		assert.ErrorIs(t, m.RecordFill("nope", 1.0, 0.50), errUnknownOrder)
	})
}

func TestOrderCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("live order cancels through the venue", func(t *testing.T) {
		m, fake := newTestBook()
		o := m.Create(intentFor("m1", 1.0), 1.0, KindMaker)
		require.NoError(t, m.Submit(ctx, o.LocalID))

		require.NoError(t, m.Cancel(ctx, o.LocalID, "test"))
		got, _ := m.Get(o.LocalID)
		assert.Equal(t, OrderCancelled, got.State)
		assert.False(t, got.CancelledAt.IsZero())
		assert.Equal(t, []string{"ex-1"}, fake.cancelled)

		// terminal cancel is a silent no-op, no second venue call
		require.NoError(t, m.Cancel(ctx, o.LocalID, "again"))
		assert.Len(t, fake.cancelled, 1)
	})

	t.Run("pending order cancels locally", func(t *testing.T) {
		m, fake := newTestBook()
		o := m.Create(intentFor("m1", 1.0), 1.0, KindMaker)
		require.NoError(t, m.Cancel(ctx, o.LocalID, "never submitted"))
		got, _ := m.Get(o.LocalID)
		assert.Equal(t, OrderCancelled, got.State)
		assert.Empty(t, fake.cancelled)
	})

	t.Run("venue failure keeps the order live", func(t *testing.T) {
		m, fake := newTestBook()
		o := m.Create(intentFor("m1", 1.0), 1.0, KindMaker)
		require.NoError(t, m.Submit(ctx, o.LocalID))

		fake.cancelErr = errors.New("gateway timeout")
		require.Error(t, m.Cancel(ctx, o.LocalID, "test"))
		got, _ := m.Get(o.LocalID)
		assert.Equal(t, OrderLive, got.State)
	})

	t.Run("cancel after fill keeps the fill", func(t *testing.T) {
		m, _ := newTestBook()
		o := m.Create(intentFor("m1", 1.0), 1.0, KindMaker)
		require.NoError(t, m.Submit(ctx, o.LocalID))
		require.NoError(t, m.RecordFill(o.LocalID, 1.0, 0.50))

		require.NoError(t, m.Cancel(ctx, o.LocalID, "too late"))
		got, _ := m.Get(o.LocalID)
		assert.Equal(t, OrderFilled, got.State)
	})

	t.Run("unknown order id", func(t *testing.T) {
		m, _ := newTestBook()
		assert.ErrorIs(t, m.Cancel(ctx, "nope", "test"), errUnknownOrder)
	})
}

func TestOrderTimeouts(t *testing.T) {
	ctx := context.Background()
	m, fake := newTestBook()
	t0 := time.Date(2025, time.March, 5, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return t0 }

	o := m.Create(intentFor("m1", 1.0), 1.0, KindMaker)
	require.NoError(t, m.Submit(ctx, o.LocalID))

	m.CheckTimeouts(ctx, t0.Add(59*time.Second))
	got, _ := m.Get(o.LocalID)
	require.Equal(t, OrderLive, got.State)

	m.CheckTimeouts(ctx, t0.Add(61*time.Second))
	got, _ = m.Get(o.LocalID)
	assert.Equal(t, OrderExpired, got.State)
	assert.Equal(t, []string{"ex-1"}, fake.cancelled)
}

func TestOrderReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("vanished order fills at its limit", func(t *testing.T) {
		m, fake := newTestBook()
		var seen []Fill
		m.OnFill(func(_ ManagedOrder, f Fill) { seen = append(seen, f) })

		in := intentFor("m1", 5.0)
		in.Price = 0.50
		o := m.Create(in, 5.0, KindMaker)
		require.NoError(t, m.Submit(ctx, o.LocalID))

		fake.open = nil // venue no longer lists it
		require.NoError(t, m.Reconcile(ctx))

		got, _ := m.Get(o.LocalID)
		assert.Equal(t, OrderFilled, got.State)
		assert.InDelta(t, 5.0, got.FilledSize, 1e-9)
		assert.InDelta(t, 0.50, got.AvgFillPrice, 1e-9)
		require.Len(t, seen, 1)
		assert.True(t, seen[0].Maker)
	})

	t.Run("order still on the venue is untouched", func(t *testing.T) {
		m, fake := newTestBook()
		o := m.Create(intentFor("m1", 1.0), 1.0, KindMaker)
		require.NoError(t, m.Submit(ctx, o.LocalID))

		fake.open = []OpenOrder{{ExchangeID: "ex-1", MarketID: "m1"}}
		require.NoError(t, m.Reconcile(ctx))

		got, _ := m.Get(o.LocalID)
		assert.Equal(t, OrderLive, got.State)
	})

	t.Run("a cancel that landed first wins the race", func(t *testing.T) {
		m, fake := newTestBook()
		o := m.Create(intentFor("m1", 1.0), 1.0, KindMaker)
		require.NoError(t, m.Submit(ctx, o.LocalID))
		require.NoError(t, m.Cancel(ctx, o.LocalID, "test"))

		fake.open = nil
		require.NoError(t, m.Reconcile(ctx))

		got, _ := m.Get(o.LocalID)
		assert.Equal(t, OrderCancelled, got.State)
		assert.Zero(t, got.FilledSize)
	})

	t.Run("list failure surfaces", func(t *testing.T) {
		m, fake := newTestBook()
		fake.listErr = errors.New("gateway down")
		err := m.Reconcile(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "list open orders")
	})
}

func TestOrderCancelAll(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestBook()

	mk := func(strategy string) string {
		in := intentFor("m-"+strategy, 1.0)
		in.Strategy = strategy
		o := m.Create(in, 1.0, KindMaker)
		require.NoError(t, m.Submit(ctx, o.LocalID))
		return o.LocalID
	}
	a1, a2, b1 := mk("arb"), mk("arb"), mk("mm")

	assert.Equal(t, 2, m.CancelAll(ctx, "arb"))
	for _, id := range []string{a1, a2} {
		got, _ := m.Get(id)
		assert.Equal(t, OrderCancelled, got.State)
	}
	got, _ := m.Get(b1)
	require.Equal(t, OrderLive, got.State)

	assert.Equal(t, 1, m.CancelAll(ctx, ""))
	assert.Empty(t, m.OpenOrders())
}
