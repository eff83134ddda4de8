// FILE: feeds_test.go
package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAt(base time.Time, symbols ...string) (*PriceFeed, *time.Time) {
	f := NewPriceFeed(symbols, "", "")
	clock := new(time.Time)
	*clock = base
	f.now = func() time.Time { return *clock }
	return f, clock
}

func TestPriceFeedHistory(t *testing.T) {
	base := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)

	t.Run("latest observation wins", func(t *testing.T) {
		f, _ := feedAt(base, "BTC")
		f.record("BTC", 100, base.Add(-10*time.Second))
		f.record("BTC", 101, base.Add(-2*time.Second))

		got, ok := f.Price("BTC")
		require.True(t, ok)
		assert.InDelta(t, 101, got, 1e-9)

		_, ok = f.Price("ETH")
		assert.False(t, ok)
	})

	t.Run("sub-second updates coalesce", func(t *testing.T) {
		f, _ := feedAt(base, "BTC")
		f.record("BTC", 100, base.Add(-2*time.Second))
		f.record("BTC", 100.5, base.Add(-1500*time.Millisecond))

		series := f.PriceSeries("BTC", time.Minute)
		require.Len(t, series, 1)
		assert.InDelta(t, 100.5, series[0], 1e-9)
	})

	t.Run("series respects the window", func(t *testing.T) {
		f, _ := feedAt(base, "BTC")
		f.record("BTC", 99, base.Add(-14*time.Minute))
		f.record("BTC", 100, base.Add(-5*time.Minute))
		f.record("BTC", 101, base.Add(-30*time.Second))

		assert.Equal(t, []float64{101}, f.PriceSeries("BTC", time.Minute))
		assert.Equal(t, []float64{100, 101}, f.PriceSeries("BTC", 10*time.Minute))
	})

	t.Run("stale points age out on append", func(t *testing.T) {
		f, _ := feedAt(base, "BTC")
		f.record("BTC", 99, base.Add(-16*time.Minute))
		f.record("BTC", 100, base)

		series := f.PriceSeries("BTC", 20*time.Minute)
		assert.Equal(t, []float64{100}, series)
	})

	t.Run("zero and negative prices are dropped", func(t *testing.T) {
		f, _ := feedAt(base, "BTC")
		f.record("BTC", 0, base.Add(-2*time.Second))
		f.record("BTC", -5, base)
		_, ok := f.Price("BTC")
		assert.False(t, ok)
	})

	t.Run("connected flag", func(t *testing.T) {
		f, _ := feedAt(base, "BTC")
		assert.False(t, f.Connected())
		f.setConnected(true)
		assert.True(t, f.Connected())
	})
}

func TestPriceFeedVolatility(t *testing.T) {
	base := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)

	t.Run("change across the window", func(t *testing.T) {
		f, _ := feedAt(base, "BTC")
		f.record("BTC", 100, base.Add(-5*time.Minute))
		f.record("BTC", 110, base.Add(-time.Minute))

		v := f.Volatility("BTC", 10*time.Minute)
		assert.Equal(t, 2, v.Points)
		assert.InDelta(t, 110, v.Current, 1e-9)
		assert.InDelta(t, 10.0, v.ChangePct, 1e-9)
	})

	t.Run("thin history reads zero", func(t *testing.T) {
		f, _ := feedAt(base, "BTC")
		f.record("BTC", 100, base)
		v := f.Volatility("BTC", 10*time.Minute)
		assert.Equal(t, Volatility{Points: 1}, v)
	})
}

func TestPriceFeedDetectSpike(t *testing.T) {
	base := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)

	t.Run("up move past threshold", func(t *testing.T) {
		f, _ := feedAt(base, "BTC")
		f.record("BTC", 100, base.Add(-50*time.Second))
		f.record("BTC", 110, base.Add(-time.Second))

		spike, ok := f.DetectSpike("BTC", 8.0, time.Minute)
		require.True(t, ok)
		assert.Equal(t, "BTC", spike.Symbol)
		assert.Equal(t, "up", spike.Direction)
		assert.InDelta(t, 10.0, spike.ChangePct, 1e-9)
		assert.InDelta(t, 100, spike.From, 1e-9)
		assert.InDelta(t, 110, spike.To, 1e-9)
	})

	t.Run("down move past threshold", func(t *testing.T) {
		f, _ := feedAt(base, "BTC")
		f.record("BTC", 100, base.Add(-50*time.Second))
		f.record("BTC", 93, base.Add(-time.Second))

		spike, ok := f.DetectSpike("BTC", 5.0, time.Minute)
		require.True(t, ok)
		assert.Equal(t, "down", spike.Direction)
		assert.InDelta(t, -7.0, spike.ChangePct, 1e-9)
	})

	t.Run("small move stays quiet", func(t *testing.T) {
		f, _ := feedAt(base, "BTC")
		f.record("BTC", 100, base.Add(-50*time.Second))
		f.record("BTC", 93, base.Add(-time.Second))

		_, ok := f.DetectSpike("BTC", 8.0, time.Minute)
		assert.False(t, ok)
	})

	t.Run("single point cannot spike", func(t *testing.T) {
		f, _ := feedAt(base, "BTC")
		f.record("BTC", 100, base.Add(-time.Second))
		_, ok := f.DetectSpike("BTC", 1.0, time.Minute)
		assert.False(t, ok)
	})
}
