// FILE: strategy_spike_test.go
package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spikeConfig() SpikeConfig {
	return SpikeConfig{
		Enabled:       true,
		ThresholdPct:  3.0,
		WindowSec:     60,
		CooldownSec:   300,
		SizePct:       1.0,
		MaxSize:       2.0,
		MinConfidence: 0.6,
	}
}

// spikeHarness wires a feed and strategy to independent fake clocks so
// cooldown and window behavior can be driven separately.
func spikeHarness(symbols ...string) (*spikeStrategy, *PriceFeed, *time.Time, *time.Time) {
	feed := NewPriceFeed(symbols, "", "")
	fClk := new(time.Time)
	*fClk = time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	feed.now = func() time.Time { return *fClk }

	s := newSpikeStrategy(spikeConfig(), feed)
	sClk := new(time.Time)
	*sClk = *fClk
	s.now = func() time.Time { return *sClk }
	return s, feed, fClk, sClk
}

func btcMarket(yes, no float64) Market {
	return Market{
		ID:       "btc1",
		Question: "Will Bitcoin hit $100k by June?",
		YesPrice: yes,
		NoPrice:  no,
		Active:   true,
	}
}

func TestSpikeStrategy(t *testing.T) {
	ctx := context.Background()

	t.Run("down spike buys YES on reversion", func(t *testing.T) {
		s, feed, fClk, _ := spikeHarness("BTC", "ETH")
		feed.record("BTC", 100000, fClk.Add(-50*time.Second))
		feed.record("BTC", 96500, fClk.Add(-time.Second)) // -3.5%

		intents, err := s.Evaluate(ctx, []Market{btcMarket(0.40, 0.60)}, nil, 50)
		require.NoError(t, err)
		require.Len(t, intents, 1)

		in := intents[0]
		assert.Equal(t, "btc1", in.MarketID)
		assert.Equal(t, OutcomeYes, in.Outcome)
		assert.InDelta(t, 0.40, in.Price, 1e-9)
		assert.InDelta(t, 0.625, in.Confidence, 1e-9) // 0.6 + 0.5% over threshold
		assert.InDelta(t, 0.3125, in.Size, 1e-9)
		assert.Equal(t, "spike-reversion", in.Strategy)
		assert.Equal(t, "high", in.Urgency)
		assert.Equal(t, 1, s.detected)
		assert.Equal(t, 1, s.triggered)
	})

	t.Run("up spike buys NO", func(t *testing.T) {
		s, feed, fClk, _ := spikeHarness("ETH")
		feed.record("ETH", 4000, fClk.Add(-50*time.Second))
		feed.record("ETH", 4140, fClk.Add(-time.Second)) // +3.5%

		mk := Market{ID: "eth1", Question: "Will Ethereum close above $5k?", YesPrice: 0.60, NoPrice: 0.40, Active: true}
		intents, err := s.Evaluate(ctx, []Market{mk}, nil, 50)
		require.NoError(t, err)
		require.Len(t, intents, 1)
		assert.Equal(t, OutcomeNo, intents[0].Outcome)
		assert.InDelta(t, 0.40, intents[0].Price, 1e-9)
		assert.InDelta(t, 0.3125, intents[0].Size, 1e-9)
	})

	t.Run("cooldown suppresses repeat signals until it lapses", func(t *testing.T) {
		s, feed, fClk, sClk := spikeHarness("BTC")
		feed.record("BTC", 100000, fClk.Add(-50*time.Second))
		feed.record("BTC", 96500, fClk.Add(-time.Second))
		markets := []Market{btcMarket(0.40, 0.60)}

		first, err := s.Evaluate(ctx, markets, nil, 50)
		require.NoError(t, err)
		require.Len(t, first, 1)

		second, err := s.Evaluate(ctx, markets, nil, 50)
		require.NoError(t, err)
		assert.Empty(t, second, "inside cooldown")
		assert.Equal(t, 2, s.detected)

		*sClk = sClk.Add(301 * time.Second)
		third, err := s.Evaluate(ctx, markets, nil, 50)
		require.NoError(t, err)
		assert.Len(t, third, 1, "cooldown lapsed")
	})

	t.Run("up spike inside an uptrend is rejected", func(t *testing.T) {
		s, feed, fClk, _ := spikeHarness("BTC")
		// 30-point grind higher, 20s apart, ending in a +3.2% pop
		for i := 0; i < 29; i++ {
			at := fClk.Add(time.Duration(-580+20*i) * time.Second)
			feed.record("BTC", 100000+float64(i)*100, at)
		}
		feed.record("BTC", 106000, *fClk)

		intents, err := s.Evaluate(ctx, []Market{btcMarket(0.60, 0.40)}, nil, 50)
		require.NoError(t, err)
		assert.Empty(t, intents)
		assert.Equal(t, 1, s.detected)
		assert.Equal(t, 1, s.rejections)
		assert.Equal(t, 0, s.triggered)
	})

	t.Run("held market is skipped", func(t *testing.T) {
		s, feed, fClk, _ := spikeHarness("BTC")
		feed.record("BTC", 100000, fClk.Add(-50*time.Second))
		feed.record("BTC", 96500, fClk.Add(-time.Second))

		held := []Position{{MarketID: "btc1", Outcome: OutcomeYes}}
		intents, err := s.Evaluate(ctx, []Market{btcMarket(0.40, 0.60)}, held, 50)
		require.NoError(t, err)
		assert.Empty(t, intents)
	})

	t.Run("unpriceable market yields nothing", func(t *testing.T) {
		s, feed, fClk, _ := spikeHarness("BTC")
		feed.record("BTC", 100000, fClk.Add(-50*time.Second))
		feed.record("BTC", 96500, fClk.Add(-time.Second))

		intents, err := s.Evaluate(ctx, []Market{btcMarket(0, 1)}, nil, 50)
		require.NoError(t, err)
		assert.Empty(t, intents)
		assert.Equal(t, 0, s.triggered)
	})
}

func TestAssetMarketMatching(t *testing.T) {
	assert.True(t, assetMentioned("Will Bitcoin close above $100k?", "BTC"))
	assert.True(t, assetMentioned("Will BTC dominance rise?", "BTC"))
	assert.True(t, assetMentioned("Will Ethereum flip Bitcoin?", "ETH"))
	assert.False(t, assetMentioned("Will it rain in London?", "BTC"))

	dead := Market{ID: "old", Question: "Bitcoin above 90k?", Active: false}
	live := Market{ID: "new", Question: "Bitcoin above 90k?", Active: true}
	mk, ok := findAssetMarket([]Market{dead, live}, "BTC")
	require.True(t, ok)
	assert.Equal(t, "new", mk.ID)

	_, ok = findAssetMarket([]Market{live}, "SOL")
	assert.False(t, ok)
}
