// FILE: strategy_arbitrage_test.go
package main

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func arbConfig() ArbitrageConfig {
	return ArbitrageConfig{
		Enabled:   true,
		MinSpread: 0.01,
		MaxSize:   10.0,
		MakerBuf:  0.005,
	}
}

func arbMarket(yes, no, liquidity float64) Market {
	return Market{
		ID:        "m1",
		Question:  "Will Bitcoin close above $100k this week?",
		YesPrice:  yes,
		NoPrice:   no,
		Liquidity: liquidity,
		Active:    true,
	}
}

func TestArbitrageStrategy(t *testing.T) {
	ctx := context.Background()

	t.Run("pairs both legs when the books sum under par", func(t *testing.T) {
		s := newArbitrageStrategy(arbConfig())
		// 0.48 + 0.50 = 0.98: net = 0.02 + two rebates = 0.04
		intents, err := s.Evaluate(ctx, []Market{arbMarket(0.48, 0.50, 500)}, nil, 50)
		require.NoError(t, err)
		require.Len(t, intents, 2)

		yes, no := intents[0], intents[1]
		assert.Equal(t, OutcomeYes, yes.Outcome)
		assert.Equal(t, OutcomeNo, no.Outcome)
		assert.InDelta(t, 0.475, yes.Price, 1e-9) // shaded below the quote
		assert.InDelta(t, 0.495, no.Price, 1e-9)
		// budget allows the full 10-pair cap: 10 shares of each leg
		assert.InDelta(t, 4.75, yes.Size, 1e-9)
		assert.InDelta(t, 4.95, no.Size, 1e-9)
		for _, in := range intents {
			assert.InDelta(t, 0.02, in.Edge, 1e-9) // net/2 per side
			assert.InDelta(t, 1.0, in.Confidence, 1e-9)
			assert.Equal(t, "arbitrage", in.Strategy)
			assert.Equal(t, "high", in.Urgency)
		}
	})

	t.Run("no pairing when the books sum above par", func(t *testing.T) {
		s := newArbitrageStrategy(arbConfig())
		intents, err := s.Evaluate(ctx, []Market{arbMarket(0.52, 0.50, 500)}, nil, 50)
		require.NoError(t, err)
		assert.Empty(t, intents)
	})

	t.Run("skips thin and inactive books", func(t *testing.T) {
		s := newArbitrageStrategy(arbConfig())
		thin := arbMarket(0.48, 0.50, 50)
		dead := arbMarket(0.48, 0.50, 500)
		dead.Active = false
		intents, err := s.Evaluate(ctx, []Market{thin, dead}, nil, 50)
		require.NoError(t, err)
		assert.Empty(t, intents)
	})

	t.Run("skips markets already held", func(t *testing.T) {
		s := newArbitrageStrategy(arbConfig())
		held := []Position{{MarketID: "m1", Outcome: OutcomeYes}}
		intents, err := s.Evaluate(ctx, []Market{arbMarket(0.48, 0.50, 500)}, held, 50)
		require.NoError(t, err)
		assert.Empty(t, intents)
	})

	t.Run("small balances cap the pair count", func(t *testing.T) {
		s := newArbitrageStrategy(arbConfig())
		intents, err := s.Evaluate(ctx, []Market{arbMarket(0.48, 0.50, 500)}, nil, 4)
		require.NoError(t, err)
		require.Len(t, intents, 2)
		pairs := 4 * arbBalanceFrac / (0.48 + 0.50)
		assert.InDelta(t, pairs*0.475, intents[0].Size, 1e-9)
		assert.InDelta(t, pairs*0.495, intents[1].Size, 1e-9)
	})

	t.Run("never sizes below one pair", func(t *testing.T) {
		s := newArbitrageStrategy(arbConfig())
		intents, err := s.Evaluate(ctx, []Market{arbMarket(0.48, 0.50, 500)}, nil, 0.50)
		require.NoError(t, err)
		require.Len(t, intents, 2)
		assert.InDelta(t, 0.475, intents[0].Size, 1e-9) // one pair of shares
	})
}

func TestTrimQuestion(t *testing.T) {
	long := strings.Repeat("x", 60)
	assert.Equal(t, strings.Repeat("x", 50)+"...", trimQuestion(long))
	assert.Equal(t, "short question", trimQuestion("short question"))
}
