// FILE: exchange_gamma_test.go
package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gammaServer(t *testing.T, handler http.HandlerFunc) *GammaClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGammaClient(srv.URL)
}

func TestGammaDefaults(t *testing.T) {
	gc := NewGammaClient("")
	assert.Equal(t, "https://gamma-api.polymarket.com", gc.base)

	_, err := gc.GetBalance(context.Background())
	assert.Error(t, err, "public API has no balance endpoint")
}

func TestGammaListMarkets(t *testing.T) {
	ctx := context.Background()

	var query string
	gc := gammaServer(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Write([]byte(`[
			{"id":"0x01","question":"Will Bitcoin close above $100k?",
			 "outcomes":"[\"Yes\", \"No\"]","outcomePrices":"[\"0.55\", \"0.45\"]",
			 "bestBid":"0.54","bestAsk":0.56,"liquidity":"15000","volume24hr":42000.5,
			 "category":"Crypto","endDate":"2025-06-30T00:00:00Z","active":true,"closed":false},
			{"id":"0x02","question":"already pinned","outcomePrices":"[\"1\", \"0\"]",
			 "active":true,"closed":false},
			{"id":"","question":"no id"},
			{"id":"0x03","question":"no prices","outcomePrices":""}
		]`))
	})

	markets, err := gc.ListMarkets(ctx)
	require.NoError(t, err)
	require.Len(t, markets, 1, "pinned, id-less and price-less rows are dropped")

	mk := markets[0]
	assert.Equal(t, "0x01", mk.ID)
	assert.InDelta(t, 0.55, mk.YesPrice, 1e-9)
	assert.InDelta(t, 0.45, mk.NoPrice, 1e-9)
	assert.InDelta(t, 0.54, mk.YesBid, 1e-9)
	assert.InDelta(t, 0.56, mk.YesAsk, 1e-9)
	assert.InDelta(t, 15000, mk.Liquidity, 1e-9)
	assert.InDelta(t, 42000.5, mk.Volume24h, 1e-9)
	assert.True(t, mk.Active)

	assert.Contains(t, query, "active=true")
	assert.Contains(t, query, "closed=false")
	assert.Contains(t, query, "order=liquidity")
	assert.Contains(t, query, "limit=100")
}

func TestGammaMarketStatus(t *testing.T) {
	ctx := context.Background()

	serve := func(body string) *GammaClient {
		return gammaServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})
	}

	t.Run("open market", func(t *testing.T) {
		gc := serve(`{"id":"0x01","active":true,"closed":false,"outcomePrices":"[\"0.55\",\"0.45\"]"}`)
		st, err := gc.MarketStatus(ctx, "0x01")
		require.NoError(t, err)
		assert.True(t, st.Active)
		assert.False(t, st.Settled)
		assert.Empty(t, st.Winner)
	})

	t.Run("settled YES", func(t *testing.T) {
		gc := serve(`{"id":"0x01","active":false,"closed":true,"outcomePrices":"[\"0.999\",\"0.001\"]"}`)
		st, err := gc.MarketStatus(ctx, "0x01")
		require.NoError(t, err)
		assert.True(t, st.Settled)
		assert.Equal(t, OutcomeYes, st.Winner)
	})

	t.Run("settled NO", func(t *testing.T) {
		gc := serve(`{"id":"0x01","active":false,"closed":true,"outcomePrices":"[\"0.005\",\"0.995\"]"}`)
		st, err := gc.MarketStatus(ctx, "0x01")
		require.NoError(t, err)
		assert.True(t, st.Settled)
		assert.Equal(t, OutcomeNo, st.Winner)
	})

	t.Run("settled without a clear winner", func(t *testing.T) {
		gc := serve(`{"id":"0x01","active":false,"closed":true,"outcomePrices":"[\"0.5\",\"0.5\"]"}`)
		st, err := gc.MarketStatus(ctx, "0x01")
		require.NoError(t, err)
		assert.True(t, st.Settled)
		assert.Empty(t, st.Winner)
	})

	t.Run("http errors surface", func(t *testing.T) {
		gc := gammaServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
		_, err := gc.MarketStatus(ctx, "0x01")
		assert.Error(t, err)
	})
}

func TestParseOutcomePrices(t *testing.T) {
	yes, no, ok := parseOutcomePrices(`["0.55", "0.45"]`)
	require.True(t, ok)
	assert.InDelta(t, 0.55, yes, 1e-9)
	assert.InDelta(t, 0.45, no, 1e-9)

	yes, no, ok = parseOutcomePrices(`[0.3]`)
	require.True(t, ok)
	assert.InDelta(t, 0.3, yes, 1e-9)
	assert.InDelta(t, 0.7, no, 1e-9, "missing NO falls back to the complement")

	yes, no, ok = parseOutcomePrices(`["1", "0"]`)
	require.True(t, ok, "pinned prices still parse")
	assert.InDelta(t, 1.0, yes, 1e-9)
	assert.InDelta(t, 0.0, no, 1e-9)

	for _, bad := range []string{"", "   ", "not json", "[]", `["1.5"]`, `["abc"]`} {
		_, _, ok := parseOutcomePrices(bad)
		assert.False(t, ok, "input %q", bad)
	}
}

func TestAnyPrice(t *testing.T) {
	v, ok := anyPrice(0.5)
	require.True(t, ok)
	assert.InDelta(t, 0.5, v, 1e-9)

	v, ok = anyPrice(" 0.25 ")
	require.True(t, ok)
	assert.InDelta(t, 0.25, v, 1e-9)

	for _, edge := range []any{0.0, 1.0, "0", "1"} {
		_, ok := anyPrice(edge)
		assert.True(t, ok, "bounds are inclusive: %v", edge)
	}

	for _, bad := range []any{1.2, -0.1, "x", nil, 3} {
		_, ok := anyPrice(bad)
		assert.False(t, ok, "input %v", bad)
	}
}
