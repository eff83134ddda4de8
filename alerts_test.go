// FILE: alerts_test.go
package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type webhookEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
	Fields      []struct {
		Name   string `json:"name"`
		Value  string `json:"value"`
		Inline bool   `json:"inline"`
	} `json:"fields"`
}

type webhookCapture struct {
	srv    *httptest.Server
	bodies []webhookEmbed
}

// newWebhookCapture records every embed posted to it. Sends are
// synchronous, so no locking is needed.
func newWebhookCapture(t *testing.T) *webhookCapture {
	t.Helper()
	wc := &webhookCapture{}
	wc.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Embeds []webhookEmbed `json:"embeds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Embeds) != 1 {
			t.Errorf("bad webhook payload: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		wc.bodies = append(wc.bodies, body.Embeds[0])
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(wc.srv.Close)
	return wc
}

func alerterAt(wc *webhookCapture, interval time.Duration) (*Alerter, *time.Time) {
	a := NewAlerter(wc.srv.URL, interval)
	clock := new(time.Time)
	*clock = time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return *clock }
	return a, clock
}

func TestAlerterDisabled(t *testing.T) {
	a := NewAlerter("", time.Minute)
	assert.False(t, a.Enabled())
	a.TradeExecuted("arbitrage", "q", OutcomeYes, KindMaker, 0.5, 1, 0.02) // no-op

	var nilA *Alerter
	assert.False(t, nilA.Enabled())
}

func TestAlerterEmbeds(t *testing.T) {
	t.Run("trade executed", func(t *testing.T) {
		wc := newWebhookCapture(t)
		a, _ := alerterAt(wc, time.Minute)
		a.TradeExecuted("arbitrage", "Will Bitcoin close above $100k?", OutcomeYes, KindMaker, 0.48, 2.5, 0.04)

		require.Len(t, wc.bodies, 1)
		e := wc.bodies[0]
		assert.Equal(t, "Trade Executed: YES", e.Title)
		assert.Contains(t, e.Description, "maker order on Will Bitcoin")
		assert.Equal(t, 0x00FF00, e.Color)
		require.Len(t, e.Fields, 5)
		assert.Equal(t, "Strategy", e.Fields[0].Name)
		assert.Equal(t, "arbitrage", e.Fields[0].Value)
		assert.True(t, e.Fields[0].Inline)
		assert.Equal(t, "$2.50", e.Fields[3].Value)
		assert.Equal(t, "4.0%", e.Fields[4].Value)
		_, err := time.Parse(time.RFC3339, e.Timestamp)
		assert.NoError(t, err)
	})

	t.Run("daily summary", func(t *testing.T) {
		wc := newWebhookCapture(t)
		a, _ := alerterAt(wc, time.Minute)
		a.DailySummary(55.5, 1.25, 2.3, 7, 60.0, 2)

		require.Len(t, wc.bodies, 1)
		e := wc.bodies[0]
		assert.Equal(t, "Daily Summary", e.Title)
		assert.Equal(t, "Today's P&L: $1.25 (2.3%)", e.Description)
		assert.Equal(t, 0x0099FF, e.Color)
		require.Len(t, e.Fields, 4)
		assert.Equal(t, "$55.50", e.Fields[0].Value)
		assert.Equal(t, "7", e.Fields[1].Value)
		assert.Equal(t, "60.0%", e.Fields[2].Value)
		assert.Equal(t, "2", e.Fields[3].Value)
	})

	t.Run("big win and drawdown", func(t *testing.T) {
		wc := newWebhookCapture(t)
		a, _ := alerterAt(wc, time.Minute)
		a.BigWin(3.75, "Will Ethereum close above $5k?")
		a.DrawdownWarning(0.042, 0.05)

		require.Len(t, wc.bodies, 2)
		assert.Equal(t, "Big Win! +$3.75", wc.bodies[0].Title)
		assert.Equal(t, 0xFFAA00, wc.bodies[1].Color)
		assert.Contains(t, wc.bodies[1].Description, "Daily loss at 4.2%")
	})

	t.Run("error burst", func(t *testing.T) {
		wc := newWebhookCapture(t)
		a, _ := alerterAt(wc, time.Minute)
		a.ErrorBurst(5, errors.New("gateway down"))

		require.Len(t, wc.bodies, 1)
		assert.Equal(t, "Loop Error Burst", wc.bodies[0].Title)
		assert.Contains(t, wc.bodies[0].Description, "5 consecutive loop errors")
		assert.Contains(t, wc.bodies[0].Description, "gateway down")
	})
}

func TestAlerterThrottle(t *testing.T) {
	t.Run("per-kind throttle", func(t *testing.T) {
		wc := newWebhookCapture(t)
		a, clock := alerterAt(wc, time.Minute)

		a.DrawdownWarning(0.04, 0.05)
		a.DrawdownWarning(0.045, 0.05) // inside the window
		require.Len(t, wc.bodies, 1)

		a.ErrorBurst(3, nil) // different kind, own window
		require.Len(t, wc.bodies, 2)

		*clock = clock.Add(61 * time.Second)
		a.DrawdownWarning(0.046, 0.05)
		assert.Len(t, wc.bodies, 3)
	})

	t.Run("critical kinds bypass the throttle", func(t *testing.T) {
		wc := newWebhookCapture(t)
		a, _ := alerterAt(wc, time.Minute)

		a.EmergencyStop("daily drawdown")
		a.EmergencyStop("balance floor")
		a.Started("paper", "paper", "paper", 50)
		a.Stopped("shutdown")
		assert.Len(t, wc.bodies, 4)

		assert.Equal(t, "EMERGENCY STOP", wc.bodies[0].Title)
		assert.Equal(t, 0xFF0000, wc.bodies[0].Color)
		assert.Contains(t, wc.bodies[3].Description, "Trading engine has stopped: shutdown")
	})
}
