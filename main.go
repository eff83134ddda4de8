// FILE: main.go
// Package main – Program entrypoint and HTTP/status server.
//
// Boot sequence:
//   1) loadBotEnv()        – read .env (no shell exports required)
//   2) cfg := loadConfig() – defaults, then YAML file, then env overrides
//   3) wire venues, risk gate, order book, ledger, strategies, feed, alerts
//   4) start /metrics /healthz /status server on cfg.Port
//   5) engine.Run until SIGINT/SIGTERM
//
// Flags:
//   -config <path>   YAML config file (default $CONFIG_FILE or config.yaml)
//   -mode <name>     Override run mode: paper | sim | live
//
// Example:
//   go run . -mode sim
//
// Notes:
//   - Live mode needs the REST gateway sidecar running (GATEWAY_URL in .env).
//   - The gateway keeps the wallet keys; the engine never sees them.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// ---- Flags ----
	var configPath string
	var modeFlag string
	flag.StringVar(&configPath, "config", "", "Path to YAML config (env still overrides)")
	flag.StringVar(&modeFlag, "mode", "", "Run mode: paper | sim | live")
	flag.Parse()

	// ---- Environment & Config ----
	loadBotEnv()
	if configPath == "" {
		configPath = getEnv("CONFIG_FILE", "config.yaml")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if modeFlag != "" {
		cfg.Mode = strings.ToLower(strings.TrimSpace(modeFlag))
		if err := cfg.Validate(); err != nil {
			log.Fatalf("config: %v", err)
		}
	}

	// ---- Venue wiring ----
	var md MarketData
	var exec OrderExecution
	switch cfg.Mode {
	case "live":
		bridge := NewBridgeExchange(cfg.GatewayURL)
		md, exec = bridge, bridge
	case "sim":
		// Real market data, simulated fills.
		md = NewGammaClient(cfg.GammaURL)
		exec = NewPaperExchange(cfg.StartingBalance, time.Now().UnixNano())
	default:
		paper := NewPaperExchange(cfg.StartingBalance, time.Now().UnixNano())
		md, exec = paper, paper
	}

	// ---- Engine wiring ----
	gate := NewRiskGate(cfg.Risk, cfg.StartingBalance)
	book := NewOrderManager(exec,
		time.Duration(cfg.OrderTimeoutSec)*time.Second,
		time.Duration(cfg.OrderSyncSec)*time.Second)
	ledger := NewPositionLedger(cfg.HistoryFile)

	var feed *PriceFeed
	if len(cfg.FeedSymbols) > 0 {
		feed = NewPriceFeed(cfg.FeedSymbols, cfg.FeedWSURL, cfg.FeedRESTURL)
	}
	strats := buildStrategies(cfg, feed)
	if len(strats) == 0 {
		log.Fatalf("config: no strategies enabled")
	}
	alerts := NewAlerter(cfg.DiscordWebhook, time.Duration(cfg.AlertMinIntervalSec)*time.Second)
	engine := NewEngine(cfg, gate, book, ledger, md, exec, strats, feed, alerts)

	if st, err := loadEngineState(cfg.StateFile); err == nil {
		log.Printf("[BOOT] previous session: balance=$%.2f pnl=$%+.2f trades=%d (saved %s)",
			st.Balance, st.TotalPnL, st.Trades, st.SavedAt.Format(time.RFC3339))
	}

	// ---- HTTP status/metrics ----
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(engine.Status())
	})
	mux.HandleFunc("/pause", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		engine.Pause()
		_, _ = w.Write([]byte("paused\n"))
	})
	mux.HandleFunc("/resume", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		engine.Resume()
		_, _ = w.Write([]byte("resumed\n"))
	})
	mux.HandleFunc("/risk/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		gate.ResetStop()
		_, _ = w.Write([]byte("stop cleared\n"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}
	go func() {
		log.Printf("serving status on :%d/status, metrics on :%d/metrics", cfg.Port, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	// ---- Run ----
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if feed != nil {
		feed.Start(ctx)
	}

	engine.Run(ctx)

	if feed != nil {
		feed.WaitStopped()
	}

	// ---- Graceful shutdown for HTTP server ----
	shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
}
