// FILE: env.go
// Package main – Environment helpers for the trading engine.
//
// This file provides:
//   1) Small helpers to read environment variables with sane defaults
//      (strings, ints, floats, bools).
//   2) A safe loader (loadBotEnv) that reads the engine's .env file only,
//      ignoring secrets meant for the gateway sidecar.
//
// Notes:
//   • The engine never requires `export $(cat .env ...)`.
//   • The gateway sidecar keeps its own env file with the venue credentials;
//     the engine never sees private keys.

package main

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"strings"
)

// --------- Env helpers (used across files) ---------

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
func getEnvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
func getEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "y", "yes":
		return true
	case "0", "false", "n", "no":
		return false
	case "":
		return def
	default:
		return def
	}
}
func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// --------- .env loader (engine-only) ---------

// loadBotEnv reads ENV_FILE (default ./.env) and sets ONLY the keys the engine
// needs. It won't override variables already in the environment and ignores
// secrets not required.
func loadBotEnv() {
	path := getEnv("ENV_FILE", ".env")
	f, err := os.Open(path)
	if err != nil {
		log.Printf("env: %s not found, relying on process env", path)
		return
	}
	defer f.Close()

	needed := map[string]struct{}{
		"MODE": {}, "CONFIG_FILE": {}, "PORT": {}, "GATEWAY_URL": {}, "GAMMA_URL": {},
		"STARTING_BALANCE": {}, "POLL_INTERVAL_SEC": {}, "MIN_EV": {}, "MAX_TRADES_PER_CYCLE": {},
		"MAX_POSITION_PCT": {}, "MAX_EXPOSURE_PCT": {}, "MAX_OPEN_POSITIONS": {},
		"MAX_SINGLE_LOSS": {}, "MIN_BALANCE": {}, "DAILY_DRAWDOWN_LIMIT": {},
		"WEEKLY_DRAWDOWN_LIMIT": {}, "MAX_VOLATILITY": {},
		"ORDER_TIMEOUT_SEC": {}, "ORDER_SYNC_SEC": {},
		"DATA_DIR": {}, "STATE_FILE": {}, "HISTORY_FILE": {},
		"FOCUS_CATEGORY": {}, "MIN_LIQUIDITY": {},
		"STRAT_ARBITRAGE": {}, "STRAT_MARKET_MAKER": {}, "STRAT_SPIKE_REVERSION": {},
		"FEED_SYMBOLS": {}, "FEED_WS_URL": {}, "FEED_REST_URL": {},
		"DISCORD_WEBHOOK": {}, "ALERT_MIN_INTERVAL_SEC": {},
	}

	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(line[len("export "):])
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		if _, ok := needed[key]; !ok {
			continue
		}
		val := strings.TrimSpace(line[eq+1:])
		if len(val) >= 2 && ((val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'')) {
			val = val[1 : len(val)-1]
		}
		if idx := strings.Index(val, "#"); idx >= 0 {
			val = strings.TrimSpace(val[:idx])
		}
		if os.Getenv(key) == "" {
			_ = os.Setenv(key, val)
		}
	}
	log.Printf("env: loaded %s", path)
}
