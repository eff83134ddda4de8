// FILE: indicators.go
// Package main – Technical indicators for the spot price feed.
//
// This file implements lightweight TA helpers used by the spike-reversion
// strategy and the feed's volatility reporting:
//   • SMA(xs, n)          – Simple Moving Average
//   • EMA(xs, n)          – Exponential Moving Average
//   • RSI(xs, n)          – Relative Strength Index (Wilder’s smoothing)
//   • ZScore(xs, n)       – Rolling Z-Score
//   • ReturnsStdDev(xs)   – Standard deviation of percent returns
//
// Notes
//   - All functions accept a plain price series (most-recent last).
//   - Outputs are aligned to input length; unavailable lookbacks emit NaN/0 as noted.
//   - Keep these fast and allocation-light; they’re called frequently in the live loop.
package main

import (
	"math"
)

// SMA returns the n-period simple moving average, aligned to xs.
// For indices < n-1, the function returns NaN.
func SMA(xs []float64, n int) []float64 {
	out := make([]float64, len(xs))
	if n <= 0 || len(xs) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	var sum float64
	for i := range xs {
		sum += xs[i]
		if i >= n {
			sum -= xs[i-n]
		}
		if i >= n-1 {
			out[i] = sum / float64(n)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// EMA returns the n-period exponential moving average, aligned to xs.
// The first n-1 indices are NaN; index n-1 seeds with the SMA.
func EMA(xs []float64, n int) []float64 {
	out := make([]float64, len(xs))
	if n <= 0 || len(xs) < n {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	var seed float64
	for i := 0; i < n; i++ {
		out[i] = math.NaN()
		seed += xs[i]
	}
	k := 2.0 / float64(n+1)
	prev := seed / float64(n)
	out[n-1] = prev
	for i := n; i < len(xs); i++ {
		prev = xs[i]*k + prev*(1-k)
		out[i] = prev
	}
	return out
}

// RSI returns the n-period Relative Strength Index using Wilder’s smoothing.
// Indices before the first full window are zero (0).
func RSI(xs []float64, n int) []float64 {
	out := make([]float64, len(xs))
	if n <= 0 || len(xs) == 0 {
		return out
	}
	var gain, loss float64
	for i := 1; i < len(xs); i++ {
		d := xs[i] - xs[i-1]
		if i <= n {
			if d > 0 {
				gain += d
			} else {
				loss -= d
			}
			if i == n {
				avgGain := gain / float64(n)
				avgLoss := loss / float64(n)
				rs := 0.0
				if avgLoss != 0 {
					rs = avgGain / avgLoss
				}
				out[i] = 100.0 - (100.0 / (1.0 + rs))
			}
		} else {
			// Wilder smoothing
			if d > 0 {
				gain = (gain*float64(n-1) + d) / float64(n)
				loss = (loss*float64(n-1) + 0) / float64(n)
			} else {
				gain = (gain*float64(n-1) + 0) / float64(n)
				loss = (loss*float64(n-1) - d) / float64(n)
			}
			rs := 0.0
			if loss != 0 {
				rs = gain / loss
			}
			out[i] = 100.0 - (100.0 / (1.0 + rs))
		}
	}
	return out
}

// LastRSI returns the most recent n-period RSI value, or 50 (neutral) when
// the series is too short to produce one.
func LastRSI(xs []float64, n int) float64 {
	if len(xs) <= n {
		return 50.0
	}
	r := RSI(xs, n)
	return r[len(r)-1]
}

// ZScore returns the rolling z-score over window n, aligned to xs.
// For indices < n-1, the function returns 0.
func ZScore(xs []float64, n int) []float64 {
	out := make([]float64, len(xs))
	if n <= 1 || len(xs) == 0 {
		return out
	}
	var sum, sumSq float64
	for i := range xs {
		x := xs[i]
		sum += x
		sumSq += x * x
		if i >= n {
			y := xs[i-n]
			sum -= y
			sumSq -= y * y
		}
		if i >= n-1 {
			mean := sum / float64(n)
			variance := (sumSq / float64(n)) - (mean * mean)
			std := math.Sqrt(math.Max(variance, 1e-12))
			out[i] = (x - mean) / std
		} else {
			out[i] = 0
		}
	}
	return out
}

// ReturnsStdDev returns the standard deviation of simple percent returns
// across xs. Series shorter than three points report 0.
func ReturnsStdDev(xs []float64) float64 {
	if len(xs) < 3 {
		return 0
	}
	rets := make([]float64, 0, len(xs)-1)
	for i := 1; i < len(xs); i++ {
		if xs[i-1] == 0 {
			continue
		}
		rets = append(rets, (xs[i]-xs[i-1])/xs[i-1])
	}
	if len(rets) < 2 {
		return 0
	}
	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	var ss float64
	for _, r := range rets {
		d := r - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(rets)-1))
}
