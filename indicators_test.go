// FILE: indicators_test.go
package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA(t *testing.T) {
	out := SMA([]float64{1, 2, 3, 4, 5}, 3)
	require.Len(t, out, 5)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2, out[2], 1e-9)
	assert.InDelta(t, 3, out[3], 1e-9)
	assert.InDelta(t, 4, out[4], 1e-9)

	for _, v := range SMA([]float64{1, 2}, 0) {
		assert.True(t, math.IsNaN(v))
	}
	assert.Equal(t, []float64{7, 8, 9}, SMA([]float64{7, 8, 9}, 1))
}

func TestEMA(t *testing.T) {
	out := EMA([]float64{1, 2, 3, 4, 5}, 3)
	require.Len(t, out, 5)
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2, out[2], 1e-9) // seeded with the SMA
	assert.InDelta(t, 3, out[3], 1e-9)
	assert.InDelta(t, 4, out[4], 1e-9)

	for _, v := range EMA([]float64{1, 2}, 3) {
		assert.True(t, math.IsNaN(v))
	}
}

func TestRSI(t *testing.T) {
	xs := []float64{10, 11, 10, 12, 13, 12}
	out := RSI(xs, 3)
	require.Len(t, out, 6)
	assert.Zero(t, out[0])
	assert.Zero(t, out[2]) // before the first full window
	assert.InDelta(t, 75.0, out[3], 1e-6)
	assert.InDelta(t, 77.777778, out[4], 1e-6)
	assert.InDelta(t, 66.666667, out[5], 1e-6)

	assert.InDelta(t, 66.666667, LastRSI(xs, 3), 1e-6)
	assert.InDelta(t, 50.0, LastRSI([]float64{1, 2, 3}, 3), 1e-9)
}

func TestZScore(t *testing.T) {
	out := ZScore([]float64{1, 2, 3}, 3)
	require.Len(t, out, 3)
	assert.Zero(t, out[0])
	assert.Zero(t, out[1])
	assert.InDelta(t, 1.2247448714, out[2], 1e-6)

	flat := ZScore([]float64{5, 5, 5}, 3)
	assert.Zero(t, flat[2])
}

func TestReturnsStdDev(t *testing.T) {
	assert.InDelta(t, 0.1414213562, ReturnsStdDev([]float64{100, 110, 99}), 1e-9)
	assert.Zero(t, ReturnsStdDev([]float64{100, 110}))
	assert.Zero(t, ReturnsStdDev([]float64{100, 0, 110}), "zero price breaks the return chain")
}
