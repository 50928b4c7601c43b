// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package spike_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/OpenPSG/measpike/spike"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func factor(v float64) *float64 {
	return &v
}

func noise(seed uint64, n int) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	x := make([]float64, n)
	for i := range x {
		x[i] = rng.NormFloat64() * 10
	}
	return x
}

func TestSigma(t *testing.T) {
	sigma := spike.Sigma([]float64{1, 2, 3, 4, 5, -1, -2, -3, -4, -5})
	assert.InDelta(t, 4.44773906, sigma, 1e-7)

	// Odd length takes the middle element.
	assert.InDelta(t, 6/0.6745, spike.Sigma([]float64{1, 3, 7, 10, -2, -6, -9}), 1e-12)

	assert.Zero(t, spike.Sigma(nil))
}

func TestSigmaScaleEquivariant(t *testing.T) {
	x := noise(7, 501)
	base := spike.Sigma(x)
	require.Greater(t, base, 0.0)

	for _, k := range []float64{-3, -0.5, 0.25, 2, 10} {
		scaled := make([]float64, len(x))
		for i, v := range x {
			scaled[i] = k * v
		}
		assert.InEpsilon(t, math.Abs(k)*base, spike.Sigma(scaled), 1e-12, "k=%g", k)
	}
}

func TestCrossings(t *testing.T) {
	data := []float64{1, 3, 7, 10, -2, -6, -9}

	assert.Equal(t, []int{5, 6}, spike.Crossings(data, 5, false))
	assert.Equal(t, []int{2, 3}, spike.Crossings(data, 5, true))

	// Strict inequality at the threshold.
	assert.Equal(t, []int{3}, spike.Crossings(data, 7, true))
	assert.Equal(t, []int{6}, spike.Crossings(data, 6, false))
}

func TestDetect(t *testing.T) {
	data := []float64{1, 3, 7, 10, -2, -6, -9}
	sigma := spike.Sigma(data)

	spikes, err := spike.Detect(data, sigma, spike.Thresholds{FactorPos: factor(0.75), FactorNeg: factor(0.5)})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 5, 6}, spikes)

	spikes, err = spike.Detect(data, sigma, spike.Thresholds{FactorPos: factor(0.75)})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, spikes)

	spikes, err = spike.Detect(data, sigma, spike.Thresholds{FactorNeg: factor(0.5)})
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6}, spikes)

	_, err = spike.Detect(data, sigma, spike.Thresholds{})
	require.ErrorIs(t, err, spike.ErrMissingThresholdConfiguration)
}

func TestDetectZeroSigmaDoesNotDuplicate(t *testing.T) {
	spikes, err := spike.Detect([]float64{0, 1, -1, 0, 2}, 0, spike.Thresholds{FactorPos: factor(1), FactorNeg: factor(1)})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 4}, spikes)
}

func TestDetectMonotonicInFactors(t *testing.T) {
	x := noise(11, 2000)
	sigma := spike.Sigma(x)

	prev := math.MaxInt
	for _, f := range []float64{0.5, 1, 2, 3, 4, 5} {
		spikes, err := spike.Detect(x, sigma, spike.Thresholds{FactorPos: factor(f), FactorNeg: factor(f)})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(spikes), prev, "factor %g", f)
		prev = len(spikes)
	}
}

func TestClean(t *testing.T) {
	spikes := []int{15, 20, 37, 40, 56, 57, 72, 81}

	require.Equal(t, 20, spike.RefractorySamples(0.2, 100))
	assert.Equal(t, []int{15, 37, 57, 81}, spike.CleanPeriod(spikes, 0.2, 100))

	assert.Empty(t, spike.Clean(nil, 10))
	assert.Equal(t, []int{0, 10}, spike.Clean([]int{0, 9, 10}, 10))
}

func TestRefractorySamplesTruncates(t *testing.T) {
	assert.Equal(t, 10, spike.RefractorySamples(0.001, 10000))
	assert.Equal(t, 17, spike.RefractorySamples(0.001, 17855.5))
	assert.Equal(t, 0, spike.RefractorySamples(0.0009, 1000))
}

func TestCleanInvariants(t *testing.T) {
	x := noise(3, 5000)
	candidates, err := spike.Detect(x, spike.Sigma(x), spike.Thresholds{FactorPos: factor(1.5), FactorNeg: factor(1.5)})
	require.NoError(t, err)
	require.NotEmpty(t, candidates)

	for _, r := range []int{0, 1, 5, 40} {
		cleaned := spike.Clean(candidates, r)
		for i := 1; i < len(cleaned); i++ {
			require.Greater(t, cleaned[i], cleaned[i-1])
			require.GreaterOrEqual(t, cleaned[i]-cleaned[i-1], r)
		}
		assert.Equal(t, cleaned, spike.Clean(cleaned, r), "refractory %d", r)
	}
}

func TestToAnalog(t *testing.T) {
	c := spike.Calibration{BitDepth: 12, MaxVolt: 4125, MinVolt: -4125, SignalInversion: 1}

	analog := spike.ToAnalog(c, []uint16{0, 2048, 4095})
	require.Len(t, analog, 3)
	assert.InDelta(t, -4125, analog[0], 1e-9)
	assert.InDelta(t, 0, analog[1], 1e-9)
	assert.InDelta(t, 4125-8250.0/4096, analog[2], 1e-9)

	inverted := spike.Calibration{BitDepth: 12, MaxVolt: 4125, MinVolt: -4125, SignalInversion: -1}
	assert.InDelta(t, 4125, inverted.Analog(0), 1e-9)
	assert.InDelta(t, 0, inverted.Analog(2048), 1e-9)

	assert.Equal(t, []float64{}, spike.ToAnalog(c, []int32{}))
}

func TestDetectorValidation(t *testing.T) {
	opts := spike.DefaultOptions()
	_, err := spike.NewDetector(opts)
	require.ErrorIs(t, err, spike.ErrMissingThresholdConfiguration)

	opts.Thresholds.FactorNeg = factor(5)
	opts.Method = "wavelet"
	_, err = spike.NewDetector(opts)
	require.ErrorIs(t, err, spike.ErrNotImplementedMethod)

	opts.Method = spike.MethodThreshold
	opts.FilterType = spike.FilterBandpass
	opts.LowCut, opts.HighCut = 3000, 200
	_, err = spike.NewDetector(opts)
	require.ErrorIs(t, err, spike.ErrInvalidFilterParameters)

	opts.LowCut, opts.HighCut = 200, 3000
	opts.Thresholds.FactorPos = factor(-1)
	_, err = spike.NewDetector(opts)
	require.ErrorIs(t, err, spike.ErrInvalidThresholdFactor)

	// An explicit zero is rejected rather than treated as absent.
	opts.Thresholds.FactorPos = factor(0)
	_, err = spike.NewDetector(opts)
	require.ErrorIs(t, err, spike.ErrInvalidThresholdFactor)
}

func TestDetectorBandpassAboveNyquist(t *testing.T) {
	opts := spike.DefaultOptions()
	opts.FilterType = spike.FilterBandpass
	opts.Thresholds.FactorNeg = factor(5)

	d, err := spike.NewDetector(opts)
	require.NoError(t, err)

	// 3000 Hz is above the Nyquist frequency of a 5 kHz recording.
	_, err = d.Run(noise(1, 1000), 5000)
	require.ErrorIs(t, err, spike.ErrInvalidFilterParameters)
}

func TestDetectorPipeline(t *testing.T) {
	data := []float64{
		-34, -66, 49, -43, -61, -23, -6, 25, -12, 51, 39, -55, -44,
		63, 29, 31, -15, 59, 82, 61, -68, -70, -41, -9, -41, 63,
		5, 58, -42, -12, 41, 75, 25, -36, 41, -68, 23, -11, 35,
		14,
	}

	opts := spike.DefaultOptions()
	opts.FilterType = spike.FilterBandpass
	opts.LowCut, opts.HighCut = 3, 30
	opts.Thresholds = spike.Thresholds{FactorPos: factor(0.75), FactorNeg: factor(0.5)}
	opts.RefractoryPeriod = 0.02

	d, err := spike.NewDetector(opts)
	require.NoError(t, err)

	spikes, err := d.Run(data, 100)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 9, 11, 13, 16, 18, 20, 22, 24, 26, 28, 30, 35}, spikes)
}

func TestDetectorUnfiltered(t *testing.T) {
	opts := spike.DefaultOptions()
	opts.Thresholds = spike.Thresholds{FactorPos: factor(0.75), FactorNeg: factor(0.5)}
	opts.RefractoryPeriod = 0.02

	d, err := spike.NewDetector(opts)
	require.NoError(t, err)

	// 2 sample refractory window at 100 Hz: 3 follows 2 too closely, 6 follows 5.
	spikes, err := d.Run([]float64{1, 3, 7, 10, -2, -6, -9}, 100)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5}, spikes)

	spikes, err = d.Run(make([]float64, 50), 100)
	require.NoError(t, err)
	assert.Empty(t, spikes)
}

func TestAggregate(t *testing.T) {
	empty := spike.Aggregate(spike.NewChannelSpikes(0))
	assert.Empty(t, empty.Times)
	assert.Empty(t, empty.Channels)

	cs := spike.NewChannelSpikes(4)
	cs.Add(0, 0, []int{0, 17, 43})
	cs.Add(2, 0, []int{38, 42})
	cs.Add(3, 100, []int{1})
	cs.Add(1, 0, []int{17})

	events := spike.Aggregate(cs)
	require.Equal(t, cs.Total(), events.Len())
	assert.Equal(t, []int64{0, 17, 17, 38, 42, 43, 101}, events.Times)
	assert.Equal(t, []int32{0, 0, 1, 2, 2, 0, 3}, events.Channels)
}
