// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package synth generates synthetic MEA recordings with known spike times.
package synth

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/OpenPSG/measpike/mea"
	"github.com/OpenPSG/measpike/spike"
)

// Config describes a synthetic recording.
type Config struct {
	Rows           int     // Rows of the electrode grid
	Cols           int     // Columns of the electrode grid
	SamplingRate   float64 // Sampling frequency (Hz)
	Duration       float64 // Length of the recording (seconds)
	BitDepth       int     // Bit depth of the samples
	MaxVolt        float64 // Maximum voltage of the amplifier range (uV)
	MinVolt        float64 // Minimum voltage of the amplifier range (uV)
	NoiseRMS       float64 // Standard deviation of the background noise (uV)
	SpikeRate      float64 // Mean firing rate per channel (Hz)
	SpikeAmplitude float64 // Depth of the negative spike peak (uV)
	DeadTime       float64 // Minimum interval between spikes on one channel (seconds)
	Seed           uint64
}

// DefaultConfig returns a small 4x4 recording of five seconds at 10 kHz.
func DefaultConfig() Config {
	return Config{
		Rows:           4,
		Cols:           4,
		SamplingRate:   10000,
		Duration:       5,
		BitDepth:       12,
		MaxVolt:        4125,
		MinVolt:        -4125,
		NoiseRMS:       10,
		SpikeRate:      5,
		SpikeAmplitude: 150,
		DeadTime:       0.01,
		Seed:           1,
	}
}

// Recording is a generated recording held in memory. It can be processed
// directly as a source of frames.
type Recording struct {
	md      mea.Metadata
	samples []uint16  // Interleaved frames
	truth   [][]int64 // Spike peak frames per channel
}

// Generate creates a recording of band limited noise with spikes.
func Generate(cfg Config) (*Recording, error) {
	if cfg.Rows <= 0 || cfg.Cols <= 0 {
		return nil, fmt.Errorf("invalid chip layout %dx%d", cfg.Rows, cfg.Cols)
	}
	if cfg.SamplingRate <= 0 || cfg.Duration <= 0 {
		return nil, fmt.Errorf("sampling rate and duration must be positive")
	}
	if cfg.BitDepth <= 0 || cfg.BitDepth > 16 || cfg.MaxVolt <= cfg.MinVolt {
		return nil, fmt.Errorf("invalid amplifier range")
	}

	md := mea.Metadata{
		BitDepth:        cfg.BitDepth,
		MaxVolt:         cfg.MaxVolt,
		MinVolt:         cfg.MinVolt,
		SignalInversion: 1,
		SamplingRate:    cfg.SamplingRate,
		ExperimentType:  mea.ExperimentStandard,
		Rows:            cfg.Rows,
		Cols:            cfg.Cols,
		RecFrames:       int(cfg.SamplingRate * cfg.Duration),
	}

	cal := spike.Calibration{
		BitDepth:        md.BitDepth,
		MaxVolt:         md.MaxVolt,
		MinVolt:         md.MinVolt,
		SignalInversion: md.SignalInversion,
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	waveform := spikeWaveform(cfg.SamplingRate, cfg.SpikeAmplitude)
	peak := waveformPeak(waveform)

	channels := md.Channels()
	rec := &Recording{
		md:      md,
		samples: make([]uint16, md.RecFrames*channels),
		truth:   make([][]int64, channels),
	}

	signal := make([]float64, md.RecFrames)
	for ch := 0; ch < channels; ch++ {
		for i := range signal {
			signal[i] = cfg.NoiseRMS * rng.NormFloat64()
		}

		rec.truth[ch] = []int64{}
		for _, t := range spikeTimes(rng, cfg, md.RecFrames-len(waveform)) {
			for k, v := range waveform {
				signal[t+k] += v
			}
			rec.truth[ch] = append(rec.truth[ch], int64(t+peak))
		}

		for i, v := range signal {
			rec.samples[i*channels+ch] = digitize(cal, v)
		}
	}

	return rec, nil
}

// spikeTimes draws waveform start frames in [0, limit) from a Poisson process
// with a dead time.
func spikeTimes(rng *rand.Rand, cfg Config, limit int) []int {
	var times []int
	if cfg.SpikeRate <= 0 || limit <= 0 {
		return times
	}

	dead := int(cfg.DeadTime * cfg.SamplingRate)
	t := dead
	for {
		t += dead + int(rng.ExpFloat64()/cfg.SpikeRate*cfg.SamplingRate)
		if t >= limit {
			return times
		}
		times = append(times, t)
	}
}

// spikeWaveform is a biphasic extracellular action potential lasting 2.5 ms:
// a sharp negative peak followed by a slower positive rebound.
func spikeWaveform(sampleRate, amplitude float64) []float64 {
	n := max(int(0.0025*sampleRate), 3)
	w := make([]float64, n)
	for i := range w {
		t := float64(i) / sampleRate * 1000 // ms
		w[i] = -amplitude*math.Exp(-math.Pow((t-0.6)/0.25, 2)) +
			0.3*amplitude*math.Exp(-math.Pow((t-1.3)/0.4, 2))
	}
	return w
}

func waveformPeak(w []float64) int {
	peak := 0
	for i, v := range w {
		if v < w[peak] {
			peak = i
		}
	}
	return peak
}

func digitize(c spike.Calibration, analog float64) uint16 {
	top := math.Ldexp(1, c.BitDepth) - 1
	d := math.Round((analog - c.Offset()) / c.Step())
	return uint16(max(0, min(top, d)))
}

// Metadata returns the recording metadata.
func (r *Recording) Metadata() mea.Metadata {
	return r.md
}

// ReadFrames returns the frames [start, end).
func (r *Recording) ReadFrames(start, end int) (*mea.Frames, error) {
	if start < 0 || end > r.md.RecFrames || start > end {
		return nil, fmt.Errorf("frame range [%d, %d) out of bounds [0, %d)", start, end, r.md.RecFrames)
	}
	channels := r.md.Channels()
	return mea.NewFrames(channels, r.samples[start*channels:end*channels]), nil
}

// Truth returns the frame of every spike peak per channel.
func (r *Recording) Truth() spike.ChannelSpikes {
	cs := spike.NewChannelSpikes(len(r.truth))
	for ch, times := range r.truth {
		cs[ch] = append(cs[ch], times...)
	}
	return cs
}
