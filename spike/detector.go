// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package spike

import (
	"fmt"
	"sync"

	"github.com/OpenPSG/measpike/filter"
)

const (
	// FilterBandpass is the only supported filter type. Any other value leaves the signal unfiltered.
	FilterBandpass = "bandpass"
	// MethodThreshold is the only supported detection method.
	MethodThreshold = "threshold"
)

// Options configures the detection pipeline.
type Options struct {
	FilterType       string     // "bandpass" or anything else for no filtering
	LowCut           float64    // Band-pass low cutoff (Hz)
	HighCut          float64    // Band-pass high cutoff (Hz)
	FilterOrder      int        // Butterworth order
	Method           string     // Detection method, only "threshold"
	Thresholds       Thresholds // Positive and negative factors
	RefractoryPeriod float64    // Refractory period (seconds)
}

// DefaultOptions returns the pipeline defaults. No threshold factor is set.
func DefaultOptions() Options {
	return Options{
		LowCut:           200,
		HighCut:          3000,
		FilterOrder:      5,
		Method:           MethodThreshold,
		RefractoryPeriod: 0.001,
	}
}

// Validate checks the options without knowing the sampling rate.
func (o Options) Validate() error {
	if o.Method != MethodThreshold {
		return fmt.Errorf("%w: %q", ErrNotImplementedMethod, o.Method)
	}
	if o.Thresholds.FactorPos == nil && o.Thresholds.FactorNeg == nil {
		return ErrMissingThresholdConfiguration
	}
	for name, f := range map[string]*float64{"FactorPos": o.Thresholds.FactorPos, "FactorNeg": o.Thresholds.FactorNeg} {
		if f != nil && *f <= 0 {
			return fmt.Errorf("%w: %s is %g", ErrInvalidThresholdFactor, name, *f)
		}
	}
	if o.FilterType == FilterBandpass {
		if o.FilterOrder < 1 {
			return fmt.Errorf("%w: order must be positive, got %d", ErrInvalidFilterParameters, o.FilterOrder)
		}
		if o.LowCut <= 0 || o.HighCut <= 0 || o.LowCut >= o.HighCut {
			return fmt.Errorf("%w: cutoffs must satisfy 0 < low < high, got %g and %g", ErrInvalidFilterParameters, o.LowCut, o.HighCut)
		}
	}
	if o.RefractoryPeriod < 0 {
		return fmt.Errorf("refractory period must not be negative, got %g", o.RefractoryPeriod)
	}
	return nil
}

// Detector runs band-pass filtering, adaptive thresholding and refractory
// cleaning over one channel at a time. It is safe for concurrent use.
type Detector struct {
	opts Options

	mu      sync.Mutex
	designs map[float64]filter.Coefficients // Band-pass designs by sampling rate
}

// NewDetector creates a detector after validating its options.
func NewDetector(opts Options) (*Detector, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return &Detector{
		opts:    opts,
		designs: make(map[float64]filter.Coefficients),
	}, nil
}

// Options returns the detector configuration.
func (d *Detector) Options() Options {
	return d.opts
}

// Run detects spikes in one analog signal and returns their sample indices
// relative to the start of the signal. An empty result means no spikes.
//
// See H. Gonzalo Rey, C. Pedreira, R. Quian Quiroga, "Past, present and future of
// spike sorting techniques", Brain Research Bulletin 119 (2015).
func (d *Detector) Run(signal []float64, sampleRate float64) ([]int, error) {
	filtered := signal
	if d.opts.FilterType == FilterBandpass {
		c, err := d.design(sampleRate)
		if err != nil {
			return nil, err
		}

		filtered, err = filter.FiltFilt(c, signal)
		if err != nil {
			return nil, err
		}
	}

	spikes, err := Detect(filtered, Sigma(filtered), d.opts.Thresholds)
	if err != nil {
		return nil, err
	}

	return CleanPeriod(spikes, d.opts.RefractoryPeriod, sampleRate), nil
}

func (d *Detector) design(sampleRate float64) (filter.Coefficients, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.designs[sampleRate]; ok {
		return c, nil
	}

	c, err := filter.Butter(d.opts.FilterOrder, d.opts.LowCut, d.opts.HighCut, sampleRate)
	if err != nil {
		return filter.Coefficients{}, err
	}
	d.designs[sampleRate] = c

	return c, nil
}
