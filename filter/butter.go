// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package filter implements digital IIR filter design and zero-phase filtering.
package filter

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

var (
	// ErrInvalidParameters is returned when a band-pass filter cannot be designed from the given cutoffs.
	ErrInvalidParameters = errors.New("invalid filter parameters")
	// ErrSignalTooShort is returned when a signal is too short to be padded for zero-phase filtering.
	ErrSignalTooShort = errors.New("signal too short for zero-phase filtering")
)

// Coefficients is a rational transfer function in direct form.
type Coefficients struct {
	B []float64 // Numerator, highest power first
	A []float64 // Denominator, highest power first, A[0] == 1 once normalized
}

// Taps returns the number of coefficients of the longer polynomial.
func (c Coefficients) Taps() int {
	return max(len(c.A), len(c.B))
}

// normalized returns a copy with A[0] == 1 and both polynomials padded to the same length.
func (c Coefficients) normalized() (Coefficients, error) {
	if len(c.A) == 0 || c.A[0] == 0 {
		return Coefficients{}, fmt.Errorf("%w: leading denominator coefficient is zero", ErrInvalidParameters)
	}

	n := c.Taps()
	b := make([]float64, n)
	a := make([]float64, n)
	for i, v := range c.B {
		b[i] = v / c.A[0]
	}
	for i, v := range c.A {
		a[i] = v / c.A[0]
	}

	return Coefficients{B: b, A: a}, nil
}

// Butter designs a digital Butterworth band-pass filter of the given order.
// The cutoffs are in Hz; the resulting polynomials have 2*order+1 coefficients.
func Butter(order int, lowCut, highCut, sampleRate float64) (Coefficients, error) {
	if order < 1 {
		return Coefficients{}, fmt.Errorf("%w: order must be positive, got %d", ErrInvalidParameters, order)
	}
	if sampleRate <= 0 {
		return Coefficients{}, fmt.Errorf("%w: sampling rate must be positive, got %g", ErrInvalidParameters, sampleRate)
	}
	if lowCut <= 0 || highCut <= 0 || lowCut >= highCut {
		return Coefficients{}, fmt.Errorf("%w: cutoffs must satisfy 0 < low < high, got %g and %g", ErrInvalidParameters, lowCut, highCut)
	}

	nyquist := 0.5 * sampleRate
	low := lowCut / nyquist
	high := highCut / nyquist
	if high >= 1 {
		return Coefficients{}, fmt.Errorf("%w: high cutoff %g Hz must be below Nyquist (%g Hz)", ErrInvalidParameters, highCut, nyquist)
	}

	// Analog low-pass prototype: poles evenly spaced on the left half of the unit circle.
	proto := make([]complex128, order)
	for i := range proto {
		m := float64(2*i - order + 1)
		proto[i] = -cmplx.Exp(complex(0, math.Pi*m/float64(2*order)))
	}

	// Pre-warp the critical frequencies for the bilinear transform (fs = 2).
	const fs = 2.0
	warpedLow := 2 * fs * math.Tan(math.Pi*low/fs)
	warpedHigh := 2 * fs * math.Tan(math.Pi*high/fs)
	bw := warpedHigh - warpedLow
	wo := math.Sqrt(warpedLow * warpedHigh)

	// Low-pass to band-pass: every pole splits into a pair, order zeros land at the origin.
	poles := make([]complex128, 0, 2*order)
	for _, p := range proto {
		pl := p * complex(bw/2, 0)
		poles = append(poles, pl+cmplx.Sqrt(pl*pl-complex(wo*wo, 0)))
	}
	for _, p := range proto {
		pl := p * complex(bw/2, 0)
		poles = append(poles, pl-cmplx.Sqrt(pl*pl-complex(wo*wo, 0)))
	}
	gain := math.Pow(bw, float64(order))

	// Bilinear transform. Zeros at the origin map to z = 1, the excess degree maps to z = -1.
	const fs2 = 2 * fs
	zeros := make([]complex128, 0, 2*order)
	for i := 0; i < order; i++ {
		zeros = append(zeros, 1)
	}
	for i := 0; i < order; i++ {
		zeros = append(zeros, -1)
	}

	num := complex(math.Pow(fs2, float64(order)), 0)
	den := complex(1, 0)
	for i, p := range poles {
		den *= complex(fs2, 0) - p
		poles[i] = (complex(fs2, 0) + p) / (complex(fs2, 0) - p)
	}
	gain *= real(num / den)

	b := realPart(poly(zeros))
	for i := range b {
		b[i] *= gain
	}

	return Coefficients{B: b, A: realPart(poly(poles))}, nil
}

// poly expands the monic polynomial with the given roots, highest power first.
func poly(roots []complex128) []complex128 {
	c := []complex128{1}
	for _, r := range roots {
		next := make([]complex128, len(c)+1)
		for i := range next {
			if i < len(c) {
				next[i] += c[i]
			}
			if i > 0 {
				next[i] -= r * c[i-1]
			}
		}
		c = next
	}
	return c
}

func realPart(c []complex128) []float64 {
	out := make([]float64, len(c))
	for i, v := range c {
		out[i] = real(v)
	}
	return out
}
