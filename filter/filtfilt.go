// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package filter

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// LFilter filters x with a direct form II transposed structure.
// zi is the initial delay line state (len Taps()-1), nil means zero state.
// It returns the filtered signal and the final state.
func LFilter(c Coefficients, x, zi []float64) ([]float64, []float64, error) {
	c, err := c.normalized()
	if err != nil {
		return nil, nil, err
	}

	n := len(c.A)
	z := make([]float64, n-1)
	if zi != nil {
		if len(zi) != n-1 {
			return nil, nil, fmt.Errorf("initial state has %d values, expected %d", len(zi), n-1)
		}
		copy(z, zi)
	}

	y := make([]float64, len(x))
	for m, xm := range x {
		if n == 1 {
			y[m] = c.B[0] * xm
			continue
		}

		ym := z[0] + c.B[0]*xm
		for i := 0; i < n-2; i++ {
			z[i] = z[i+1] + xm*c.B[i+1] - ym*c.A[i+1]
		}
		z[n-2] = xm*c.B[n-1] - ym*c.A[n-1]
		y[m] = ym
	}

	return y, z, nil
}

// SteadyState computes the delay line state corresponding to the step response
// steady state, scaled for a unit input.
func SteadyState(c Coefficients) ([]float64, error) {
	c, err := c.normalized()
	if err != nil {
		return nil, err
	}

	m := len(c.A) - 1
	if m == 0 {
		return []float64{}, nil
	}

	// Solve (I - companion(a)^T) zi = b[1:] - a[1:]*b[0].
	lhs := mat.NewDense(m, m, nil)
	rhs := mat.NewVecDense(m, nil)
	for i := 0; i < m; i++ {
		lhs.Set(i, i, 1)
		lhs.Set(i, 0, lhs.At(i, 0)+c.A[i+1])
		if i+1 < m {
			lhs.Set(i, i+1, -1)
		}
		rhs.SetVec(i, c.B[i+1]-c.A[i+1]*c.B[0])
	}

	var zi mat.VecDense
	if err := zi.SolveVec(lhs, rhs); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, fmt.Errorf("error computing initial conditions: %w", err)
		}
	}

	return slices.Clone(zi.RawVector().Data), nil
}

// FiltFilt applies the filter forward and then backward so the result has zero phase.
// The signal is extended at both ends by odd reflection of 3*Taps() samples and the
// delay line is started from the steady state of the edge value.
func FiltFilt(c Coefficients, x []float64) ([]float64, error) {
	edge := 3 * c.Taps()
	if len(x) <= edge {
		return nil, fmt.Errorf("%w: %d samples, need more than %d", ErrSignalTooShort, len(x), edge)
	}

	zi, err := SteadyState(c)
	if err != nil {
		return nil, err
	}

	ext := oddExtend(x, edge)

	y, _, err := LFilter(c, ext, scale(zi, ext[0]))
	if err != nil {
		return nil, err
	}

	slices.Reverse(y)
	y, _, err = LFilter(c, y, scale(zi, y[0]))
	if err != nil {
		return nil, err
	}
	slices.Reverse(y)

	return slices.Clone(y[edge : len(y)-edge]), nil
}

// Bandpass designs a Butterworth band-pass filter and applies it with zero phase.
func Bandpass(x []float64, lowCut, highCut, sampleRate float64, order int) ([]float64, error) {
	c, err := Butter(order, lowCut, highCut, sampleRate)
	if err != nil {
		return nil, err
	}
	return FiltFilt(c, x)
}

func oddExtend(x []float64, n int) []float64 {
	last := len(x) - 1
	ext := make([]float64, 0, len(x)+2*n)
	for i := n; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := 1; i <= n; i++ {
		ext = append(ext, 2*x[last]-x[last-i])
	}
	return ext
}

func scale(v []float64, k float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i] * k
	}
	return out
}
