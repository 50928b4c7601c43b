// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package spike

// Thresholds holds the detection factors, in multiples of sigma.
// A nil factor disables crossings of that polarity.
type Thresholds struct {
	FactorPos *float64
	FactorNeg *float64
}

// Crossings returns the indices where signal rises above +level (positive) or
// falls below -level. Samples exactly at the level are not crossings.
func Crossings(signal []float64, level float64, positive bool) []int {
	idx := []int{}
	for i, v := range signal {
		if positive && v > level || !positive && v < -level {
			idx = append(idx, i)
		}
	}
	return idx
}

// Detect returns the ascending, de-duplicated indices crossing the configured thresholds.
func Detect(signal []float64, sigma float64, t Thresholds) ([]int, error) {
	switch {
	case t.FactorPos != nil && t.FactorNeg != nil:
		pos := Crossings(signal, *t.FactorPos*sigma, true)
		neg := Crossings(signal, *t.FactorNeg*sigma, false)
		return union(pos, neg), nil
	case t.FactorPos != nil:
		return Crossings(signal, *t.FactorPos*sigma, true), nil
	case t.FactorNeg != nil:
		return Crossings(signal, *t.FactorNeg*sigma, false), nil
	default:
		return nil, ErrMissingThresholdConfiguration
	}
}

// union merges two ascending index lists, dropping duplicates.
func union(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		var next int
		switch {
		case j >= len(b) || i < len(a) && a[i] < b[j]:
			next = a[i]
			i++
		case i >= len(a) || b[j] < a[i]:
			next = b[j]
			j++
		default:
			next = a[i]
			i++
			j++
		}
		if len(out) == 0 || out[len(out)-1] != next {
			out = append(out, next)
		}
	}
	return out
}
