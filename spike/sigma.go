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
	"math"
	"slices"
)

// madScale turns the median absolute value into a standard deviation estimate for Gaussian noise.
const madScale = 0.6745

// Sigma estimates the background noise level of a filtered signal as median(|x|)/0.6745.
//
// See R. Quian Quiroga, Z. Nadasdy, Y. Ben-Shaul, "Unsupervised spike detection and
// sorting with wavelets and superparamagnetic clustering", Neural Comput. 16 (2004).
func Sigma(signal []float64) float64 {
	if len(signal) == 0 {
		return 0
	}

	scaled := make([]float64, len(signal))
	for i, v := range signal {
		scaled[i] = math.Abs(v) / madScale
	}
	slices.Sort(scaled)

	n := len(scaled)
	if n%2 == 1 {
		return scaled[n/2]
	}
	return (scaled[n/2-1] + scaled[n/2]) / 2
}
