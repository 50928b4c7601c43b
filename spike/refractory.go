// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package spike

// RefractorySamples converts a refractory period to a sample count, truncating toward zero.
func RefractorySamples(periodSeconds, sampleRate float64) int {
	return int(periodSeconds * sampleRate)
}

// Clean drops every spike that follows the previously kept spike by fewer than
// refractory samples. The first spike is always kept and a dropped spike never
// blocks a later one. spikes must be ascending.
func Clean(spikes []int, refractory int) []int {
	gap := max(refractory, 1)

	cleaned := make([]int, 0, len(spikes))
	for _, s := range spikes {
		if len(cleaned) == 0 || s >= cleaned[len(cleaned)-1]+gap {
			cleaned = append(cleaned, s)
		}
	}
	return cleaned
}

// CleanPeriod is Clean with the refractory window given in seconds.
func CleanPeriod(spikes []int, periodSeconds, sampleRate float64) []int {
	return Clean(spikes, RefractorySamples(periodSeconds, sampleRate))
}
