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

	"golang.org/x/exp/constraints"
)

// Calibration maps raw amplifier counts to microvolts.
type Calibration struct {
	BitDepth        int     // Bit depth of the sampled data
	MaxVolt         float64 // Maximum voltage of the amplifier sampling range
	MinVolt         float64 // Minimum voltage of the amplifier sampling range
	SignalInversion float64 // Either 1 or -1
}

// Offset returns the analog value of a zero count.
func (c Calibration) Offset() float64 {
	return c.SignalInversion * c.MinVolt
}

// Step returns the analog value of a single count.
func (c Calibration) Step() float64 {
	return c.SignalInversion * ((c.MaxVolt - c.MinVolt) / math.Ldexp(1, c.BitDepth))
}

// Analog converts a single digital value.
func (c Calibration) Analog(digital float64) float64 {
	return c.Offset() + digital*c.Step()
}

// ToAnalog converts digital samples to analog values in microvolts.
func ToAnalog[T constraints.Integer](c Calibration, digital []T) []float64 {
	offset, step := c.Offset(), c.Step()

	analog := make([]float64, len(digital))
	for i, d := range digital {
		analog[i] = offset + float64(d)*step
	}
	return analog
}
