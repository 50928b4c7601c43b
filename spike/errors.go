// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package spike detects action potentials in multi-electrode array recordings.
package spike

import (
	"errors"

	"github.com/OpenPSG/measpike/filter"
)

var (
	// ErrInvalidFilterParameters is returned when the band-pass cutoffs are unusable.
	ErrInvalidFilterParameters = filter.ErrInvalidParameters
	// ErrMissingThresholdConfiguration is returned when neither threshold factor is set.
	ErrMissingThresholdConfiguration = errors.New("either FactorPos or FactorNeg must be specified")
	// ErrInvalidThresholdFactor is returned when a threshold factor is set but not positive.
	ErrInvalidThresholdFactor = errors.New("threshold factor must be positive")
	// ErrNotImplementedMethod is returned for detection methods other than threshold.
	ErrNotImplementedMethod = errors.New("detection method not implemented")
)
