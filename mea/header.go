// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package mea

import "strings"

const headerBytes = 256

// field is a fixed width, space padded ASCII header field.
type field struct {
	name   string
	offset int
	width  int
}

var (
	fieldVersion         = field{"version", 0, 8}
	fieldDataVersion     = field{"data version", 8, 8}
	fieldRecInfoVersion  = field{"recording info version", 16, 8}
	fieldBitDepth        = field{"bit depth", 24, 8}
	fieldMaxVolt         = field{"max volt", 32, 16}
	fieldMinVolt         = field{"min volt", 48, 16}
	fieldSamplingRate    = field{"sampling rate", 64, 16}
	fieldSignalInversion = field{"signal inversion", 80, 8}
	fieldExperimentType  = field{"experiment type", 88, 8}
	fieldRows            = field{"rows", 96, 8}
	fieldCols            = field{"cols", 104, 8}
	fieldRecFrames       = field{"recorded frames", 112, 16}
)

func (f field) get(b []byte) string {
	return strings.TrimSpace(string(b[f.offset : f.offset+f.width]))
}
