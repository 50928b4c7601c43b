// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package bxr stores spike detection results.
//
// A result file is a 256 byte ASCII header with the recording level attributes
// followed by the spike times as little-endian int64 sample indices and then
// the matching channel indices as little-endian int32.
package bxr

import (
	"path/filepath"
	"strings"

	"github.com/OpenPSG/measpike/mea"
	"github.com/OpenPSG/measpike/spike"
)

const (
	// Version is the result file version.
	Version = 301
	// DefaultWell is the group label the spikes are stored under.
	DefaultWell = "Well_A1"
	// DefaultFileName is used when no input file name is available.
	DefaultFileName = "SpikeDetectionResults.bxr"
	// Extension is the file name extension of result files.
	Extension = ".bxr"
)

const headerBytes = 256

type field struct {
	name   string
	offset int
	width  int
}

var (
	fieldVersion        = field{"version", 0, 8}
	fieldSamplingRate   = field{"sampling rate", 8, 16}
	fieldMinAnalogValue = field{"min analog value", 24, 16}
	fieldMaxAnalogValue = field{"max analog value", 40, 16}
	fieldSpikeCount     = field{"spike count", 56, 16}
	fieldWell           = field{"well", 72, 16}
)

func (f field) get(b []byte) string {
	return strings.TrimSpace(string(b[f.offset : f.offset+f.width]))
}

// Result is the content of a result file.
type Result struct {
	Version        int          // Result file version
	SamplingRate   float64      // Sampling frequency of the recording (Hz)
	MinAnalogValue float64      // Minimum voltage of the amplifier sampling range
	MaxAnalogValue float64      // Maximum voltage of the amplifier sampling range
	Well           string       // Group label, usually Well_A1
	Events         spike.Events // Time sorted spikes
}

// NewResult returns the result of detecting events in a recording described by md.
func NewResult(md mea.Metadata, events spike.Events) Result {
	return Result{
		Version:        Version,
		SamplingRate:   md.SamplingRate,
		MinAnalogValue: md.MinVolt,
		MaxAnalogValue: md.MaxVolt,
		Well:           DefaultWell,
		Events:         events,
	}
}

// FileName returns the result file name for an input recording path. The input
// extension is kept so that recordings sharing a stem get distinct results.
func FileName(input string) string {
	base := filepath.Base(input)
	if base == "." || base == string(filepath.Separator) {
		return DefaultFileName
	}
	return base + Extension
}
