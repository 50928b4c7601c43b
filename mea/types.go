// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package mea reads and writes raw multi-electrode array recordings.
//
// A recording is a 256 byte ASCII header followed by frame-major, channel
// interleaved, little-endian uint16 samples.
package mea

import "time"

const (
	// FileVersion is the expected recording file version.
	FileVersion = 320
	// DataVersion is the expected version of the raw data section.
	DataVersion = 102
	// RecInfoVersion is the expected version of the recording information.
	RecInfoVersion = 102
)

// ExperimentType distinguishes standard recordings from EFP recordings.
type ExperimentType int

const (
	ExperimentStandard ExperimentType = 0
	ExperimentEFP      ExperimentType = 1
)

// Metadata describes a recording.
type Metadata struct {
	BitDepth        int            // Bit depth of the sampled data
	MaxVolt         float64        // Maximum voltage of the amplifier sampling range
	MinVolt         float64        // Minimum voltage of the amplifier sampling range
	SignalInversion float64        // Either 1 or -1 to indicate whether the signal must be inverted
	SamplingRate    float64        // Sampling frequency (Hz)
	ExperimentType  ExperimentType // Standard or EFP
	Rows            int            // Number of rows of the MEA chip
	Cols            int            // Number of columns of the MEA chip
	RecFrames       int            // Number of recorded frames, -1 if unknown
}

// Channels returns the number of recorded channels, row-major over the electrode grid.
func (m Metadata) Channels() int {
	return m.Rows * m.Cols
}

// Duration returns the length of the recording.
func (m Metadata) Duration() time.Duration {
	if m.SamplingRate <= 0 || m.RecFrames <= 0 {
		return 0
	}
	return time.Duration(float64(m.RecFrames) * float64(time.Second) / m.SamplingRate)
}

// Header is the on-disk header of a recording.
type Header struct {
	Version        int // Recording file version
	DataVersion    int // Raw data section version
	RecInfoVersion int // Recording information version
	Metadata
}

// NewHeader returns a header with the current format versions.
func NewHeader(md Metadata) Header {
	return Header{
		Version:        FileVersion,
		DataVersion:    DataVersion,
		RecInfoVersion: RecInfoVersion,
		Metadata:       md,
	}
}

// Frames is a block of consecutive frames from all channels.
type Frames struct {
	channels int
	samples  []uint16
}

// NewFrames wraps interleaved samples, len(samples) must be a multiple of channels.
func NewFrames(channels int, samples []uint16) *Frames {
	return &Frames{channels: channels, samples: samples}
}

// Len returns the number of frames.
func (f *Frames) Len() int {
	if f.channels == 0 {
		return 0
	}
	return len(f.samples) / f.channels
}

// Channels returns the number of channels per frame.
func (f *Frames) Channels() int {
	return f.channels
}

// Channel returns a copy of the samples of one channel.
func (f *Frames) Channel(ch int) []uint16 {
	out := make([]uint16, f.Len())
	for i := range out {
		out[i] = f.samples[i*f.channels+ch]
	}
	return out
}
