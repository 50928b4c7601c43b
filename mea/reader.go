// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package mea

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
)

var (
	// ErrCorrupt is returned when a recording is missing required fields or data.
	ErrCorrupt = errors.New("corrupt or unreadable recording")
	// ErrVersionMismatch is a warning: the recording was written by a different format version.
	ErrVersionMismatch = errors.New("versions mismatch")
)

// MaxChannels is the largest electrode count a recording may declare.
const MaxChannels = 1 << 16

// Reader reads MEA recordings.
type Reader struct {
	r   io.ReadSeeker
	hdr *Header
}

// Open parses the header of a recording and checks that the data section is complete.
func Open(r io.ReadSeeker) (*Reader, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("error seeking to header: %w", err)
	}

	b := make([]byte, headerBytes)
	if _, err := io.ReadFull(bufio.NewReader(r), b); err != nil {
		return nil, fmt.Errorf("%w: error reading header: %w", ErrCorrupt, err)
	}

	hdr, err := parseHeader(b)
	if err != nil {
		return nil, err
	}

	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("error seeking to end of recording: %w", err)
	}
	frameBytes := int64(hdr.Channels()) * 2
	if have := (size - headerBytes) / frameBytes; int64(hdr.RecFrames) > have {
		return nil, fmt.Errorf("%w: data section truncated, have %d frames, need %d", ErrCorrupt, have, hdr.RecFrames)
	}

	return &Reader{r: r, hdr: hdr}, nil
}

func parseHeader(b []byte) (*Header, error) {
	hdr := &Header{}

	ints := []struct {
		f   field
		dst *int
	}{
		{fieldVersion, &hdr.Version},
		{fieldDataVersion, &hdr.DataVersion},
		{fieldRecInfoVersion, &hdr.RecInfoVersion},
		{fieldBitDepth, &hdr.BitDepth},
		{fieldRows, &hdr.Rows},
		{fieldCols, &hdr.Cols},
		{fieldRecFrames, &hdr.RecFrames},
	}
	for _, v := range ints {
		i, err := strconv.Atoi(v.f.get(b))
		if err != nil {
			return nil, fmt.Errorf("%w: error parsing %s: %w", ErrCorrupt, v.f.name, err)
		}
		*v.dst = i
	}

	floats := []struct {
		f   field
		dst *float64
	}{
		{fieldMaxVolt, &hdr.MaxVolt},
		{fieldMinVolt, &hdr.MinVolt},
		{fieldSamplingRate, &hdr.SamplingRate},
		{fieldSignalInversion, &hdr.SignalInversion},
	}
	for _, v := range floats {
		f, err := strconv.ParseFloat(v.f.get(b), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: error parsing %s: %w", ErrCorrupt, v.f.name, err)
		}
		*v.dst = f
	}

	experiment, err := strconv.Atoi(fieldExperimentType.get(b))
	if err != nil {
		return nil, fmt.Errorf("%w: error parsing %s: %w", ErrCorrupt, fieldExperimentType.name, err)
	}
	hdr.ExperimentType = ExperimentType(experiment)

	switch {
	case hdr.RecFrames < 0:
		return nil, fmt.Errorf("%w: recording was not finalized", ErrCorrupt)
	case hdr.Rows <= 0 || hdr.Cols <= 0 || hdr.Rows > MaxChannels || hdr.Cols > MaxChannels || hdr.Rows*hdr.Cols > MaxChannels:
		return nil, fmt.Errorf("%w: invalid chip layout %dx%d", ErrCorrupt, hdr.Rows, hdr.Cols)
	case hdr.BitDepth <= 0 || hdr.BitDepth > 16:
		return nil, fmt.Errorf("%w: invalid bit depth %d", ErrCorrupt, hdr.BitDepth)
	case hdr.SignalInversion != 1 && hdr.SignalInversion != -1:
		return nil, fmt.Errorf("%w: signal inversion must be 1 or -1, got %g", ErrCorrupt, hdr.SignalInversion)
	case hdr.SamplingRate <= 0:
		return nil, fmt.Errorf("%w: invalid sampling rate %g", ErrCorrupt, hdr.SamplingRate)
	}

	return hdr, nil
}

// Header returns the parsed header.
func (mr *Reader) Header() Header {
	return *mr.hdr
}

// Metadata returns the recording metadata.
func (mr *Reader) Metadata() Metadata {
	return mr.hdr.Metadata
}

// CheckVersion reports ErrVersionMismatch when the recording was written by another format version.
// The recording remains readable.
func (mr *Reader) CheckVersion() error {
	if mr.hdr.Version != FileVersion || mr.hdr.DataVersion != DataVersion || mr.hdr.RecInfoVersion != RecInfoVersion {
		return fmt.Errorf("%w: file %d, data %d, recording info %d (expected %d, %d, %d)", ErrVersionMismatch,
			mr.hdr.Version, mr.hdr.DataVersion, mr.hdr.RecInfoVersion, FileVersion, DataVersion, RecInfoVersion)
	}
	return nil
}

// ReadFrames reads the frames [start, end) of all channels.
func (mr *Reader) ReadFrames(start, end int) (*Frames, error) {
	if start < 0 || end > mr.hdr.RecFrames || start > end {
		return nil, fmt.Errorf("frame range [%d, %d) out of bounds [0, %d)", start, end, mr.hdr.RecFrames)
	}

	if _, err := mr.r.Seek(dataOffset(mr.hdr, start), io.SeekStart); err != nil {
		return nil, fmt.Errorf("error seeking to frame %d: %w", start, err)
	}

	channels := mr.hdr.Channels()
	buf := make([]byte, (end-start)*channels*2)
	if _, err := io.ReadFull(mr.r, buf); err != nil {
		return nil, fmt.Errorf("%w: error reading sample data: %w", ErrCorrupt, err)
	}

	samples := make([]uint16, len(buf)/2)
	for i := range samples {
		samples[i] = binary.LittleEndian.Uint16(buf[2*i:])
	}

	return NewFrames(channels, samples), nil
}

// ReadChannel reads the samples [start, end) of a single channel.
func (mr *Reader) ReadChannel(ch, start, end int) ([]uint16, error) {
	if ch < 0 || ch >= mr.hdr.Channels() {
		return nil, fmt.Errorf("channel index %d out of range", ch)
	}

	frames, err := mr.ReadFrames(start, end)
	if err != nil {
		return nil, err
	}
	return frames.Channel(ch), nil
}

func dataOffset(hdr *Header, frame int) int64 {
	return int64(headerBytes) + int64(frame)*int64(hdr.Channels())*2
}
