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
	"fmt"
	"io"
	"strconv"
)

// Writer writes MEA recordings.
type Writer struct {
	w      io.WriteSeeker
	hdr    *Header
	frames int // Number of frames written so far.
}

// Create creates a new recording writer. The frame count in hdr is ignored and
// filled in by Close.
func Create(w io.WriteSeeker, hdr Header) (*Writer, error) {
	if hdr.Channels() <= 0 || hdr.Channels() > MaxChannels {
		return nil, fmt.Errorf("invalid chip layout %dx%d", hdr.Rows, hdr.Cols)
	}
	hdr.RecFrames = -1 // Unknown number of frames (at this time).

	mw := &Writer{w: w, hdr: &hdr}

	if err := mw.writeHeader(); err != nil {
		return nil, fmt.Errorf("error writing header: %w", err)
	}

	return mw, nil
}

// WriteFrames appends interleaved frames, len(samples) must be a multiple of the channel count.
func (mw *Writer) WriteFrames(samples []uint16) error {
	channels := mw.hdr.Channels()
	if len(samples)%channels != 0 {
		return fmt.Errorf("got %d samples, not a multiple of %d channels", len(samples), channels)
	}

	writer := bufio.NewWriter(mw.w)
	if err := binary.Write(writer, binary.LittleEndian, samples); err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	mw.frames += len(samples) / channels
	return nil
}

// WriteChannels interleaves equal length per-channel signals and appends them.
func (mw *Writer) WriteChannels(signals [][]uint16) error {
	channels := mw.hdr.Channels()
	if len(signals) != channels {
		return fmt.Errorf("expected %d channels, got %d", channels, len(signals))
	}

	n := len(signals[0])
	samples := make([]uint16, 0, n*channels)
	for i := 0; i < n; i++ {
		for ch, signal := range signals {
			if len(signal) != n {
				return fmt.Errorf("channel %d has %d samples, expected %d", ch, len(signal), n)
			}
			samples = append(samples, signal[i])
		}
	}

	return mw.WriteFrames(samples)
}

// Close finalizes the recording by updating the header with the number of frames.
func (mw *Writer) Close() error {
	mw.hdr.RecFrames = mw.frames
	if err := mw.writeHeader(); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}

	// Leave the writer positioned after the data.
	_, err := mw.w.Seek(0, io.SeekEnd)
	return err
}

func (mw *Writer) writeHeader() error {
	// Rewind to the beginning of the file.
	if _, err := mw.w.Seek(0, io.SeekStart); err != nil {
		return err
	}

	b := make([]byte, headerBytes)
	for i := range b {
		b[i] = ' '
	}

	hdr := mw.hdr
	values := []struct {
		f field
		v string
	}{
		{fieldVersion, strconv.Itoa(hdr.Version)},
		{fieldDataVersion, strconv.Itoa(hdr.DataVersion)},
		{fieldRecInfoVersion, strconv.Itoa(hdr.RecInfoVersion)},
		{fieldBitDepth, strconv.Itoa(hdr.BitDepth)},
		{fieldMaxVolt, formatFloat(hdr.MaxVolt, fieldMaxVolt.width)},
		{fieldMinVolt, formatFloat(hdr.MinVolt, fieldMinVolt.width)},
		{fieldSamplingRate, formatFloat(hdr.SamplingRate, fieldSamplingRate.width)},
		{fieldSignalInversion, formatFloat(hdr.SignalInversion, fieldSignalInversion.width)},
		{fieldExperimentType, strconv.Itoa(int(hdr.ExperimentType))},
		{fieldRows, strconv.Itoa(hdr.Rows)},
		{fieldCols, strconv.Itoa(hdr.Cols)},
		{fieldRecFrames, strconv.Itoa(hdr.RecFrames)},
	}
	for _, v := range values {
		if len(v.v) > v.f.width {
			return fmt.Errorf("%s %q does not fit in %d bytes", v.f.name, v.v, v.f.width)
		}
		copy(b[v.f.offset:], v.v)
	}

	writer := bufio.NewWriter(mw.w)
	if _, err := writer.Write(b); err != nil {
		return err
	}

	// Ensure all data is flushed to the underlying writer
	return writer.Flush()
}

// formatFloat formats v in the shortest form that fits width bytes, dropping
// precision only when the exact representation is too long.
func formatFloat(v float64, width int) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	for prec := 15; len(s) > width && prec > 0; prec-- {
		s = strconv.FormatFloat(v, 'g', prec, 64)
	}
	return s
}
