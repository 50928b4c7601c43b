// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
)

// maxRecordBytes is the data record size recommended by the EDF standard.
const maxRecordBytes = 61440

// Writer writes EDF files.
type Writer struct {
	w           io.WriteSeeker
	hdr         *Header
	dataRecords int // Number of data records written so far.
}

// Create creates a new EDF writer that writes to the given writer.
func Create(w io.WriteSeeker, hdr Header) (*Writer, error) {
	if hdr.SignalCount != len(hdr.Signals) {
		return nil, fmt.Errorf("signal count %d does not match %d signals", hdr.SignalCount, len(hdr.Signals))
	}
	if hdr.Version == "" {
		hdr.Version = Version0
	}
	hdr.DataRecords = -1 // Unknown number of data records (at this time).

	ew := &Writer{w: w, hdr: &hdr}

	if err := ew.writeHeader(); err != nil {
		return nil, fmt.Errorf("error writing header: %w", err)
	}

	return ew, nil
}

// Close finalizes the EDF file by updating the header with the total number of data records.
func (ew *Writer) Close() error {
	ew.hdr.DataRecords = ew.dataRecords
	if err := ew.writeHeader(); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}

	if _, err := ew.w.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("error seeking to end of file: %w", err)
	}

	return nil
}

// WriteRecord writes a single data record of physical values to the EDF file.
func (ew *Writer) WriteRecord(signals [][]float64) error {
	if len(signals) != ew.hdr.SignalCount {
		return fmt.Errorf("expected %d signals, got %d", ew.hdr.SignalCount, len(signals))
	}

	var totalSamples int
	for i, signal := range signals {
		if want := ew.hdr.Signals[i].SamplesPerRecord; len(signal) != want {
			return fmt.Errorf("signal %d: expected %d samples, got %d", i, want, len(signal))
		}
		totalSamples += len(signal)
	}

	if totalSamples*2 > maxRecordBytes {
		return fmt.Errorf("data record too large: %d bytes, max is %d bytes", totalSamples*2, maxRecordBytes)
	}

	writer := bufio.NewWriter(ew.w)

	for i, signal := range signals {
		s := ew.hdr.Signals[i]
		for _, sample := range signal {
			digital := physicalToDigital(sample, s.PhysicalMin, s.PhysicalMax, s.DigitalMin, s.DigitalMax)
			if err := binary.Write(writer, binary.LittleEndian, digital); err != nil {
				return err
			}
		}
	}

	if err := writer.Flush(); err != nil {
		return err
	}

	ew.dataRecords++
	return nil
}

func (ew *Writer) writeHeader() error {
	if _, err := ew.w.Seek(0, io.SeekStart); err != nil {
		return err
	}

	writer := bufio.NewWriter(ew.w)

	ew.hdr.HeaderBytes = 256 + ew.hdr.SignalCount*signalHeaderBytes

	fields := []struct {
		width int
		value string
	}{
		{8, string(ew.hdr.Version)},
		{80, ew.hdr.PatientID},
		{80, ew.hdr.RecordingID},
		{8, ew.hdr.StartTime.Format("02.01.06")},
		{8, ew.hdr.StartTime.Format("15.04.05")},
		{8, strconv.Itoa(ew.hdr.HeaderBytes)},
		{44, ""},
		{8, strconv.Itoa(ew.hdr.DataRecords)},
		{8, strconv.FormatFloat(ew.hdr.DataRecordDuration.Seconds(), 'f', -1, 64)},
		{4, strconv.Itoa(ew.hdr.SignalCount)},
	}
	for _, f := range fields {
		if err := writeField(writer, f.width, f.value); err != nil {
			return err
		}
	}

	for _, col := range signalColumns {
		for i := range ew.hdr.Signals {
			if err := writeField(writer, col.width, col.format(&ew.hdr.Signals[i])); err != nil {
				return fmt.Errorf("signal %d %s: %w", i, col.name, err)
			}
		}
	}

	return writer.Flush()
}

func writeField(w *bufio.Writer, width int, value string) error {
	if len(value) > width {
		return fmt.Errorf("value %q exceeds field width %d", value, width)
	}
	_, err := fmt.Fprintf(w, "%-*s", width, value)
	return err
}

// physicalToDigital converts a physical value to a digital value using the calibration factors.
func physicalToDigital(physical float64, pmin, pmax float64, dmin, dmax int) int16 {
	if pmax == pmin {
		return int16(dmin)
	}
	digital := math.Round((physical-pmin)*float64(dmax-dmin)/(pmax-pmin)) + float64(dmin)
	return int16(max(float64(dmin), min(float64(dmax), digital)))
}
