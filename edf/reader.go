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
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/OpenPSG/measpike/mea"
)

var (
	// ErrCorrupt is returned when the header cannot be parsed or the data records are incomplete.
	ErrCorrupt = errors.New("corrupt or unreadable EDF file")
	// ErrUnsupported is returned when the signals cannot be read as channels of one array.
	ErrUnsupported = errors.New("unsupported EDF layout")
)

// Reader reads EDF/EDF+ files as MEA recordings.
type Reader struct {
	r   io.ReadSeeker
	hdr *Header
	md  mea.Metadata
}

// Open opens an EDF/EDF+ file for reading. All signals must share their
// sampling rate and calibration.
func Open(r io.ReadSeeker) (*Reader, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("error seeking to header: %w", err)
	}
	reader := bufio.NewReader(r)

	b := make([]byte, 256)
	if _, err := io.ReadFull(reader, b); err != nil {
		return nil, fmt.Errorf("%w: error reading header: %w", ErrCorrupt, err)
	}

	hdr, err := parseHeader(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	sb := make([]byte, hdr.SignalCount*signalHeaderBytes)
	if _, err := io.ReadFull(reader, sb); err != nil {
		return nil, fmt.Errorf("%w: error reading signal headers: %w", ErrCorrupt, err)
	}

	hdr.Signals = make([]Signal, hdr.SignalCount)
	offset := 0
	for _, col := range signalColumns {
		for i := range hdr.Signals {
			v := trimmed(sb[offset : offset+col.width])
			if err := col.parse(&hdr.Signals[i], v); err != nil {
				return nil, fmt.Errorf("%w: error parsing %s of signal %d: %w", ErrCorrupt, col.name, i, err)
			}
			offset += col.width
		}
	}

	md, err := metadata(hdr)
	if err != nil {
		return nil, err
	}

	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("error seeking to end of file: %w", err)
	}
	if have := (size - int64(hdr.HeaderBytes)) / int64(recordSize(hdr)); int64(hdr.DataRecords) > have {
		return nil, fmt.Errorf("%w: data records truncated, have %d records, need %d", ErrCorrupt, have, hdr.DataRecords)
	}

	return &Reader{r: r, hdr: hdr, md: md}, nil
}

func parseHeader(b []byte) (*Header, error) {
	hdr := &Header{}
	hdr.Version = Version(trimmed(b[0:8]))
	hdr.PatientID = trimmed(b[8:88])
	hdr.RecordingID = trimmed(b[88:168])

	start, err := time.Parse("02.01.06 15.04.05", trimmed(b[168:176])+" "+trimmed(b[176:184]))
	if err != nil {
		return nil, fmt.Errorf("error parsing start date: %w", err)
	}
	hdr.StartTime = start

	if hdr.HeaderBytes, err = strconv.Atoi(trimmed(b[184:192])); err != nil {
		return nil, fmt.Errorf("error parsing header bytes: %w", err)
	}
	if hdr.DataRecords, err = strconv.Atoi(trimmed(b[236:244])); err != nil {
		return nil, fmt.Errorf("error parsing number of data records: %w", err)
	}
	if hdr.DataRecordDuration, err = time.ParseDuration(trimmed(b[244:252]) + "s"); err != nil {
		return nil, fmt.Errorf("error parsing data record duration: %w", err)
	}
	if hdr.SignalCount, err = strconv.Atoi(trimmed(b[252:256])); err != nil {
		return nil, fmt.Errorf("error parsing signal count: %w", err)
	}

	switch {
	case hdr.SignalCount <= 0:
		return nil, fmt.Errorf("invalid signal count %d", hdr.SignalCount)
	case hdr.DataRecords < 0:
		return nil, fmt.Errorf("number of data records unknown, file was not finalized")
	case hdr.HeaderBytes != 256+hdr.SignalCount*signalHeaderBytes:
		return nil, fmt.Errorf("header size %d does not match %d signals", hdr.HeaderBytes, hdr.SignalCount)
	case hdr.DataRecordDuration <= 0:
		return nil, fmt.Errorf("invalid data record duration %s", hdr.DataRecordDuration)
	}

	return hdr, nil
}

// metadata describes the signals as a single row of channels. Digital values are
// shifted by the digital minimum into an unsigned 16 bit range, and MaxVolt is
// scaled so that one count keeps the EDF resolution.
func metadata(hdr *Header) (mea.Metadata, error) {
	first := hdr.Signals[0]
	for i, s := range hdr.Signals[1:] {
		if s.SamplesPerRecord != first.SamplesPerRecord {
			return mea.Metadata{}, fmt.Errorf("%w: signal %d has %d samples per record, signal 0 has %d",
				ErrUnsupported, i+1, s.SamplesPerRecord, first.SamplesPerRecord)
		}
		if s.PhysicalMin != first.PhysicalMin || s.PhysicalMax != first.PhysicalMax ||
			s.DigitalMin != first.DigitalMin || s.DigitalMax != first.DigitalMax {
			return mea.Metadata{}, fmt.Errorf("%w: signal %d is calibrated differently from signal 0", ErrUnsupported, i+1)
		}
	}
	if first.SamplesPerRecord <= 0 {
		return mea.Metadata{}, fmt.Errorf("%w: invalid samples per record %d", ErrCorrupt, first.SamplesPerRecord)
	}
	if first.DigitalMax <= first.DigitalMin || first.DigitalMax-first.DigitalMin > 0xFFFF {
		return mea.Metadata{}, fmt.Errorf("%w: digital range [%d, %d]", ErrUnsupported, first.DigitalMin, first.DigitalMax)
	}

	return mea.Metadata{
		BitDepth:        16,
		MaxVolt:         first.PhysicalMin + (first.PhysicalMax-first.PhysicalMin)*65536/float64(first.DigitalMax-first.DigitalMin),
		MinVolt:         first.PhysicalMin,
		SignalInversion: 1,
		SamplingRate:    float64(first.SamplesPerRecord) / hdr.DataRecordDuration.Seconds(),
		ExperimentType:  mea.ExperimentStandard,
		Rows:            1,
		Cols:            hdr.SignalCount,
		RecFrames:       hdr.DataRecords * first.SamplesPerRecord,
	}, nil
}

// Header returns the parsed EDF header.
func (er *Reader) Header() Header {
	return *er.hdr
}

// Metadata returns the recording metadata with one channel per signal.
func (er *Reader) Metadata() mea.Metadata {
	return er.md
}

// ReadFrames reads the frames [start, end) of all signals.
func (er *Reader) ReadFrames(start, end int) (*mea.Frames, error) {
	if start < 0 || end > er.md.RecFrames || start > end {
		return nil, fmt.Errorf("frame range [%d, %d) out of bounds [0, %d)", start, end, er.md.RecFrames)
	}

	spr := er.hdr.Signals[0].SamplesPerRecord
	dmin := er.hdr.Signals[0].DigitalMin
	channels := er.hdr.SignalCount
	size := recordSize(er.hdr)

	samples := make([]uint16, (end-start)*channels)
	buf := make([]byte, size)
	for rec := start / spr; rec*spr < end; rec++ {
		pos := int64(er.hdr.HeaderBytes) + int64(rec)*int64(size)
		if _, err := er.r.Seek(pos, io.SeekStart); err != nil {
			return nil, fmt.Errorf("error seeking to position: %w", err)
		}
		if _, err := io.ReadFull(er.r, buf); err != nil {
			return nil, fmt.Errorf("%w: error reading data record %d: %w", ErrCorrupt, rec, err)
		}

		first := max(start, rec*spr)
		last := min(end, (rec+1)*spr)
		for frame := first; frame < last; frame++ {
			k := frame - rec*spr
			for ch := 0; ch < channels; ch++ {
				digital := int16(binary.LittleEndian.Uint16(buf[(ch*spr+k)*2:]))
				samples[(frame-start)*channels+ch] = shiftDigital(digital, dmin)
			}
		}
	}

	return mea.NewFrames(channels, samples), nil
}

func shiftDigital(digital int16, dmin int) uint16 {
	v := int(digital) - dmin
	if v < 0 {
		return 0
	}
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}

func recordSize(hdr *Header) int {
	size := 0
	for _, s := range hdr.Signals {
		size += s.SamplesPerRecord * 2
	}
	return size
}
