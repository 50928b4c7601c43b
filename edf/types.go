// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package edf reads and writes EDF/EDF+ files whose signals are the channels
// of a multi-electrode array, and presents them as MEA recordings.
package edf

import (
	"strconv"
	"strings"
	"time"
)

type Version string

const (
	// Version0 represents the version of the EDF/EDF+ standard.
	Version0 Version = "0"
)

// Header represents the EDF/EDF+ file header.
type Header struct {
	Version            Version       // Version of the EDF/EDF+ standard (usually "0")
	PatientID          string        // Identification of the patient
	RecordingID        string        // Identification of the recording session
	StartTime          time.Time     // Start date of the recording
	HeaderBytes        int           // Number of bytes in the header
	DataRecordDuration time.Duration // Duration of a single data record
	DataRecords        int           // Number of data records, -1 if unknown
	SignalCount        int           // Number of signals in each data record
	Signals            []Signal      // Details of each signal
}

// Signal represents the characteristics of each signal in the EDF/EDF+ file.
type Signal struct {
	Label             string  // Label of the signal (e.g., electrode position)
	TransducerType    string  // Type of transducer used
	PhysicalDimension string  // Physical dimension (e.g., uV, mV)
	PhysicalMin       float64 // Minimum physical value
	PhysicalMax       float64 // Maximum physical value
	DigitalMin        int     // Minimum digital value
	DigitalMax        int     // Maximum digital value
	Prefiltering      string  // Pre-filtering information
	SamplesPerRecord  int     // Number of samples in each data record for this signal
	Reserved          string  // Reserved for future use
}

// column is one per-signal header field. Per-signal fields are stored column
// by column: all labels, then all transducer types, and so on.
type column struct {
	name   string
	width  int
	format func(s *Signal) string
	parse  func(s *Signal, v string) error
}

var signalColumns = []column{
	{"label", 16,
		func(s *Signal) string { return s.Label },
		func(s *Signal, v string) error { s.Label = v; return nil }},
	{"transducer type", 80,
		func(s *Signal) string { return s.TransducerType },
		func(s *Signal, v string) error { s.TransducerType = v; return nil }},
	{"physical dimension", 8,
		func(s *Signal) string { return s.PhysicalDimension },
		func(s *Signal, v string) error { s.PhysicalDimension = v; return nil }},
	{"physical minimum", 8,
		func(s *Signal) string { return formatPhysicalValue(s.PhysicalMin) },
		func(s *Signal, v string) (err error) { s.PhysicalMin, err = strconv.ParseFloat(v, 64); return }},
	{"physical maximum", 8,
		func(s *Signal) string { return formatPhysicalValue(s.PhysicalMax) },
		func(s *Signal, v string) (err error) { s.PhysicalMax, err = strconv.ParseFloat(v, 64); return }},
	{"digital minimum", 8,
		func(s *Signal) string { return strconv.Itoa(s.DigitalMin) },
		func(s *Signal, v string) (err error) { s.DigitalMin, err = strconv.Atoi(v); return }},
	{"digital maximum", 8,
		func(s *Signal) string { return strconv.Itoa(s.DigitalMax) },
		func(s *Signal, v string) (err error) { s.DigitalMax, err = strconv.Atoi(v); return }},
	{"prefiltering", 80,
		func(s *Signal) string { return s.Prefiltering },
		func(s *Signal, v string) error { s.Prefiltering = v; return nil }},
	{"samples per record", 8,
		func(s *Signal) string { return strconv.Itoa(s.SamplesPerRecord) },
		func(s *Signal, v string) (err error) { s.SamplesPerRecord, err = strconv.Atoi(v); return }},
	{"reserved", 32,
		func(s *Signal) string { return s.Reserved },
		func(s *Signal, v string) error { s.Reserved = v; return nil }},
}

// signalHeaderBytes is the size of the per-signal header of one signal.
const signalHeaderBytes = 256

func formatPhysicalValue(val float64) string {
	// Try with 2 decimal places
	s := strconv.FormatFloat(val, 'f', 2, 64)
	if len(s) > 8 {
		// Fall back to no decimal
		s = strconv.FormatFloat(val, 'f', 0, 64)
	}
	return s
}

func trimmed(b []byte) string {
	return strings.TrimSpace(string(b))
}
