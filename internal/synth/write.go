// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package synth

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/OpenPSG/measpike/edf"
	"github.com/OpenPSG/measpike/mea"
	"github.com/OpenPSG/measpike/spike"
)

// WriteMEA writes the recording as an MEA file.
func (r *Recording) WriteMEA(w io.WriteSeeker) error {
	mw, err := mea.Create(w, mea.NewHeader(r.md))
	if err != nil {
		return err
	}
	if err := mw.WriteFrames(r.samples); err != nil {
		return fmt.Errorf("error writing frames: %w", err)
	}
	return mw.Close()
}

var recordDurations = []time.Duration{
	time.Second, 500 * time.Millisecond, 250 * time.Millisecond, 200 * time.Millisecond,
	100 * time.Millisecond, 50 * time.Millisecond, 20 * time.Millisecond, 10 * time.Millisecond,
	5 * time.Millisecond, 2 * time.Millisecond, time.Millisecond,
}

// WriteEDF writes the recording as an EDF file with one signal per channel.
// Frames after the last complete data record are not written.
func (r *Recording) WriteEDF(w io.WriteSeeker, start time.Time) error {
	channels := r.md.Channels()

	var duration time.Duration
	var spr int
	for _, d := range recordDurations {
		n := r.md.SamplingRate * d.Seconds()
		if n != math.Round(n) || channels*int(n)*2 > 61440 {
			continue
		}
		duration, spr = d, int(n)
		break
	}
	if spr == 0 || r.md.RecFrames < spr {
		return fmt.Errorf("no EDF data record layout fits %d channels at %g Hz", channels, r.md.SamplingRate)
	}

	hdr := edf.Header{
		Version:            edf.Version0,
		PatientID:          "X X X X",
		RecordingID:        "Startdate X X X synthetic",
		StartTime:          start,
		DataRecordDuration: duration,
		SignalCount:        channels,
		Signals:            make([]edf.Signal, channels),
	}
	for ch := range hdr.Signals {
		hdr.Signals[ch] = edf.Signal{
			Label:             fmt.Sprintf("E%d-%d", ch/r.md.Cols, ch%r.md.Cols),
			TransducerType:    "MEA electrode",
			PhysicalDimension: "uV",
			PhysicalMin:       r.md.MinVolt,
			PhysicalMax:       r.md.MaxVolt,
			DigitalMin:        math.MinInt16,
			DigitalMax:        math.MaxInt16,
			SamplesPerRecord:  spr,
		}
	}

	ew, err := edf.Create(w, hdr)
	if err != nil {
		return err
	}

	cal := spike.Calibration{
		BitDepth:        r.md.BitDepth,
		MaxVolt:         r.md.MaxVolt,
		MinVolt:         r.md.MinVolt,
		SignalInversion: r.md.SignalInversion,
	}

	signals := make([][]float64, channels)
	for ch := range signals {
		signals[ch] = make([]float64, spr)
	}
	for rec := 0; (rec+1)*spr <= r.md.RecFrames; rec++ {
		for k := 0; k < spr; k++ {
			frame := (rec*spr + k) * channels
			for ch := range signals {
				signals[ch][k] = cal.Analog(float64(r.samples[frame+ch]))
			}
		}
		if err := ew.WriteRecord(signals); err != nil {
			return fmt.Errorf("error writing data record %d: %w", rec, err)
		}
	}

	return ew.Close()
}
