// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package bxr_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/OpenPSG/measpike/bxr"
	"github.com/OpenPSG/measpike/mea"
	"github.com/OpenPSG/measpike/spike"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRead(t *testing.T) {
	md := mea.Metadata{
		BitDepth:        12,
		MaxVolt:         4125,
		MinVolt:         -4125,
		SignalInversion: 1,
		SamplingRate:    17855.5,
		Rows:            64,
		Cols:            64,
	}
	events := spike.Events{
		Times:    []int64{3, 3, 17, 4_000_000_000},
		Channels: []int32{0, 4095, 12, 7},
	}

	var buf bytes.Buffer
	require.NoError(t, bxr.Write(&buf, bxr.NewResult(md, events)))

	res, err := bxr.Read(&buf)
	require.NoError(t, err)

	assert.Equal(t, bxr.Version, res.Version)
	assert.Equal(t, 17855.5, res.SamplingRate)
	assert.Equal(t, -4125.0, res.MinAnalogValue)
	assert.Equal(t, 4125.0, res.MaxAnalogValue)
	assert.Equal(t, bxr.DefaultWell, res.Well)
	assert.Equal(t, events, res.Events)
}

func TestWriteReadReducedPrecision(t *testing.T) {
	res := bxr.Result{
		SamplingRate:   1e6 / 56,
		MinAnalogValue: -4125.1258869306475,
		MaxAnalogValue: 4125.1258869306475,
	}

	var buf bytes.Buffer
	require.NoError(t, bxr.Write(&buf, res))

	got, err := bxr.Read(&buf)
	require.NoError(t, err)
	assert.InEpsilon(t, res.SamplingRate, got.SamplingRate, 1e-12)
	assert.InEpsilon(t, res.MinAnalogValue, got.MinAnalogValue, 1e-12)
	assert.InEpsilon(t, res.MaxAnalogValue, got.MaxAnalogValue, 1e-12)
}

func TestWriteReadEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, bxr.Write(&buf, bxr.Result{SamplingRate: 10000}))

	res, err := bxr.Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Events.Len())
	assert.Equal(t, bxr.DefaultWell, res.Well)
}

func TestWriteMismatchedLengths(t *testing.T) {
	var buf bytes.Buffer
	err := bxr.Write(&buf, bxr.Result{Events: spike.Events{Times: []int64{1, 2}, Channels: []int32{0}}})
	assert.Error(t, err)
}

func TestReadTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, bxr.Write(&buf, bxr.Result{
		SamplingRate: 10000,
		Events:       spike.Events{Times: []int64{1, 2}, Channels: []int32{0, 1}},
	}))

	_, err := bxr.Read(bytes.NewReader(buf.Bytes()[:buf.Len()-2]))
	require.ErrorIs(t, err, bxr.ErrCorrupt)

	_, err = bxr.Read(bytes.NewReader(buf.Bytes()[:100]))
	require.ErrorIs(t, err, bxr.ErrCorrupt)
}

func TestReadCountExceedsData(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, bxr.Write(&buf, bxr.Result{
		SamplingRate: 10000,
		Events:       spike.Events{Times: []int64{1}, Channels: []int32{0}},
	}))

	b := buf.Bytes()
	copy(b[56:72], "9999999999999999")

	_, err := bxr.Read(bytes.NewReader(b))
	require.ErrorIs(t, err, bxr.ErrCorrupt)
}

func TestCreate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "output")

	path, err := bxr.Create(dir, bxr.FileName("/data/input/culture_07.brw"), bxr.Result{SamplingRate: 20000})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "culture_07.brw.bxr"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, f.Close())
	})

	res, err := bxr.Read(f)
	require.NoError(t, err)
	assert.Equal(t, 20000.0, res.SamplingRate)
}

func TestCreateRemovesFailedFile(t *testing.T) {
	dir := t.TempDir()

	_, err := bxr.Create(dir, "broken.bxr", bxr.Result{
		Events: spike.Events{Times: []int64{1, 2}, Channels: []int32{0}},
	})
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "broken.bxr"))
}

func TestFileName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"recording.brw", "recording.brw.bxr"},
		{"data/input/a.b.mea", "a.b.mea.bxr"},
		{"data/input/a.edf", "a.edf.bxr"},
		{"noext", "noext.bxr"},
		{".hidden", ".hidden.bxr"},
		{"", bxr.DefaultFileName},
		{"/", bxr.DefaultFileName},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, bxr.FileName(tt.input))
		})
	}
}
