// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package bxr

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/OpenPSG/measpike/spike"
)

// readChunk bounds the allocation made before the data backing it has been read.
const readChunk = 1 << 16

// ErrCorrupt is returned when a result file cannot be parsed.
var ErrCorrupt = errors.New("corrupt or unreadable result file")

// Read reads a result file.
func Read(r io.Reader) (Result, error) {
	reader := bufio.NewReader(r)

	b := make([]byte, headerBytes)
	if _, err := io.ReadFull(reader, b); err != nil {
		return Result{}, fmt.Errorf("%w: error reading header: %w", ErrCorrupt, err)
	}

	var res Result
	var err error
	if res.Version, err = strconv.Atoi(fieldVersion.get(b)); err != nil {
		return Result{}, fmt.Errorf("%w: error parsing %s: %w", ErrCorrupt, fieldVersion.name, err)
	}

	floats := []struct {
		f   field
		dst *float64
	}{
		{fieldSamplingRate, &res.SamplingRate},
		{fieldMinAnalogValue, &res.MinAnalogValue},
		{fieldMaxAnalogValue, &res.MaxAnalogValue},
	}
	for _, v := range floats {
		if *v.dst, err = strconv.ParseFloat(v.f.get(b), 64); err != nil {
			return Result{}, fmt.Errorf("%w: error parsing %s: %w", ErrCorrupt, v.f.name, err)
		}
	}

	count, err := strconv.Atoi(fieldSpikeCount.get(b))
	if err != nil || count < 0 {
		return Result{}, fmt.Errorf("%w: invalid %s %q", ErrCorrupt, fieldSpikeCount.name, fieldSpikeCount.get(b))
	}
	res.Well = fieldWell.get(b)

	if count == 0 {
		res.Events = spike.Events{Times: []int64{}, Channels: []int32{}}
		return res, nil
	}

	if res.Events.Times, err = readSlice[int64](reader, count); err != nil {
		return Result{}, fmt.Errorf("%w: error reading spike times: %w", ErrCorrupt, err)
	}
	if res.Events.Channels, err = readSlice[int32](reader, count); err != nil {
		return Result{}, fmt.Errorf("%w: error reading spike channels: %w", ErrCorrupt, err)
	}

	return res, nil
}

// readSlice reads n little-endian values in chunks, so a count larger than the
// stream fails with an error instead of allocating for it up front.
func readSlice[T int32 | int64](r io.Reader, n int) ([]T, error) {
	out := make([]T, 0, min(n, readChunk))
	for len(out) < n {
		chunk := make([]T, min(n-len(out), readChunk))
		if err := binary.Read(r, binary.LittleEndian, chunk); err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}
