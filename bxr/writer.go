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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// Write writes a result file.
func Write(w io.Writer, res Result) error {
	if len(res.Events.Times) != len(res.Events.Channels) {
		return fmt.Errorf("got %d spike times but %d channel indices", len(res.Events.Times), len(res.Events.Channels))
	}
	if res.Version == 0 {
		res.Version = Version
	}
	if res.Well == "" {
		res.Well = DefaultWell
	}

	b := make([]byte, headerBytes)
	for i := range b {
		b[i] = ' '
	}

	values := []struct {
		f field
		v string
	}{
		{fieldVersion, strconv.Itoa(res.Version)},
		{fieldSamplingRate, formatFloat(res.SamplingRate, fieldSamplingRate.width)},
		{fieldMinAnalogValue, formatFloat(res.MinAnalogValue, fieldMinAnalogValue.width)},
		{fieldMaxAnalogValue, formatFloat(res.MaxAnalogValue, fieldMaxAnalogValue.width)},
		{fieldSpikeCount, strconv.Itoa(res.Events.Len())},
		{fieldWell, res.Well},
	}
	for _, v := range values {
		if len(v.v) > v.f.width {
			return fmt.Errorf("%s %q does not fit in %d bytes", v.f.name, v.v, v.f.width)
		}
		copy(b[v.f.offset:], v.v)
	}

	writer := bufio.NewWriter(w)
	if _, err := writer.Write(b); err != nil {
		return err
	}
	if res.Events.Len() > 0 {
		if err := binary.Write(writer, binary.LittleEndian, res.Events.Times); err != nil {
			return err
		}
		if err := binary.Write(writer, binary.LittleEndian, res.Events.Channels); err != nil {
			return err
		}
	}

	return writer.Flush()
}

// Create writes a result file named name into dir, creating dir if needed, and
// returns the path of the written file.
func Create(dir, name string, res Result) (string, error) {
	if name == "" {
		name = DefaultFileName
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating output directory: %w", err)
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("error creating result file: %w", err)
	}

	if err := Write(f, res); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("error writing result file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("error closing result file: %w", err)
	}

	return path, nil
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
