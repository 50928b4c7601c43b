// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package process_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/OpenPSG/measpike/bxr"
	"github.com/OpenPSG/measpike/internal/process"
	"github.com/OpenPSG/measpike/internal/synth"
	"github.com/OpenPSG/measpike/spike"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryLedger struct {
	mu       sync.Mutex
	outcomes []process.Outcome
}

func (l *memoryLedger) Processed(_ context.Context, path string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, o := range l.outcomes {
		if o.Path == path && o.Err == nil {
			return true, nil
		}
	}
	return false, nil
}

func (l *memoryLedger) Record(_ context.Context, o process.Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.outcomes = append(l.outcomes, o)
	return nil
}

func writeFile(t *testing.T, path string, write func(f *os.File) error) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, write(f))
	require.NoError(t, f.Close())
}

// inputFolder holds a synthetic MEA recording, the same recording as EDF, a
// corrupt file and a subdirectory.
func inputFolder(t *testing.T, rec *synth.Recording) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "input")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))

	writeFile(t, filepath.Join(dir, "culture.mea"), func(f *os.File) error {
		return rec.WriteMEA(f)
	})
	writeFile(t, filepath.Join(dir, "culture_edf.edf"), func(f *os.File) error {
		return rec.WriteEDF(f, time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC))
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.mea"), []byte("not a recording"), 0o644))

	return dir
}

func readResult(t *testing.T, path string) bxr.Result {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, f.Close())
	})

	res, err := bxr.Read(f)
	require.NoError(t, err)
	return res
}

func TestProcessFile(t *testing.T) {
	rec := generate(t, 1)
	dir := inputFolder(t, rec)
	out := filepath.Join(t.TempDir(), "output")

	p := newProcessor(t)
	b := process.NewBatch(p, out, process.WithBatchLogger(discardLogger()))

	o, err := b.ProcessFile(context.Background(), filepath.Join(dir, "culture.mea"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "culture.mea.bxr"), o.Output)
	assert.Equal(t, 16, o.Channels)
	assert.Equal(t, 10000, o.Frames)
	assert.Equal(t, process.ModeSerial, o.Mode)

	want, err := p.Run(context.Background(), rec)
	require.NoError(t, err)

	res := readResult(t, o.Output)
	assert.Equal(t, spike.Aggregate(want), res.Events)
	assert.Equal(t, want.Total(), o.Spikes)
	assert.Equal(t, 10000.0, res.SamplingRate)
	assert.Equal(t, rec.Metadata().MinVolt, res.MinAnalogValue)
	assert.Equal(t, rec.Metadata().MaxVolt, res.MaxAnalogValue)
	assert.Equal(t, bxr.DefaultWell, res.Well)
}

func TestProcessFileCorrupt(t *testing.T) {
	dir := inputFolder(t, generate(t, 0.2))
	ledger := &memoryLedger{}

	b := process.NewBatch(newProcessor(t), t.TempDir(),
		process.WithBatchLogger(discardLogger()),
		process.WithLedger(ledger, false))

	o, err := b.ProcessFile(context.Background(), filepath.Join(dir, "broken.mea"))
	require.Error(t, err)
	assert.Empty(t, o.Output)

	require.Len(t, ledger.outcomes, 1)
	assert.Error(t, ledger.outcomes[0].Err)
}

func TestProcessFolder(t *testing.T) {
	rec := generate(t, 1)
	dir := inputFolder(t, rec)
	out := filepath.Join(t.TempDir(), "output")
	ledger := &memoryLedger{}
	var progress bytes.Buffer

	b := process.NewBatch(newProcessor(t), out,
		process.WithBatchLogger(discardLogger()),
		process.WithLedger(ledger, true),
		process.WithProgress(&progress))

	sum, err := b.ProcessFolder(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 0, sum.Skipped)
	assert.Positive(t, sum.Spikes)
	assert.NotZero(t, progress.Len())

	assert.FileExists(t, filepath.Join(out, "culture.mea.bxr"))
	assert.FileExists(t, filepath.Join(out, "culture_edf.edf.bxr"))
	assert.NoFileExists(t, filepath.Join(out, "broken.mea.bxr"))
	assert.Len(t, ledger.outcomes, 3)

	edfResult := readResult(t, filepath.Join(out, "culture_edf.edf.bxr"))
	assert.Positive(t, edfResult.Events.Len())
	assert.Equal(t, 10000.0, edfResult.SamplingRate)

	// EDF calibration values do not terminate in decimal and are stored with
	// reduced precision.
	edfRec, err := process.OpenRecording(filepath.Join(dir, "culture_edf.edf"))
	require.NoError(t, err)
	md := edfRec.Metadata()
	require.NoError(t, edfRec.Close())
	assert.InEpsilon(t, md.MaxVolt, edfResult.MaxAnalogValue, 1e-12)
	assert.InEpsilon(t, md.MinVolt, edfResult.MinAnalogValue, 1e-12)

	// Successful files are skipped on the next run, the broken one is retried.
	sum, err = b.ProcessFolder(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Processed)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, 1, sum.Failed)
}

func TestProcessFolderCreatesMissingFolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "does", "not", "exist")

	b := process.NewBatch(newProcessor(t), t.TempDir(), process.WithBatchLogger(discardLogger()))

	sum, err := b.ProcessFolder(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, process.Summary{Elapsed: sum.Elapsed}, sum)
	assert.DirExists(t, dir)
}

func TestProcessFolderSameStem(t *testing.T) {
	rec := generate(t, 0.2)
	dir := filepath.Join(t.TempDir(), "input")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range []string{"a.mea", "a.raw"} {
		writeFile(t, filepath.Join(dir, name), func(f *os.File) error {
			return rec.WriteMEA(f)
		})
	}
	out := filepath.Join(t.TempDir(), "output")

	b := process.NewBatch(newProcessor(t), out, process.WithBatchLogger(discardLogger()))

	sum, err := b.ProcessFolder(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Processed)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"a.mea.bxr", "a.raw.bxr"}, names)
}
