// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/OpenPSG/measpike/bxr"
	"github.com/OpenPSG/measpike/edf"
	"github.com/OpenPSG/measpike/mea"
	"github.com/OpenPSG/measpike/spike"
	"github.com/dustin/go-humanize"
	"github.com/mdobak/go-xerrors"
	"github.com/schollz/progressbar/v2"
)

// Recording is an open recording file.
type Recording struct {
	Source
	Path   string
	Size   int64 // File size in bytes
	Format string
	f      *os.File
}

// OpenRecording opens an MEA recording, or an EDF file when the name ends in .edf.
func OpenRecording(path string) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening recording: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("error reading file info: %w", err)
	}

	rec := &Recording{Path: path, Size: fi.Size(), f: f}
	if strings.EqualFold(filepath.Ext(path), ".edf") {
		rec.Format = "edf"
		rec.Source, err = edf.Open(f)
	} else {
		rec.Format = "mea"
		rec.Source, err = mea.Open(f)
	}
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return rec, nil
}

// CheckVersion reports a format version mismatch. Only MEA recordings carry versions.
func (r *Recording) CheckVersion() error {
	if vc, ok := r.Source.(interface{ CheckVersion() error }); ok {
		return vc.CheckVersion()
	}
	return nil
}

// Close closes the underlying file.
func (r *Recording) Close() error {
	return r.f.Close()
}

// Outcome describes the processing of one file.
type Outcome struct {
	Path     string        // Input recording
	Output   string        // Written result file, empty on failure
	Size     int64         // Input size in bytes
	Channels int           // Number of channels
	Frames   int           // Number of frames
	Spikes   int           // Number of detected spikes
	Mode     Mode          // Execution mode used
	Elapsed  time.Duration // Processing time
	Err      error         // Failure, nil on success
}

// Ledger remembers which files have been processed.
type Ledger interface {
	Processed(ctx context.Context, path string) (bool, error)
	Record(ctx context.Context, o Outcome) error
}

// Summary totals a folder run.
type Summary struct {
	Processed int
	Skipped   int
	Failed    int
	Spikes    int
	Elapsed   time.Duration
}

// Batch processes recordings into result files.
type Batch struct {
	processor     *Processor
	outputFolder  string
	ledger        Ledger
	skipProcessed bool
	progress      io.Writer
	logger        *slog.Logger
}

type BatchOption func(*Batch)

// WithLedger records every outcome in l. When skipProcessed is set, files that
// were processed successfully before are skipped by ProcessFolder.
func WithLedger(l Ledger, skipProcessed bool) BatchOption {
	return func(b *Batch) {
		b.ledger = l
		b.skipProcessed = skipProcessed
	}
}

// WithProgress renders a progress bar to w while processing a folder.
func WithProgress(w io.Writer) BatchOption {
	return func(b *Batch) {
		b.progress = w
	}
}

// WithBatchLogger sets the logger.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *Batch) {
		b.logger = logger
	}
}

// NewBatch creates a batch writing result files into outputFolder.
func NewBatch(p *Processor, outputFolder string, opts ...BatchOption) *Batch {
	b := &Batch{
		processor:    p,
		outputFolder: outputFolder,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ProcessFile detects spikes in one recording and writes <basename>.bxr into the
// output folder. The outcome is recorded in the ledger whether or not it failed.
func (b *Batch) ProcessFile(ctx context.Context, path string) (Outcome, error) {
	start := time.Now()

	o, err := b.processFile(ctx, path)
	o.Path = path
	o.Mode = b.processor.Mode()
	o.Elapsed = time.Since(start)
	o.Err = err

	if b.ledger != nil {
		if lerr := b.ledger.Record(ctx, o); lerr != nil {
			b.logger.Warn("error recording outcome", "file", path, "err", lerr)
		}
	}

	if err != nil {
		return o, err
	}

	b.logger.Info("processed recording",
		"file", filepath.Base(path),
		"spikes", o.Spikes,
		"elapsed", o.Elapsed.Round(time.Millisecond),
		"output", o.Output)

	return o, nil
}

func (b *Batch) processFile(ctx context.Context, path string) (Outcome, error) {
	var o Outcome

	rec, err := OpenRecording(path)
	if err != nil {
		return o, err
	}
	defer rec.Close()

	if err := rec.CheckVersion(); err != nil {
		if !errors.Is(err, mea.ErrVersionMismatch) {
			return o, err
		}
		b.logger.Warn("format version mismatch", "file", filepath.Base(path), "err", err)
	}

	md := rec.Metadata()
	o.Size = rec.Size
	o.Channels = md.Channels()
	o.Frames = md.RecFrames

	b.logger.Info("loaded recording",
		"file", filepath.Base(path),
		"format", rec.Format,
		"size", humanize.Bytes(uint64(rec.Size)),
		"channels", md.Channels(),
		"rows", md.Rows,
		"cols", md.Cols,
		"frames", md.RecFrames,
		"sampling_rate", md.SamplingRate,
		"duration", md.Duration(),
		"experiment_type", md.ExperimentType)

	cs, err := b.processor.Run(ctx, rec)
	if err != nil {
		return o, err
	}

	events := spike.Aggregate(cs)
	o.Spikes = events.Len()

	o.Output, err = bxr.Create(b.outputFolder, bxr.FileName(path), bxr.NewResult(md, events))
	if err != nil {
		return o, err
	}

	return o, nil
}

// ProcessFolder processes every regular file in folder, creating the folder if
// it does not exist. A failing file is logged and counted, and the remaining
// files are still processed.
func (b *Batch) ProcessFolder(ctx context.Context, folder string) (Summary, error) {
	start := time.Now()

	if err := os.MkdirAll(folder, 0o755); err != nil {
		return Summary{}, fmt.Errorf("error creating input folder: %w", err)
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		return Summary{}, fmt.Errorf("error reading input folder: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, filepath.Join(folder, e.Name()))
		}
	}

	b.logger.Info("processing folder", "folder", folder, "files", len(files), "mode", b.processor.Mode())

	var bar *progressbar.ProgressBar
	if b.progress != nil && len(files) > 0 {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetWriter(b.progress),
			progressbar.OptionSetDescription("detecting spikes"))
	}

	var sum Summary
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		if skip, err := b.alreadyProcessed(ctx, path); err != nil {
			b.logger.Warn("error checking ledger", "file", path, "err", err)
		} else if skip {
			b.logger.Info("skipping processed recording", "file", filepath.Base(path))
			sum.Skipped++
			b.advance(bar)
			continue
		}

		o, err := b.ProcessFile(ctx, path)
		if err != nil {
			b.logger.ErrorContext(ctx, "error processing recording",
				"file", filepath.Base(path),
				slog.Any("error", xerrors.New(err)))
			sum.Failed++
		} else {
			sum.Processed++
			sum.Spikes += o.Spikes
		}
		b.advance(bar)
	}
	if bar != nil {
		_, _ = fmt.Fprintln(b.progress)
	}

	sum.Elapsed = time.Since(start)

	b.logger.Info("finished folder",
		"folder", folder,
		"processed", sum.Processed,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"spikes", sum.Spikes,
		"elapsed", sum.Elapsed.Round(time.Millisecond))

	return sum, nil
}

func (b *Batch) alreadyProcessed(ctx context.Context, path string) (bool, error) {
	if b.ledger == nil || !b.skipProcessed {
		return false, nil
	}
	return b.ledger.Processed(ctx, path)
}

func (b *Batch) advance(bar *progressbar.ProgressBar) {
	if bar != nil {
		_ = bar.Add(1)
	}
}
