// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package process runs spike detection over every channel of a recording and
// drives batches of recordings through detection into result files.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/OpenPSG/measpike/mea"
	"github.com/OpenPSG/measpike/spike"
	"golang.org/x/sync/errgroup"
)

// Mode selects how channels and time are partitioned.
type Mode string

const (
	// ModeSerial processes each channel over the whole recording.
	ModeSerial Mode = "serial"
	// ModeSerialWindow processes fixed length, non-overlapping windows in order.
	ModeSerialWindow Mode = "serialWindow"
	// ModeParallel processes whole channels concurrently.
	ModeParallel Mode = "parallel"
)

// DefaultWindow is the window length in seconds for ModeSerialWindow.
const DefaultWindow = 2.0

// ErrUnsupportedExecutionMode is returned for unknown execution modes.
var ErrUnsupportedExecutionMode = errors.New("unsupported execution mode")

// ParseMode parses an execution mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeSerial, ModeSerialWindow, ModeParallel:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedExecutionMode, s)
	}
}

// IsConfigError reports whether err was caused by the configuration rather
// than by the recording being processed.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrUnsupportedExecutionMode) ||
		errors.Is(err, spike.ErrNotImplementedMethod) ||
		errors.Is(err, spike.ErrMissingThresholdConfiguration) ||
		errors.Is(err, spike.ErrInvalidThresholdFactor) ||
		errors.Is(err, spike.ErrInvalidFilterParameters)
}

// Source is a recording that can be read as blocks of frames.
type Source interface {
	Metadata() mea.Metadata
	ReadFrames(start, end int) (*mea.Frames, error)
}

// Processor detects spikes on every channel of a recording.
type Processor struct {
	detector *spike.Detector
	mode     Mode
	window   float64 // Window length in seconds
	workers  int     // Concurrent channels in ModeParallel
	logger   *slog.Logger
}

type Option func(*Processor)

// WithMode sets the execution mode.
func WithMode(mode Mode) Option {
	return func(p *Processor) {
		p.mode = mode
	}
}

// WithWindow sets the window length in seconds used by ModeSerialWindow.
func WithWindow(seconds float64) Option {
	return func(p *Processor) {
		p.window = seconds
	}
}

// WithWorkers bounds the number of channels processed at once in ModeParallel,
// zero means GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(p *Processor) {
		p.workers = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor creates a processor around a detector.
func NewProcessor(detector *spike.Detector, opts ...Option) (*Processor, error) {
	p := &Processor{
		detector: detector,
		mode:     ModeSerial,
		window:   DefaultWindow,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if _, err := ParseMode(string(p.mode)); err != nil {
		return nil, err
	}
	if p.mode == ModeSerialWindow && p.window <= 0 {
		return nil, fmt.Errorf("window length must be positive, got %g", p.window)
	}
	if p.workers <= 0 {
		p.workers = runtime.GOMAXPROCS(0)
	}

	return p, nil
}

// Mode returns the execution mode.
func (p *Processor) Mode() Mode {
	return p.mode
}

// Run detects spikes on every channel of src. Spike positions are absolute
// frame indices.
func (p *Processor) Run(ctx context.Context, src Source) (spike.ChannelSpikes, error) {
	md := src.Metadata()
	if md.SamplingRate <= 0 {
		return nil, fmt.Errorf("invalid sampling rate %g", md.SamplingRate)
	}

	switch p.mode {
	case ModeSerial:
		return p.runSerial(ctx, src, md)
	case ModeSerialWindow:
		return p.runWindowed(ctx, src, md)
	case ModeParallel:
		return p.runParallel(ctx, src, md)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedExecutionMode, p.mode)
	}
}

func (p *Processor) runSerial(ctx context.Context, src Source, md mea.Metadata) (spike.ChannelSpikes, error) {
	frames, err := src.ReadFrames(0, md.RecFrames)
	if err != nil {
		return nil, fmt.Errorf("error reading recording: %w", err)
	}

	cs := spike.NewChannelSpikes(md.Channels())
	if err := p.detectFrames(ctx, cs, frames, md, 0); err != nil {
		return nil, err
	}

	return cs, nil
}

// runWindowed drops a trailing window shorter than the window length.
func (p *Processor) runWindowed(ctx context.Context, src Source, md mea.Metadata) (spike.ChannelSpikes, error) {
	step := int(md.SamplingRate * p.window)
	if step <= 0 {
		return nil, fmt.Errorf("window of %g seconds is shorter than one frame", p.window)
	}

	cs := spike.NewChannelSpikes(md.Channels())
	for start := 0; start+step <= md.RecFrames; start += step {
		p.logger.Debug("processing window", "window_start", start, "window_frames", step)

		frames, err := src.ReadFrames(start, start+step)
		if err != nil {
			return nil, fmt.Errorf("error reading window at frame %d: %w", start, err)
		}

		if err := p.detectFrames(ctx, cs, frames, md, int64(start)); err != nil {
			return nil, fmt.Errorf("window at frame %d: %w", start, err)
		}
	}

	return cs, nil
}

func (p *Processor) runParallel(ctx context.Context, src Source, md mea.Metadata) (spike.ChannelSpikes, error) {
	frames, err := src.ReadFrames(0, md.RecFrames)
	if err != nil {
		return nil, fmt.Errorf("error reading recording: %w", err)
	}

	cal := calibration(md)
	results := make([][]int, md.Channels())

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for ch := range results {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			spikes, err := p.detector.Run(spike.ToAnalog(cal, frames.Channel(ch)), md.SamplingRate)
			if err != nil {
				return fmt.Errorf("channel %d: %w", ch, err)
			}
			results[ch] = spikes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cs := spike.NewChannelSpikes(md.Channels())
	for ch, spikes := range results {
		cs.Add(ch, 0, spikes)
	}

	return cs, nil
}

func (p *Processor) detectFrames(ctx context.Context, cs spike.ChannelSpikes, frames *mea.Frames, md mea.Metadata, offset int64) error {
	cal := calibration(md)
	for ch := 0; ch < frames.Channels(); ch++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		spikes, err := p.detector.Run(spike.ToAnalog(cal, frames.Channel(ch)), md.SamplingRate)
		if err != nil {
			return fmt.Errorf("channel %d: %w", ch, err)
		}
		cs.Add(ch, offset, spikes)
	}
	return nil
}

func calibration(md mea.Metadata) spike.Calibration {
	return spike.Calibration{
		BitDepth:        md.BitDepth,
		MaxVolt:         md.MaxVolt,
		MinVolt:         md.MinVolt,
		SignalInversion: md.SignalInversion,
	}
}
