// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Command measpike detects spikes in multi-electrode array recordings.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/OpenPSG/measpike/bxr"
	"github.com/OpenPSG/measpike/internal/conf"
	"github.com/OpenPSG/measpike/internal/ledger"
	"github.com/OpenPSG/measpike/internal/process"
	"github.com/OpenPSG/measpike/internal/synth"
	"github.com/OpenPSG/measpike/spike"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"
)

const usage = `usage: measpike <command> [flags]

commands:
  run      detect spikes in every recording of the input folder
  detect   detect spikes in the given recordings
  synth    write a synthetic recording
  inspect  describe a recording or result file
`

// Exit codes.
const (
	exitFailure = 1
	exitConfig  = 2
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(exitConfig)
	}
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(ctx, os.Args[2:])
	case "detect":
		err = detectCmd(ctx, os.Args[2:])
	case "synth":
		err = synthCmd(os.Args[2:])
	case "inspect":
		err = inspectCmd(os.Args[2:])
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(exitConfig)
	}

	if err != nil {
		slog.ErrorContext(ctx, "measpike "+os.Args[1], slog.Any("error", xerrors.New(err)))
		if errors.Is(err, conf.ErrInvalid) || process.IsConfigError(err) {
			stop()
			os.Exit(exitConfig)
		}
		stop()
		os.Exit(exitFailure)
	}
}

// loadConfig loads, overrides and validates the configuration. A missing file
// at the default location falls back to the defaults.
func loadConfig(path string) (conf.Config, error) {
	cfg, err := conf.Load(path)
	if errors.Is(err, fs.ErrNotExist) && path == conf.DefaultPath {
		slog.Warn("config file not found, using defaults", "path", path)
		cfg, err = conf.Default(), nil
	}
	if err != nil && !errors.Is(err, conf.ErrInvalid) {
		err = fmt.Errorf("%w: %w", conf.ErrInvalid, err)
	}
	if err != nil {
		return cfg, err
	}

	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

// setup builds the logger and batch from the configuration. The returned
// cleanup closes the ledger, if any.
func setup(cfg conf.Config, outputFolder string, progress bool) (*process.Batch, func(), error) {
	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", conf.ErrInvalid, err)
	}
	slog.SetDefault(logger)

	logger.Info("configuration", "config", cfg.String())

	detector, err := spike.NewDetector(cfg.DetectorOptions())
	if err != nil {
		return nil, nil, err
	}

	p, err := process.NewProcessor(detector, cfg.ProcessorOptions(logger)...)
	if err != nil {
		return nil, nil, err
	}

	opts := []process.BatchOption{process.WithBatchLogger(logger)}
	if progress {
		opts = append(opts, process.WithProgress(os.Stderr))
	}

	cleanup := func() {}
	if cfg.Ledger.DSN != "" {
		l, err := ledger.Open(cfg.Ledger.DSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("ledger opened", "dsn", cfg.Ledger.DSN, "run_id", l.RunID())

		opts = append(opts, process.WithLedger(l, cfg.Ledger.SkipProcessed))
		cleanup = func() {
			if err := l.Close(); err != nil {
				logger.Warn("error closing ledger", "err", err)
			}
		}
	}

	return process.NewBatch(p, outputFolder, opts...), cleanup, nil
}

func runCmd(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := flags.String("config", conf.Path(), "Configuration file (YAML or TOML)")
	progress := flags.Bool("progress", false, "Show a progress bar")
	_ = flags.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	b, cleanup, err := setup(cfg, cfg.OutputFolder, *progress)
	if err != nil {
		return err
	}
	defer cleanup()

	sum, err := b.ProcessFolder(ctx, cfg.InputFolder)
	if err != nil {
		return err
	}
	if sum.Failed > 0 {
		return fmt.Errorf("%d of %d recordings failed", sum.Failed, sum.Failed+sum.Processed)
	}
	return nil
}

func detectCmd(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("detect", flag.ExitOnError)
	configPath := flags.String("config", conf.Path(), "Configuration file (YAML or TOML)")
	output := flags.String("o", "", "Output folder (default from configuration)")
	_ = flags.Parse(args)

	if flags.NArg() == 0 {
		return fmt.Errorf("%w: no recordings given", conf.ErrInvalid)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *output == "" {
		*output = cfg.OutputFolder
	}

	b, cleanup, err := setup(cfg, *output, false)
	if err != nil {
		return err
	}
	defer cleanup()

	var failed int
	for _, path := range flags.Args() {
		o, err := b.ProcessFile(ctx, path)
		if err != nil {
			slog.ErrorContext(ctx, "error processing recording", "file", path, slog.Any("error", xerrors.New(err)))
			failed++
			continue
		}
		fmt.Printf("%s: %s spikes -> %s\n", path, humanize.Comma(int64(o.Spikes)), o.Output)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d recordings failed", failed, flags.NArg())
	}
	return nil
}

func synthCmd(args []string) error {
	cfg := synth.DefaultConfig()

	flags := flag.NewFlagSet("synth", flag.ExitOnError)
	output := flags.String("o", "data/input/synthetic.mea", "Output file, .edf writes EDF")
	flags.IntVar(&cfg.Rows, "rows", cfg.Rows, "Rows of the electrode grid")
	flags.IntVar(&cfg.Cols, "cols", cfg.Cols, "Columns of the electrode grid")
	flags.Float64Var(&cfg.SamplingRate, "rate", cfg.SamplingRate, "Sampling frequency (Hz)")
	flags.Float64Var(&cfg.Duration, "duration", cfg.Duration, "Length of the recording (seconds)")
	flags.Float64Var(&cfg.NoiseRMS, "noise", cfg.NoiseRMS, "Background noise RMS (uV)")
	flags.Float64Var(&cfg.SpikeRate, "firing-rate", cfg.SpikeRate, "Mean firing rate per channel (Hz)")
	flags.Float64Var(&cfg.SpikeAmplitude, "amplitude", cfg.SpikeAmplitude, "Spike amplitude (uV)")
	flags.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed")
	_ = flags.Parse(args)

	rec, err := synth.Generate(cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", conf.ErrInvalid, err)
	}

	if err := os.MkdirAll(filepath.Dir(*output), 0o755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	f, err := os.Create(*output)
	if err != nil {
		return fmt.Errorf("error creating recording: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(*output), ".edf") {
		err = rec.WriteEDF(f, time.Now())
	} else {
		err = rec.WriteMEA(f)
	}
	if err != nil {
		return err
	}

	md := rec.Metadata()
	fmt.Printf("%s: %d channels, %d frames at %g Hz, %s ground truth spikes\n",
		*output, md.Channels(), md.RecFrames, md.SamplingRate, humanize.Comma(int64(rec.Truth().Total())))

	return f.Close()
}

func inspectCmd(args []string) error {
	flags := flag.NewFlagSet("inspect", flag.ExitOnError)
	_ = flags.Parse(args)

	if flags.NArg() == 0 {
		return fmt.Errorf("%w: no files given", conf.ErrInvalid)
	}

	for _, path := range flags.Args() {
		var err error
		if strings.EqualFold(filepath.Ext(path), bxr.Extension) {
			err = inspectResult(path)
		} else {
			err = inspectRecording(path)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func inspectRecording(path string) error {
	rec, err := process.OpenRecording(path)
	if err != nil {
		return err
	}
	defer rec.Close()

	md := rec.Metadata()
	fmt.Printf("%s (%s, %s)\n", path, rec.Format, humanize.Bytes(uint64(rec.Size)))
	fmt.Printf("  chip:          %dx%d (%d channels)\n", md.Rows, md.Cols, md.Channels())
	fmt.Printf("  frames:        %s at %g Hz (%s)\n", humanize.Comma(int64(md.RecFrames)), md.SamplingRate, md.Duration())
	fmt.Printf("  bit depth:     %d\n", md.BitDepth)
	fmt.Printf("  range:         [%g, %g] uV, inversion %g\n", md.MinVolt, md.MaxVolt, md.SignalInversion)
	fmt.Printf("  experiment:    %d\n", md.ExperimentType)
	if err := rec.CheckVersion(); err != nil {
		fmt.Printf("  warning:       %v\n", err)
	}
	return nil
}

func inspectResult(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := bxr.Read(f)
	if err != nil {
		return err
	}

	channels := make(map[int32]int)
	for _, ch := range res.Events.Channels {
		channels[ch]++
	}

	fmt.Printf("%s (version %d, %s)\n", path, res.Version, res.Well)
	fmt.Printf("  spikes:        %s on %d channels\n", humanize.Comma(int64(res.Events.Len())), len(channels))
	fmt.Printf("  sampling rate: %g Hz\n", res.SamplingRate)
	fmt.Printf("  range:         [%g, %g] uV\n", res.MinAnalogValue, res.MaxAnalogValue)
	if n := res.Events.Len(); n > 0 {
		first := time.Duration(float64(res.Events.Times[0]) / res.SamplingRate * float64(time.Second))
		last := time.Duration(float64(res.Events.Times[n-1]) / res.SamplingRate * float64(time.Second))
		fmt.Printf("  span:          %s to %s\n", first, last)
	}
	return nil
}
