// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package conf loads and validates the measpike configuration.
package conf

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/OpenPSG/measpike/internal/process"
	"github.com/OpenPSG/measpike/spike"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned when the configuration cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// DefaultPath is the configuration file used when MEASPIKE_CONFIG is not set.
const DefaultPath = "data/config.yaml"

// Environment variables overriding the configuration file.
const (
	EnvConfig        = "MEASPIKE_CONFIG"
	EnvInputFolder   = "MEASPIKE_INPUT_FOLDER"
	EnvOutputFolder  = "MEASPIKE_OUTPUT_FOLDER"
	EnvExecutionMode = "MEASPIKE_EXECUTION_MODE"
	EnvLogLevel      = "MEASPIKE_LOG_LEVEL"
	EnvLedgerDSN     = "MEASPIKE_LEDGER_DSN"
)

type Config struct {
	InputFolder    string         `yaml:"InputFolder" toml:"InputFolder"`
	OutputFolder   string         `yaml:"OutputFolder" toml:"OutputFolder"`
	ExecutionMode  string         `yaml:"ExecutionMode" toml:"ExecutionMode"`
	SerialWindow   SerialWindow   `yaml:"SerialWindow" toml:"SerialWindow"`
	Parallel       Parallel       `yaml:"Parallel" toml:"Parallel"`
	Filter         Filter         `yaml:"Filter" toml:"Filter"`
	SpikeDetection SpikeDetection `yaml:"SpikeDetection" toml:"SpikeDetection"`
	Log            Log            `yaml:"Log" toml:"Log"`
	Ledger         Ledger         `yaml:"Ledger" toml:"Ledger"`
}

type SerialWindow struct {
	WindowTimeInSec float64 `yaml:"WindowTimeInSec" toml:"WindowTimeInSec"`
}

type Parallel struct {
	// Workers bounds concurrently processed channels, 0 means GOMAXPROCS.
	Workers int `yaml:"Workers" toml:"Workers"`
}

type Filter struct {
	// Type enables the band-pass filter when set to "bandpass".
	Type    string  `yaml:"Type" toml:"Type"`
	LowCut  float64 `yaml:"LowCut" toml:"LowCut"`
	HighCut float64 `yaml:"HighCut" toml:"HighCut"`
	Order   int     `yaml:"Order" toml:"Order"`
}

type SpikeDetection struct {
	Method           string   `yaml:"Method" toml:"Method"`
	FactorPos        *float64 `yaml:"FactorPos" toml:"FactorPos"`
	FactorNeg        *float64 `yaml:"FactorNeg" toml:"FactorNeg"`
	RefractoryPeriod float64  `yaml:"RefractoryPeriod" toml:"RefractoryPeriod"`
}

type Log struct {
	Level  string `yaml:"Level" toml:"Level"`   // debug, info, warn or error
	Format string `yaml:"Format" toml:"Format"` // text or json
}

type Ledger struct {
	// DSN is the SQLite database of processed files, empty disables the ledger.
	DSN           string `yaml:"DSN" toml:"DSN"`
	SkipProcessed bool   `yaml:"SkipProcessed" toml:"SkipProcessed"`
}

// Default returns the configuration used for every key a file leaves out.
func Default() Config {
	det := spike.DefaultOptions()
	return Config{
		InputFolder:   "data/input",
		OutputFolder:  "data/output",
		ExecutionMode: string(process.ModeSerial),
		SerialWindow: SerialWindow{
			WindowTimeInSec: process.DefaultWindow,
		},
		Filter: Filter{
			LowCut:  det.LowCut,
			HighCut: det.HighCut,
			Order:   det.FilterOrder,
		},
		SpikeDetection: SpikeDetection{
			Method:           det.Method,
			RefractoryPeriod: det.RefractoryPeriod,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML or TOML file, chosen by extension, over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("error reading config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("%w: unsupported config file extension %q", ErrInvalid, ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("%w: error parsing %s: %w", ErrInvalid, filepath.Base(path), err)
	}

	return cfg, nil
}

// ApplyEnv overrides the configuration from MEASPIKE_* environment variables.
func (c *Config) ApplyEnv() {
	vars := []struct {
		name string
		dst  *string
	}{
		{EnvInputFolder, &c.InputFolder},
		{EnvOutputFolder, &c.OutputFolder},
		{EnvExecutionMode, &c.ExecutionMode},
		{EnvLogLevel, &c.Log.Level},
		{EnvLedgerDSN, &c.Ledger.DSN},
	}
	for _, v := range vars {
		if s, ok := os.LookupEnv(v.name); ok {
			*v.dst = s
		}
	}
}

// Validate checks the whole configuration once, before any file is processed.
// Every error wraps ErrInvalid.
func (c Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func (c Config) validate() error {
	if c.InputFolder == "" {
		return errors.New("InputFolder must be set")
	}
	if c.OutputFolder == "" {
		return errors.New("OutputFolder must be set")
	}

	mode, err := process.ParseMode(c.ExecutionMode)
	if err != nil {
		return err
	}
	if mode == process.ModeSerialWindow && c.SerialWindow.WindowTimeInSec <= 0 {
		return fmt.Errorf("SerialWindow.WindowTimeInSec must be positive, got %g", c.SerialWindow.WindowTimeInSec)
	}
	if c.Parallel.Workers < 0 {
		return fmt.Errorf("Parallel.Workers must not be negative, got %d", c.Parallel.Workers)
	}

	if err := c.DetectorOptions().Validate(); err != nil {
		return err
	}

	if _, err := c.Log.level(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("Log.Format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// DetectorOptions returns the detection pipeline configuration.
func (c Config) DetectorOptions() spike.Options {
	return spike.Options{
		FilterType:  c.Filter.Type,
		LowCut:      c.Filter.LowCut,
		HighCut:     c.Filter.HighCut,
		FilterOrder: c.Filter.Order,
		Method:      c.SpikeDetection.Method,
		Thresholds: spike.Thresholds{
			FactorPos: c.SpikeDetection.FactorPos,
			FactorNeg: c.SpikeDetection.FactorNeg,
		},
		RefractoryPeriod: c.SpikeDetection.RefractoryPeriod,
	}
}

// ProcessorOptions returns the channel processing configuration.
func (c Config) ProcessorOptions(logger *slog.Logger) []process.Option {
	return []process.Option{
		process.WithMode(process.Mode(c.ExecutionMode)),
		process.WithWindow(c.SerialWindow.WindowTimeInSec),
		process.WithWorkers(c.Parallel.Workers),
		process.WithLogger(logger),
	}
}

func (l Log) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return level, fmt.Errorf("Log.Level: %w", err)
	}
	return level, nil
}

// NewLogger creates a text or JSON logger writing to w.
func (l Log) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := l.level()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	switch l.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", l.Format)
	}
}

// Path returns the configuration file named by MEASPIKE_CONFIG or DefaultPath.
func Path() string {
	if p, ok := os.LookupEnv(EnvConfig); ok && p != "" {
		return p
	}
	return DefaultPath
}

// String summarises the configuration for logging.
func (c Config) String() string {
	factor := func(f *float64) string {
		if f == nil {
			return "unset"
		}
		return strconv.FormatFloat(*f, 'g', -1, 64)
	}
	return fmt.Sprintf("mode=%s filter=%q band=[%g,%g] order=%d method=%s factor_pos=%s factor_neg=%s refractory=%gs",
		c.ExecutionMode, c.Filter.Type, c.Filter.LowCut, c.Filter.HighCut, c.Filter.Order,
		c.SpikeDetection.Method, factor(c.SpikeDetection.FactorPos), factor(c.SpikeDetection.FactorNeg),
		c.SpikeDetection.RefractoryPeriod)
}
