// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package ledger keeps a SQLite record of every processed recording.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OpenPSG/measpike/internal/process"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Record is one processing attempt of one file.
type Record struct {
	ID        uint          `gorm:"primaryKey"`
	RunID     string        `gorm:"column:run_id;index"`
	Path      string        `gorm:"column:path;index"`
	Output    string        `gorm:"column:output"`
	Size      int64         `gorm:"column:size"`
	Channels  int           `gorm:"column:channels"`
	Frames    int           `gorm:"column:frames"`
	Spikes    int           `gorm:"column:spikes"`
	Mode      string        `gorm:"column:mode"`
	Elapsed   time.Duration `gorm:"column:elapsed"`
	Error     string        `gorm:"column:error"` // Empty on success
	CreatedAt time.Time     `gorm:"column:created_at"`
}

func (*Record) TableName() string {
	return "records"
}

// Ledger stores records of one run. It implements process.Ledger.
type Ledger struct {
	db    *gorm.DB
	runID string
}

var _ process.Ledger = (*Ledger)(nil)

// Open opens or creates the SQLite database at dsn.
func Open(dsn string) (*Ledger, error) {
	if dsn == "" {
		return nil, errors.New("empty ledger DSN")
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("error opening ledger: %w", err)
	}

	// One writer at a time.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("error opening ledger: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Record{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("error migrating ledger: %w", err)
	}

	return &Ledger{db: db, runID: uuid.NewString()}, nil
}

// RunID identifies the records written through this ledger.
func (l *Ledger) RunID() string {
	return l.runID
}

// Processed reports whether path has been processed successfully before.
func (l *Ledger) Processed(ctx context.Context, path string) (bool, error) {
	var n int64
	err := l.db.WithContext(ctx).Model(&Record{}).
		Where("path = ? AND error = ?", path, "").
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("error querying ledger: %w", err)
	}
	return n > 0, nil
}

// Record stores the outcome of processing one file.
func (l *Ledger) Record(ctx context.Context, o process.Outcome) error {
	r := Record{
		RunID:    l.runID,
		Path:     o.Path,
		Output:   o.Output,
		Size:     o.Size,
		Channels: o.Channels,
		Frames:   o.Frames,
		Spikes:   o.Spikes,
		Mode:     string(o.Mode),
		Elapsed:  o.Elapsed,
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}

	if err := l.db.WithContext(ctx).Create(&r).Error; err != nil {
		return fmt.Errorf("error writing ledger: %w", err)
	}
	return nil
}

// Records returns every record of path, or of all files when path is empty,
// oldest first.
func (l *Ledger) Records(ctx context.Context, path string) ([]Record, error) {
	q := l.db.WithContext(ctx).Order("id")
	if path != "" {
		q = q.Where("path = ?", path)
	}

	var records []Record
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("error querying ledger: %w", err)
	}
	return records, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
