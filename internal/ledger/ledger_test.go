// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package ledger_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/OpenPSG/measpike/internal/ledger"
	"github.com/OpenPSG/measpike/internal/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openLedger(t *testing.T, dsn string) *ledger.Ledger {
	t.Helper()

	l, err := ledger.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, l.Close())
	})
	return l
}

func TestLedger(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "ledger.db")
	l := openLedger(t, dsn)

	ok, err := l.Processed(ctx, "data/input/a.mea")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Record(ctx, process.Outcome{
		Path:    "data/input/b.mea",
		Mode:    process.ModeSerial,
		Elapsed: time.Second,
		Err:     errors.New("corrupt or unreadable recording"),
	}))
	require.NoError(t, l.Record(ctx, process.Outcome{
		Path:     "data/input/a.mea",
		Output:   "data/output/a.bxr",
		Size:     1 << 20,
		Channels: 4096,
		Frames:   20000,
		Spikes:   1234,
		Mode:     process.ModeSerialWindow,
		Elapsed:  1500 * time.Millisecond,
	}))

	ok, err = l.Processed(ctx, "data/input/a.mea")
	require.NoError(t, err)
	assert.True(t, ok)

	// A failed attempt does not count as processed.
	ok, err = l.Processed(ctx, "data/input/b.mea")
	require.NoError(t, err)
	assert.False(t, ok)

	records, err := l.Records(ctx, "")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "corrupt or unreadable recording", records[0].Error)
	assert.Equal(t, l.RunID(), records[1].RunID)
	assert.Equal(t, 1234, records[1].Spikes)
	assert.Equal(t, "serialWindow", records[1].Mode)
	assert.Equal(t, 1500*time.Millisecond, records[1].Elapsed)
	assert.False(t, records[1].CreatedAt.IsZero())
}

func TestLedgerAcrossRuns(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "ledger.db")

	first, err := ledger.Open(dsn)
	require.NoError(t, err)
	require.NoError(t, first.Record(ctx, process.Outcome{Path: "x.mea", Output: "x.bxr"}))
	require.NoError(t, first.Close())

	second := openLedger(t, dsn)
	assert.NotEqual(t, first.RunID(), second.RunID())

	ok, err := second.Processed(ctx, "x.mea")
	require.NoError(t, err)
	assert.True(t, ok)

	records, err := second.Records(ctx, "x.mea")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, first.RunID(), records[0].RunID)
}

func TestOpenEmptyDSN(t *testing.T) {
	_, err := ledger.Open("")
	assert.Error(t, err)
}
