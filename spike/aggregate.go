// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package spike

import "slices"

// ChannelSpikes holds absolute spike sample indices for each channel, indexed 0..n-1.
type ChannelSpikes [][]int64

// NewChannelSpikes allocates an empty spike list for n channels.
func NewChannelSpikes(n int) ChannelSpikes {
	cs := make(ChannelSpikes, n)
	for i := range cs {
		cs[i] = []int64{}
	}
	return cs
}

// Add appends spike indices detected in a signal starting at sample offset.
func (cs ChannelSpikes) Add(channel int, offset int64, spikes []int) {
	for _, s := range spikes {
		cs[channel] = append(cs[channel], offset+int64(s))
	}
}

// Total returns the number of spikes across all channels.
func (cs ChannelSpikes) Total() int {
	var n int
	for _, s := range cs {
		n += len(s)
	}
	return n
}

// Events is the cross-channel spike table, ordered by time.
type Events struct {
	Times    []int64 // Absolute sample index
	Channels []int32 // Channel index
}

// Len returns the number of events.
func (e Events) Len() int {
	return len(e.Times)
}

// Aggregate flattens per-channel spikes into a single table sorted by time.
// Spikes at the same sample keep ascending channel order.
func Aggregate(cs ChannelSpikes) Events {
	type event struct {
		time    int64
		channel int32
	}

	all := make([]event, 0, cs.Total())
	for ch, times := range cs {
		for _, t := range times {
			all = append(all, event{time: t, channel: int32(ch)})
		}
	}

	slices.SortStableFunc(all, func(a, b event) int {
		switch {
		case a.time < b.time:
			return -1
		case a.time > b.time:
			return 1
		default:
			return 0
		}
	})

	e := Events{
		Times:    make([]int64, len(all)),
		Channels: make([]int32, len(all)),
	}
	for i, ev := range all {
		e.Times[i] = ev.time
		e.Channels[i] = ev.channel
	}
	return e
}
