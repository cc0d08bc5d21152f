// coordinator/ingest.go
// Copyright(c) 2025 airband contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package coordinator

import (
	"slices"

	"github.com/kfowler/airband/radio"
)

// historyBuffer is the bounded recent-transmission buffer, newest first and
// unique by id. Not safe for concurrent use; the Coordinator's lock
// serializes access.
type historyBuffer struct {
	items []*radio.Transmission
	max   int
}

type mergeOutcome int

const (
	mergeAdded mergeOutcome = iota
	mergeUpdated
	mergeIgnored
)

func newHistoryBuffer(max int) *historyBuffer {
	return &historyBuffer{max: max}
}

// mergeLive merges a transmission from the live feed. A known id is
// replaced in place (late-arriving transcripts come in this way); a new one
// is prepended and the buffer truncated to its bound. Last write wins on
// mutable fields, which keeps ingestion idempotent under out-of-order
// arrival of "new" vs "updated" events.
func (h *historyBuffer) mergeLive(t *radio.Transmission) mergeOutcome {
	for i, prev := range h.items {
		if prev.ID == t.ID {
			h.items[i] = t
			return mergeUpdated
		}
	}

	h.items = append([]*radio.Transmission{t}, h.items...)
	if len(h.items) > h.max {
		h.items = h.items[:h.max]
	}
	return mergeAdded
}

// mergeHistorical merges a transmission from a historical query. Records
// already present are left alone: live data is never overwritten by
// historical results. New records are inserted in timestamp order.
func (h *historyBuffer) mergeHistorical(t *radio.Transmission) mergeOutcome {
	for _, prev := range h.items {
		if prev.ID == t.ID {
			return mergeIgnored
		}
	}

	idx, _ := slices.BinarySearchFunc(h.items, t,
		func(a, b *radio.Transmission) int {
			return b.CreatedAt.Compare(a.CreatedAt) // newest first
		})
	if idx >= h.max {
		return mergeIgnored
	}
	h.items = slices.Insert(h.items, idx, t)
	if len(h.items) > h.max {
		h.items = h.items[:h.max]
	}
	return mergeAdded
}

func (h *historyBuffer) byID(id string) *radio.Transmission {
	for _, t := range h.items {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (h *historyBuffer) snapshot() []*radio.Transmission {
	return slices.Clone(h.items)
}
