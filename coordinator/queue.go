// coordinator/queue.go
// Copyright(c) 2025 airband contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package coordinator

import (
	"slices"
	"time"

	"github.com/kfowler/airband/radio"
)

// autoplayQueue is the ordered, bounded queue of transmissions pending
// automatic playback. It is not safe for concurrent use; the Coordinator's
// lock serializes access.
type autoplayQueue struct {
	items     []*radio.Transmission
	max       int
	staleness time.Duration

	enabled   bool
	enabledAt time.Time
	filter    *radio.SubjectFilter

	now func() time.Time
}

func newAutoplayQueue(max int, staleness time.Duration) *autoplayQueue {
	return &autoplayQueue{
		max:       max,
		staleness: staleness,
		now:       time.Now,
	}
}

// setEnabled toggles autoplay. enabledAt is stamped exactly on the
// false->true transition and cleared on true->false; disabling also clears
// the queue so a later re-enable doesn't resurrect a stale backlog.
func (q *autoplayQueue) setEnabled(enabled bool) bool {
	if enabled == q.enabled {
		return false
	}
	q.enabled = enabled
	if enabled {
		q.enabledAt = q.now()
	} else {
		q.enabledAt = time.Time{}
		q.items = nil
	}
	return true
}

func (q *autoplayQueue) setFilter(f *radio.SubjectFilter) {
	if f != nil && f.IsZero() {
		f = nil
	}
	q.filter = f
}

func (q *autoplayQueue) status() AutoplayStatus {
	st := AutoplayStatus{Enabled: q.enabled, Filter: q.filter}
	if !q.enabledAt.IsZero() {
		t := q.enabledAt
		st.EnabledAt = &t
	}
	return st
}

// enqueueIfEligible appends t if it qualifies for automatic playback and
// reports whether the queue changed. Transmissions that pre-date enabling
// or exceed the staleness window are rejected so a buffered backlog can't
// flood playback the moment autoplay is switched on.
func (q *autoplayQueue) enqueueIfEligible(t *radio.Transmission) bool {
	if !q.enabled {
		return false
	}
	if !q.enabledAt.IsZero() {
		if t.CreatedAt.Before(q.enabledAt) {
			return false
		}
		if q.now().Sub(t.CreatedAt) > q.staleness {
			return false
		}
	}
	if q.filter != nil && !q.filter.Matches(t) {
		return false
	}

	q.items = append(q.items, t)
	if len(q.items) > q.max {
		// Oldest entries go first, never the newest.
		q.items = q.items[len(q.items)-q.max:]
	}
	return true
}

// dequeueNext pops the head, skipping items that went stale while waiting
// behind other playback. The skip threshold is twice the enqueue window;
// an item stuck in the queue for that long is no longer worth hearing.
func (q *autoplayQueue) dequeueNext() *radio.Transmission {
	for len(q.items) > 0 {
		t := q.items[0]
		q.items = q.items[1:]
		if q.now().Sub(t.CreatedAt) > 2*q.staleness {
			continue
		}
		return t
	}
	return nil
}

func (q *autoplayQueue) remove(index int) bool {
	if index < 0 || index >= len(q.items) {
		return false
	}
	q.items = slices.Delete(q.items, index, index+1)
	return true
}

func (q *autoplayQueue) clear() bool {
	if len(q.items) == 0 {
		return false
	}
	q.items = nil
	return true
}

func (q *autoplayQueue) reorder(from, to int) bool {
	n := len(q.items)
	if from < 0 || from >= n || to < 0 || to >= n || from == to {
		return false
	}
	t := q.items[from]
	q.items = slices.Delete(q.items, from, from+1)
	q.items = slices.Insert(q.items, to, t)
	return true
}

func (q *autoplayQueue) snapshot() []*radio.Transmission {
	return slices.Clone(q.items)
}

func (q *autoplayQueue) len() int { return len(q.items) }
