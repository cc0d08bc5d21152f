// coordinator/queue_test.go
// Copyright(c) 2025 airband contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package coordinator

import (
	"fmt"
	"testing"
	"time"

	"github.com/kfowler/airband/radio"
)

func newTestQueue(max int, staleness time.Duration) (*autoplayQueue, *time.Time) {
	q := newAutoplayQueue(max, staleness)
	now := time.Date(2025, 7, 14, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	return q, &now
}

func tx(id string, created time.Time) *radio.Transmission {
	return &radio.Transmission{ID: id, CreatedAt: created}
}

func TestQueueEligibility(t *testing.T) {
	q, now := newTestQueue(10, 30*time.Second)

	if q.enqueueIfEligible(tx("t1", *now)) {
		t.Errorf("enqueue should fail while autoplay is disabled")
	}

	q.setEnabled(true)

	// Anything created before enabling is backlog and must be rejected.
	if q.enqueueIfEligible(tx("old", now.Add(-time.Second))) {
		t.Errorf("pre-enable transmission should be rejected")
	}
	// So must anything older than the staleness window.
	*now = now.Add(5 * time.Minute)
	if q.enqueueIfEligible(tx("stale", now.Add(-31*time.Second))) {
		t.Errorf("stale transmission should be rejected")
	}
	if !q.enqueueIfEligible(tx("fresh", now.Add(-29*time.Second))) {
		t.Errorf("fresh transmission should be accepted")
	}
	if q.len() != 1 {
		t.Errorf("queue length %d, expected 1", q.len())
	}
}

func TestQueueEnabledAt(t *testing.T) {
	q, now := newTestQueue(10, 30*time.Second)

	if st := q.status(); st.Enabled || st.EnabledAt != nil {
		t.Errorf("fresh queue should be disabled with no timestamp: %+v", st)
	}

	q.setEnabled(true)
	first := q.enabledAt
	if first.IsZero() {
		t.Errorf("enabling should stamp enabledAt")
	}

	// Re-enabling must not move the stamp.
	*now = now.Add(time.Minute)
	if q.setEnabled(true) {
		t.Errorf("enabling twice should report no change")
	}
	if !q.enabledAt.Equal(first) {
		t.Errorf("enabledAt moved on redundant enable")
	}

	q.setEnabled(false)
	if st := q.status(); st.EnabledAt != nil {
		t.Errorf("disabling should clear enabledAt")
	}

	// A disable/enable cycle gets a new stamp.
	q.setEnabled(true)
	if !q.enabledAt.After(first) {
		t.Errorf("re-enable after disable should stamp a later time")
	}
}

func TestQueueDisableClears(t *testing.T) {
	q, now := newTestQueue(10, 30*time.Second)
	q.setEnabled(true)

	q.enqueueIfEligible(tx("t1", *now))
	q.enqueueIfEligible(tx("t2", *now))
	q.setEnabled(false)
	if q.len() != 0 {
		t.Errorf("disabling should clear the queue, %d items left", q.len())
	}
}

func TestQueueBound(t *testing.T) {
	q, now := newTestQueue(3, 30*time.Second)
	q.setEnabled(true)

	for i := range 5 {
		q.enqueueIfEligible(tx(fmt.Sprintf("t%d", i), *now))
	}

	if q.len() != 3 {
		t.Fatalf("queue length %d, expected 3", q.len())
	}
	// The oldest entries are dropped, never the newest.
	for i, want := range []string{"t2", "t3", "t4"} {
		if got := q.items[i].ID; got != want {
			t.Errorf("item %d is %s, expected %s", i, got, want)
		}
	}
}

func TestQueueDequeueSkipsStale(t *testing.T) {
	q, now := newTestQueue(10, 30*time.Second)
	q.setEnabled(true)

	q.enqueueIfEligible(tx("t1", *now))
	q.enqueueIfEligible(tx("t2", *now))

	// t1 and t2 have been stuck behind other playback for over twice the
	// staleness window by the time we dequeue.
	*now = now.Add(61 * time.Second)
	q.enqueueIfEligible(tx("t3", *now))

	if got := q.dequeueNext(); got == nil || got.ID != "t3" {
		t.Errorf("expected t3 skipping stale entries, got %v", got)
	}
	if got := q.dequeueNext(); got != nil {
		t.Errorf("expected empty queue, got %v", got)
	}
}

func TestQueueSubjectFilter(t *testing.T) {
	q, now := newTestQueue(10, 30*time.Second)
	q.setEnabled(true)
	q.setFilter(&radio.SubjectFilter{Callsign: "UAL123"})

	match := tx("match", *now)
	match.Subjects = []radio.IdentifiedSubject{{Callsign: "ual123"}}
	miss := tx("miss", *now)
	miss.Subjects = []radio.IdentifiedSubject{{Callsign: "DAL1"}}

	if !q.enqueueIfEligible(match) {
		t.Errorf("matching transmission rejected")
	}
	if q.enqueueIfEligible(miss) {
		t.Errorf("non-matching transmission accepted")
	}

	// A zero filter normalizes to no filter at all.
	q.setFilter(&radio.SubjectFilter{})
	if q.filter != nil {
		t.Errorf("zero filter should clear the restriction")
	}
	if !q.enqueueIfEligible(miss) {
		t.Errorf("transmission rejected with no filter set")
	}
}

func TestQueueManualOps(t *testing.T) {
	q, now := newTestQueue(10, 30*time.Second)
	q.setEnabled(true)
	for i := range 4 {
		q.enqueueIfEligible(tx(fmt.Sprintf("t%d", i), *now))
	}

	if !q.reorder(3, 0) {
		t.Errorf("reorder failed")
	}
	if q.items[0].ID != "t3" || q.items[1].ID != "t0" {
		t.Errorf("bad order after reorder: %v", q.snapshot())
	}
	if q.reorder(0, 4) || q.reorder(-1, 0) || q.reorder(1, 1) {
		t.Errorf("out-of-range or no-op reorder should report no change")
	}

	if !q.remove(1) {
		t.Errorf("remove failed")
	}
	if q.len() != 3 || q.items[1].ID != "t1" {
		t.Errorf("bad state after remove: %v", q.snapshot())
	}
	if q.remove(3) {
		t.Errorf("out-of-range remove should report no change")
	}

	if !q.clear() || q.len() != 0 {
		t.Errorf("clear failed")
	}
	if q.clear() {
		t.Errorf("clearing an empty queue should report no change")
	}
}
