// radio/radio_test.go
// Copyright(c) 2025 airband contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package radio

import (
	"testing"
	"time"
)

func TestSubjectFilterMatches(t *testing.T) {
	tx := &Transmission{
		ID: "t1",
		Subjects: []IdentifiedSubject{
			{Callsign: "UAL123", ICAOHex: "A1B2C3"},
			{Callsign: "N456CD", ICAOHex: "AB12CD"},
		},
	}

	for _, f := range []SubjectFilter{
		{Callsign: "UAL123"},
		{Callsign: "ual123"}, // case-insensitive
		{ICAOHex: "ab12cd"},
		{Callsign: "nope", ICAOHex: "A1B2C3"}, // either field may match
	} {
		if !f.Matches(tx) {
			t.Errorf("filter %s should match", f)
		}
	}

	for _, f := range []SubjectFilter{
		{}, // empty filter matches nothing
		{Callsign: "UAL12"},
		{ICAOHex: "A1B2C"},
		{Callsign: "DAL789"},
	} {
		if f.Matches(tx) {
			t.Errorf("filter %s should not match", f)
		}
	}

	if (SubjectFilter{Callsign: "UAL123"}).Matches(nil) {
		t.Errorf("nil transmission should never match")
	}
	if (SubjectFilter{Callsign: "UAL123"}).Matches(&Transmission{ID: "t2"}) {
		t.Errorf("transmission without subjects should never match")
	}
}

func TestTranscriptionStatusIsValid(t *testing.T) {
	for _, s := range []TranscriptionStatus{TranscriptionPending, TranscriptionQueued,
		TranscriptionProcessing, TranscriptionCompleted, TranscriptionFailed} {
		if !s.IsValid() {
			t.Errorf("%q should be valid", s)
		}
	}
	for _, s := range []TranscriptionStatus{"", "done", "PENDING"} {
		if s.IsValid() {
			t.Errorf("%q should not be valid", s)
		}
	}
}

func TestParseCreatedAt(t *testing.T) {
	want := time.Date(2025, 7, 14, 18, 30, 5, 0, time.UTC)
	for _, s := range []string{
		"2025-07-14T18:30:05Z",
		"2025-07-14T18:30:05.000Z",
		"2025-07-14T18:30:05",
		"2025-07-14 18:30:05",
	} {
		got := ParseCreatedAt(s)
		if !got.Equal(want) {
			t.Errorf("%q parsed to %v, expected %v", s, got, want)
		}
	}

	if !ParseCreatedAt("yesterday-ish").IsZero() {
		t.Errorf("garbage timestamp should parse to the zero time")
	}
}

func TestNormalize(t *testing.T) {
	transcript := "cleared for takeoff"
	m := FeedMessage{
		ID:                  "t1",
		ChannelName:         "Tower",
		FrequencyMHz:        120.5,
		CreatedAt:           "2025-07-14T18:30:05Z",
		AudioURL:            "http://example.com/t1.mp3",
		TranscriptionStatus: "completed",
		Transcript:          &transcript,
		IdentifiedSubjects:  []IdentifiedSubject{{Callsign: "UAL123"}},
	}

	tx := m.Normalize()
	if tx.ID != "t1" || tx.Channel != "Tower" || tx.FrequencyMHz != 120.5 {
		t.Errorf("basic fields not carried over: %s", tx)
	}
	if tx.TranscriptionStatus != TranscriptionCompleted {
		t.Errorf("expected completed status, got %q", tx.TranscriptionStatus)
	}
	if tx.Transcript == nil || *tx.Transcript != transcript {
		t.Errorf("transcript not carried over")
	}
	if len(tx.Subjects) != 1 || tx.Subjects[0].Callsign != "UAL123" {
		t.Errorf("subjects not carried over: %+v", tx.Subjects)
	}

	// Unknown statuses fall back to pending.
	m.TranscriptionStatus = "exploded"
	if tx := m.Normalize(); tx.TranscriptionStatus != TranscriptionPending {
		t.Errorf("expected pending for unknown status, got %q", tx.TranscriptionStatus)
	}

	// An unparseable timestamp becomes "just now."
	m.CreatedAt = "???"
	before := time.Now().UTC()
	tx = m.Normalize()
	if tx.CreatedAt.Before(before) || time.Since(tx.CreatedAt) > time.Minute {
		t.Errorf("expected current time for bad timestamp, got %v", tx.CreatedAt)
	}
}
