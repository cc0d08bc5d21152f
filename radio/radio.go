// radio/radio.go
// Copyright(c) 2025 airband contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package radio

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// TranscriptionStatus tracks where a transmission's transcript is in the
// upstream transcription pipeline. Values match the wire representation.
type TranscriptionStatus string

const (
	TranscriptionPending    TranscriptionStatus = "pending"
	TranscriptionQueued     TranscriptionStatus = "queued"
	TranscriptionProcessing TranscriptionStatus = "processing"
	TranscriptionCompleted  TranscriptionStatus = "completed"
	TranscriptionFailed     TranscriptionStatus = "failed"
)

func (s TranscriptionStatus) IsValid() bool {
	switch s {
	case TranscriptionPending, TranscriptionQueued, TranscriptionProcessing,
		TranscriptionCompleted, TranscriptionFailed:
		return true
	}
	return false
}

// IdentifiedSubject is one aircraft that the upstream matcher believes is
// referenced by a transmission, either by spoken callsign or by correlating
// with ADS-B traffic.
type IdentifiedSubject struct {
	Callsign    string  `json:"callsign" msgpack:"callsign"`
	ICAOHex     string  `json:"icao_hex" msgpack:"icao_hex"`
	AirlineICAO string  `json:"airline_icao" msgpack:"airline_icao"`
	AirlineName string  `json:"airline_name" msgpack:"airline_name"`
	Type        string  `json:"type" msgpack:"type"`
	Confidence  float64 `json:"confidence" msgpack:"confidence"`
	RawText     string  `json:"raw_text" msgpack:"raw_text"`
}

// Transmission is one captured radio clip plus whatever transcript and
// matched-aircraft metadata has arrived for it so far. Mutable fields are
// updated in place when a later update for the same id comes in.
type Transmission struct {
	ID                   string              `json:"id"`
	Channel              string              `json:"channel"`
	FrequencyMHz         float64             `json:"frequency_mhz"`
	CreatedAt            time.Time           `json:"created_at"`
	AudioURL             string              `json:"audio_url"`
	Filename             string              `json:"filename,omitempty"`
	Format               string              `json:"format,omitempty"`
	FileSizeBytes        int64               `json:"file_size_bytes,omitempty"`
	DurationSeconds      float64             `json:"duration_seconds,omitempty"` // unknown (0) until the clip is loaded
	Transcript           *string             `json:"transcript"`
	TranscriptionStatus  TranscriptionStatus `json:"transcription_status"`
	TranscriptionError   string              `json:"transcription_error,omitempty"`
	TranscriptConfidence float64             `json:"transcript_confidence,omitempty"`
	TranscriptLanguage   string              `json:"transcript_language,omitempty"`
	Subjects             []IdentifiedSubject `json:"identified_subjects"`
}

func (t *Transmission) String() string {
	return fmt.Sprintf("%s: channel %q freq %.3f created %s subjects %d",
		t.ID, t.Channel, t.FrequencyMHz, t.CreatedAt.Format(time.RFC3339), len(t.Subjects))
}

func (t *Transmission) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("id", t.ID),
		slog.String("channel", t.Channel),
		slog.Time("created_at", t.CreatedAt),
	}
	if t.Transcript != nil {
		attrs = append(attrs, slog.String("transcript", *t.Transcript))
	}
	for _, s := range t.Subjects {
		if s.Callsign != "" {
			attrs = append(attrs, slog.String("callsign", s.Callsign))
			break
		}
	}
	return slog.GroupValue(attrs...)
}

// SubjectFilter restricts autoplay eligibility to transmissions that
// reference one specific aircraft, by ICAO hex code or by callsign.
// Matching is exact but case-insensitive.
type SubjectFilter struct {
	ICAOHex  string `json:"icao_hex,omitempty" msgpack:"icao_hex"`
	Callsign string `json:"callsign,omitempty" msgpack:"callsign"`
}

func (f SubjectFilter) IsZero() bool {
	return f.ICAOHex == "" && f.Callsign == ""
}

func (f SubjectFilter) String() string {
	switch {
	case f.ICAOHex != "" && f.Callsign != "":
		return f.Callsign + "/" + f.ICAOHex
	case f.ICAOHex != "":
		return f.ICAOHex
	default:
		return f.Callsign
	}
}

// Matches reports whether any of the transmission's identified subjects
// matches the filter. An empty filter matches nothing.
func (f SubjectFilter) Matches(t *Transmission) bool {
	if f.IsZero() || t == nil {
		return false
	}
	for _, s := range t.Subjects {
		if f.ICAOHex != "" && strings.EqualFold(s.ICAOHex, f.ICAOHex) {
			return true
		}
		if f.Callsign != "" && strings.EqualFold(s.Callsign, f.Callsign) {
			return true
		}
	}
	return false
}
