// radio/message.go
// Copyright(c) 2025 airband contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package radio

import (
	"time"
)

// FeedMessage is the wire representation of a transmission as sent by the
// capture backend, both on the live feed and in historical query results.
// Text frames carry it as JSON, binary frames as msgpack; the shape is the
// same either way.
type FeedMessage struct {
	ID                   string              `json:"id" msgpack:"id"`
	ChannelName          string              `json:"channel_name" msgpack:"channel_name"`
	FrequencyMHz         float64             `json:"frequency_mhz" msgpack:"frequency_mhz"`
	Format               string              `json:"format" msgpack:"format"`
	FileSizeBytes        int64               `json:"file_size_bytes" msgpack:"file_size_bytes"`
	TranscriptionStatus  string              `json:"transcription_status" msgpack:"transcription_status"`
	Transcript           *string             `json:"transcript" msgpack:"transcript"`
	TranscriptConfidence float64             `json:"transcript_confidence" msgpack:"transcript_confidence"`
	TranscriptLanguage   string              `json:"transcript_language" msgpack:"transcript_language"`
	TranscriptionError   string              `json:"transcription_error" msgpack:"transcription_error"`
	CreatedAt            string              `json:"created_at" msgpack:"created_at"` // ISO-8601
	Filename             string              `json:"filename" msgpack:"filename"`
	AudioURL             string              `json:"audio_url" msgpack:"audio_url"`
	IdentifiedSubjects   []IdentifiedSubject `json:"identified_subjects" msgpack:"identified_subjects"`
}

// createdAtFormats covers the timestamp variants the backend has been seen
// to emit: RFC3339 with and without sub-second precision, and a bare
// "YYYY-MM-DD HH:MM:SS" form from older captures.
var createdAtFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseCreatedAt parses an ISO-8601ish timestamp string. The zero time is
// returned if nothing matches; callers treat that as "just now".
func ParseCreatedAt(s string) time.Time {
	for _, layout := range createdAtFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Normalize converts a wire message into a Transmission, filling defaults
// for optional fields the backend may omit.
func (m *FeedMessage) Normalize() *Transmission {
	status := TranscriptionStatus(m.TranscriptionStatus)
	if !status.IsValid() {
		status = TranscriptionPending
	}

	created := ParseCreatedAt(m.CreatedAt)
	if created.IsZero() {
		created = time.Now().UTC()
	}

	return &Transmission{
		ID:                   m.ID,
		Channel:              m.ChannelName,
		FrequencyMHz:         m.FrequencyMHz,
		CreatedAt:            created,
		AudioURL:             m.AudioURL,
		Filename:             m.Filename,
		Format:               m.Format,
		FileSizeBytes:        m.FileSizeBytes,
		Transcript:           m.Transcript,
		TranscriptionStatus:  status,
		TranscriptionError:   m.TranscriptionError,
		TranscriptConfidence: m.TranscriptConfidence,
		TranscriptLanguage:   m.TranscriptLanguage,
		Subjects:             m.IdentifiedSubjects,
	}
}
