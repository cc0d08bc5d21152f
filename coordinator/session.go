// coordinator/session.go
// Copyright(c) 2025 airband contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package coordinator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/kfowler/airband/log"
	"github.com/kfowler/airband/radio"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/tosone/minimp3"
)

// Session is one playback session bound to a single transmission's audio.
// Sessions are created lazily on first play and cached across replays so
// that duration metadata discovered on load is not re-fetched.
type Session interface {
	// Load fetches and decodes the clip; after a successful Load the
	// duration is known. Loading an already-loaded session is a no-op.
	Load(ctx context.Context) error

	// Start begins or resumes playback. done is invoked exactly once, from
	// its own goroutine, when the clip plays out; it is not invoked after
	// Pause, Rewind, or Close.
	Start(done func()) error

	Pause()
	Rewind() // pause and reset position to the beginning

	Position() time.Duration
	Duration() time.Duration

	// SetFraction seeks to the given fraction [0,1] of the clip.
	SetFraction(f float64) error

	SetVolume(level float64, muted bool)

	Close() error
}

const (
	speakerSampleRate = beep.SampleRate(44100)
	speakerBufferSize = 250 * time.Millisecond

	// Perceptual volume mapping: slider position is raised to this
	// exponent and scaled into [minVolumeDB, 0].
	volumeCurveExponent = 0.5
	minVolumeDB         = -30.0
)

var (
	speakerOnce sync.Once
	speakerErr  error
)

func initSpeaker() error {
	speakerOnce.Do(func() {
		speakerErr = speaker.Init(speakerSampleRate,
			speakerSampleRate.N(speakerBufferSize))
	})
	return speakerErr
}

var errNotLoaded = errors.New("playback: session not loaded")

// clipSession is the production Session: it fetches the clip over HTTP,
// probes its duration, and plays it through the system speaker.
type clipSession struct {
	t      *radio.Transmission
	client *http.Client
	lg     *log.Logger

	mu       sync.Mutex
	loaded   bool
	closed   bool
	duration time.Duration
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	started  bool // ctrl/volume chain built
	queued   bool // sequence currently sitting in the speaker mixer
	done     func()
}

func newClipSession(t *radio.Transmission, lg *log.Logger) Session {
	return &clipSession{
		t:      t,
		client: &http.Client{},
		lg:     lg,
	}
}

func (s *clipSession) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("playback: session closed")
	}
	if s.loaded {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.t.AudioURL, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", s.t.AudioURL, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	// Quick full decode to discover the clip's true duration before
	// playback starts; the feed doesn't carry it.
	dec, pcm, err := minimp3.DecodeFull(data)
	if err != nil {
		return fmt.Errorf("%s: decode: %w", s.t.AudioURL, err)
	}
	samples := len(pcm) / (2 * dec.Channels)
	s.duration = time.Duration(samples) * time.Second / time.Duration(dec.SampleRate)

	streamer, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	if err != nil {
		return fmt.Errorf("%s: mp3: %w", s.t.AudioURL, err)
	}

	s.streamer = streamer
	s.format = format
	s.loaded = true
	return nil
}

func (s *clipSession) Start(done func()) error {
	if err := initSpeaker(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return errNotLoaded
	}
	s.done = done

	if s.queued {
		// Still in the mixer (paused, or rewound); just unpause.
		speaker.Lock()
		s.ctrl.Paused = false
		speaker.Unlock()
		return nil
	}

	if !s.started {
		var stream beep.Streamer = s.streamer
		if s.format.SampleRate != speakerSampleRate {
			stream = beep.Resample(4, s.format.SampleRate, speakerSampleRate, s.streamer)
		}
		s.ctrl = &beep.Ctrl{Streamer: stream}
		s.volume = &effects.Volume{Streamer: s.ctrl, Base: 2}
		s.started = true
	} else {
		// The mixer dropped the sequence when the clip drained; rewind and
		// queue it again so a replay starts from the top.
		speaker.Lock()
		_ = s.streamer.Seek(0)
		s.ctrl.Paused = false
		speaker.Unlock()
	}

	s.queued = true
	speaker.Play(beep.Seq(s.volume, beep.Callback(func() {
		// The callback runs with the speaker lock held; don't re-enter the
		// engine from here.
		go s.drained()
	})))
	return nil
}

// drained runs when the speaker plays the sequence out; the mixer has
// already removed it, so the next Start must queue a fresh one.
func (s *clipSession) drained() {
	s.mu.Lock()
	s.queued = false
	done := s.done
	s.done = nil
	s.mu.Unlock()

	if done != nil {
		done()
	}
}

func (s *clipSession) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.done = nil
	speaker.Lock()
	s.ctrl.Paused = true
	speaker.Unlock()
}

func (s *clipSession) Rewind() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.done = nil
	speaker.Lock()
	s.ctrl.Paused = true
	_ = s.streamer.Seek(0)
	speaker.Unlock()
}

func (s *clipSession) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return 0
	}
	speaker.Lock()
	pos := s.streamer.Position()
	speaker.Unlock()
	return s.format.SampleRate.D(pos)
}

func (s *clipSession) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

func (s *clipSession) SetFraction(f float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return errNotLoaded
	}
	f = math.Max(0, math.Min(1, f))
	speaker.Lock()
	err := s.streamer.Seek(int(f * float64(s.streamer.Len())))
	speaker.Unlock()
	return err
}

func (s *clipSession) SetVolume(level float64, muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.volume == nil {
		return
	}
	level = math.Max(0, math.Min(1, level))

	speaker.Lock()
	s.volume.Silent = muted || level == 0
	// 6 dB per doubling with Base 2.
	s.volume.Volume = minVolumeDB * (1 - math.Pow(level, volumeCurveExponent)) / 6
	speaker.Unlock()
}

func (s *clipSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.done = nil

	if s.started {
		speaker.Lock()
		s.ctrl.Streamer = nil
		speaker.Unlock()
	}
	if s.streamer != nil {
		return s.streamer.Close()
	}
	return nil
}
