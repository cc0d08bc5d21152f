// coordinator/engine_test.go
// Copyright(c) 2025 airband contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kfowler/airband/log"
	"github.com/kfowler/airband/radio"
)

// fakeSession is a scripted Session; playback never touches the speaker.
type fakeSession struct {
	mu        sync.Mutex
	loadErr   error
	loadDelay time.Duration
	startErr  error
	duration  time.Duration
	position  time.Duration

	loads, starts, pauses, rewinds, closes int
	volume                                 float64
	muted                                  bool
	done                                   func()
}

func (s *fakeSession) Load(ctx context.Context) error {
	s.mu.Lock()
	s.loads++
	delay := s.loadDelay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return s.loadErr
}

func (s *fakeSession) Start(done func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.starts++
	s.done = done
	return nil
}

// complete simulates the clip playing out.
func (s *fakeSession) complete() {
	s.mu.Lock()
	done := s.done
	s.done = nil
	s.mu.Unlock()
	if done != nil {
		done()
	}
}

func (s *fakeSession) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauses++
	s.done = nil
}

func (s *fakeSession) Rewind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rewinds++
	s.position = 0
	s.done = nil
}

func (s *fakeSession) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *fakeSession) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

func (s *fakeSession) SetFraction(f float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = time.Duration(f * float64(s.duration))
	return nil
}

func (s *fakeSession) SetVolume(level float64, muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume, s.muted = level, muted
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSession) counts() (starts, pauses, rewinds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.pauses, s.rewinds
}

// updateSink collects broadcaster updates for assertions.
type updateSink struct {
	ch chan Update
}

func newUpdateSink(b *Broadcaster) *updateSink {
	s := &updateSink{ch: make(chan Update, 256)}
	b.Subscribe(func(u Update) { s.ch <- u })
	return s
}

// waitPlaying drains updates until one reports the given playing id.
func (s *updateSink) waitPlaying(t *testing.T, id string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case u := <-s.ch:
			if u.Playing != nil && u.Playing.ID == id {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for playing id %q", id)
		}
	}
}

type engineEnv struct {
	b        *Broadcaster
	e        *Engine
	sink     *updateSink
	sessions map[string]*fakeSession
	advanced chan struct{}
}

func newEngineEnv(loadTimeout, pollInterval time.Duration) *engineEnv {
	env := &engineEnv{
		b:        NewBroadcaster(50, nil),
		sessions: make(map[string]*fakeSession),
		advanced: make(chan struct{}, 16),
	}
	env.sink = newUpdateSink(env.b)
	env.e = NewEngine(env.b, loadTimeout, pollInterval, 1, nil)
	env.e.SetAdvance(func() { env.advanced <- struct{}{} })
	env.e.newSession = func(tx *radio.Transmission, lg *log.Logger) Session {
		return env.sessions[tx.ID]
	}
	return env
}

func (env *engineEnv) addSession(id string, dur time.Duration) *fakeSession {
	s := &fakeSession{duration: dur}
	env.sessions[id] = s
	return s
}

func (env *engineEnv) waitAdvance(t *testing.T) {
	t.Helper()
	select {
	case <-env.advanced:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for advance")
	}
}

func TestEnginePlayAndFinish(t *testing.T) {
	env := newEngineEnv(time.Second, time.Hour)
	s1 := env.addSession("t1", 5*time.Second)

	env.e.Play(tx("t1", time.Now()), false)
	env.sink.waitPlaying(t, "t1")

	if id := env.e.PlayingID(); id != "t1" {
		t.Errorf("playing id %q, expected t1", id)
	}
	if env.e.Idle() {
		t.Errorf("engine should not be idle while playing")
	}

	s1.complete()
	env.sink.waitPlaying(t, "")
	env.waitAdvance(t)

	if !env.e.Idle() {
		t.Errorf("engine should be idle after the clip finishes")
	}
	// A stale completion from an already-finished session must not
	// re-trigger the chain.
	s1.complete()
	select {
	case <-env.advanced:
		t.Errorf("stale completion advanced the queue")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngineReplayAfterFinish(t *testing.T) {
	env := newEngineEnv(time.Second, time.Hour)
	s1 := env.addSession("t1", 5*time.Second)

	env.e.Play(tx("t1", time.Now()), false)
	env.sink.waitPlaying(t, "t1")
	s1.complete()
	env.sink.waitPlaying(t, "")
	env.waitAdvance(t)

	// Replaying a transmission that already played out must go through the
	// cached session and start playback again, not leave the engine wedged
	// on a drained clip.
	env.e.Play(tx("t1", time.Now()), false)
	env.sink.waitPlaying(t, "t1")

	s1.mu.Lock()
	loads, starts := s1.loads, s1.starts
	s1.mu.Unlock()
	if loads != 1 {
		t.Errorf("replay reloaded the clip, loads=%d", loads)
	}
	if starts != 2 {
		t.Errorf("replay did not restart the session, starts=%d", starts)
	}

	// And the replay ends normally too.
	s1.complete()
	env.sink.waitPlaying(t, "")
	env.waitAdvance(t)
}

func TestEngineAtMostOnePlaying(t *testing.T) {
	env := newEngineEnv(time.Second, time.Hour)
	s1 := env.addSession("t1", 5*time.Second)
	env.addSession("t2", 5*time.Second)

	env.e.Play(tx("t1", time.Now()), false)
	env.sink.waitPlaying(t, "t1")

	env.e.Play(tx("t2", time.Now()), false)
	env.sink.waitPlaying(t, "t2")

	if _, _, rewinds := s1.counts(); rewinds != 1 {
		t.Errorf("previous session not rewound, rewinds=%d", rewinds)
	}
	if id := env.e.PlayingID(); id != "t2" {
		t.Errorf("playing id %q, expected t2", id)
	}

	// t1's completion callback was cleared by the rewind; finishing it now
	// must not disturb t2.
	s1.complete()
	if id := env.e.PlayingID(); id != "t2" {
		t.Errorf("stale session affected playback: playing %q", id)
	}
}

func TestEngineLoadFailureAdvances(t *testing.T) {
	env := newEngineEnv(time.Second, time.Hour)
	s1 := env.addSession("t1", 0)
	s1.loadErr = errors.New("404")

	env.e.Play(tx("t1", time.Now()), true)
	env.waitAdvance(t)

	if !env.e.Idle() {
		t.Errorf("engine should be idle after a failed load")
	}
}

func TestEngineLoadTimeoutAdvances(t *testing.T) {
	env := newEngineEnv(20*time.Millisecond, time.Hour)
	s1 := env.addSession("t1", 0)
	s1.loadDelay = 10 * time.Second

	env.e.Play(tx("t1", time.Now()), true)
	env.waitAdvance(t)

	if !env.e.Idle() {
		t.Errorf("engine should be idle after a load timeout")
	}
}

func TestEngineManualLoadHasNoTimeout(t *testing.T) {
	env := newEngineEnv(20*time.Millisecond, time.Hour)
	s1 := env.addSession("t1", time.Second)
	s1.loadDelay = 100 * time.Millisecond

	// Manual plays are not queue-driven and may take as long as they need.
	env.e.Play(tx("t1", time.Now()), false)
	env.sink.waitPlaying(t, "t1")
}

func TestEngineSeek(t *testing.T) {
	env := newEngineEnv(time.Second, time.Hour)
	s1 := env.addSession("t1", 10*time.Second)

	env.e.Play(tx("t1", time.Now()), false)
	env.sink.waitPlaying(t, "t1")

	env.e.Seek("t1", 0.5)
	deadline := time.After(5 * time.Second)
	for {
		var u Update
		select {
		case u = <-env.sink.ch:
		case <-deadline:
			t.Fatalf("no progress update after seek")
		}
		if u.Progress != nil {
			if u.Progress.ID != "t1" || u.Progress.Percent != 50 {
				t.Errorf("bad progress after seek: %+v", u.Progress)
			}
			break
		}
	}
	if s1.Position() != 5*time.Second {
		t.Errorf("seek moved position to %s, expected 5s", s1.Position())
	}

	// Unknown ids and out-of-range fractions must not blow up.
	env.e.Seek("nope", 0.5)
	env.e.Seek("t1", 1.5)
	if s1.Position() != 10*time.Second {
		t.Errorf("overshooting seek should clamp to the end, got %s", s1.Position())
	}
}

func TestEngineVolumeFanout(t *testing.T) {
	env := newEngineEnv(time.Second, time.Hour)
	s1 := env.addSession("t1", time.Second)
	s2 := env.addSession("t2", time.Second)

	env.e.Play(tx("t1", time.Now()), false)
	env.sink.waitPlaying(t, "t1")
	env.e.Play(tx("t2", time.Now()), false)
	env.sink.waitPlaying(t, "t2")

	env.e.SetVolume(0.25)
	for _, s := range []*fakeSession{s1, s2} {
		s.mu.Lock()
		if s.volume != 0.25 {
			t.Errorf("volume %v not applied to cached session", s.volume)
		}
		s.mu.Unlock()
	}

	if !env.e.ToggleMute() {
		t.Errorf("first toggle should mute")
	}
	s1.mu.Lock()
	if !s1.muted {
		t.Errorf("mute not applied to cached session")
	}
	s1.mu.Unlock()
	if env.e.ToggleMute() {
		t.Errorf("second toggle should unmute")
	}
}

func TestEnginePauseResume(t *testing.T) {
	env := newEngineEnv(time.Second, time.Hour)
	s1 := env.addSession("t1", time.Second)

	env.e.Play(tx("t1", time.Now()), false)
	env.sink.waitPlaying(t, "t1")

	env.e.Pause()
	if _, pauses, _ := s1.counts(); pauses != 1 {
		t.Errorf("session not paused, pauses=%d", pauses)
	}
	env.e.Pause() // already paused; no-op
	if _, pauses, _ := s1.counts(); pauses != 1 {
		t.Errorf("double pause reached the session, pauses=%d", pauses)
	}
	if id := env.e.PlayingID(); id != "t1" {
		t.Errorf("pause cleared the playing id")
	}

	env.e.Resume()
	if starts, _, _ := s1.counts(); starts != 2 {
		t.Errorf("session not restarted, starts=%d", starts)
	}

	// Completion after a pause/resume cycle still ends playback normally.
	s1.complete()
	env.sink.waitPlaying(t, "")
	env.waitAdvance(t)
}

func TestEngineStopPlayback(t *testing.T) {
	env := newEngineEnv(time.Second, time.Hour)
	s1 := env.addSession("t1", time.Second)

	env.e.Play(tx("t1", time.Now()), false)
	env.sink.waitPlaying(t, "t1")

	env.e.StopPlayback()
	env.sink.waitPlaying(t, "")

	if _, _, rewinds := s1.counts(); rewinds != 1 {
		t.Errorf("stop should rewind the session, rewinds=%d", rewinds)
	}
	// Stop is not a natural end; it must not pull the next queued item.
	select {
	case <-env.advanced:
		t.Errorf("stop advanced the queue")
	case <-time.After(50 * time.Millisecond):
	}

	env.e.StopPlayback() // idempotent
	if !env.e.Idle() {
		t.Errorf("engine should be idle after stop")
	}
}

func TestEngineDestroyClosesSessions(t *testing.T) {
	env := newEngineEnv(time.Second, time.Hour)
	s1 := env.addSession("t1", time.Second)

	env.e.Play(tx("t1", time.Now()), false)
	env.sink.waitPlaying(t, "t1")

	env.e.Destroy()
	s1.mu.Lock()
	if s1.closes != 1 {
		t.Errorf("cached session not closed on destroy, closes=%d", s1.closes)
	}
	s1.mu.Unlock()
}
