// coordinator/engine.go
// Copyright(c) 2025 airband contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package coordinator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/kfowler/airband/log"
	"github.com/kfowler/airband/radio"

	lru "github.com/hashicorp/golang-lru/v2"
)

// sessionCacheSize bounds the pool of cached playback sessions. Sessions
// are kept across replays so that duration metadata discovered on load
// doesn't have to be re-fetched; the least recently played are closed once
// the pool fills.
const sessionCacheSize = 128

// Engine owns playback. At most one session is active at any time; playing
// a new transmission stops the previous one first. The engine is the sole
// owner of the session pool.
type Engine struct {
	lg *log.Logger
	b  *Broadcaster

	mu        sync.Mutex
	sessions  *lru.Cache[string, Session]
	playingID string
	current   Session
	paused    bool
	loading   bool
	gen       int // bumped on every start/stop; stale async completions bail out
	pollStop  chan struct{}
	volume    float64
	muted     bool

	// onAdvance continues the autoplay chain after a session ends or
	// fails. It is always invoked without the engine lock held.
	onAdvance func()

	newSession   func(*radio.Transmission, *log.Logger) Session
	loadTimeout  time.Duration
	pollInterval time.Duration
}

func NewEngine(b *Broadcaster, loadTimeout, pollInterval time.Duration, volume float64, lg *log.Logger) *Engine {
	sessions, _ := lru.NewWithEvict[string, Session](sessionCacheSize,
		func(id string, s Session) { s.Close() })

	return &Engine{
		lg:           lg,
		b:            b,
		sessions:     sessions,
		volume:       volume,
		onAdvance:    func() {},
		newSession:   newClipSession,
		loadTimeout:  loadTimeout,
		pollInterval: pollInterval,
	}
}

// SetAdvance installs the queue-continuation hook. Must be called before
// any playback starts.
func (e *Engine) SetAdvance(fn func()) {
	e.onAdvance = fn
}

// Idle reports whether no session is playing or loading.
func (e *Engine) Idle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playingID == "" && !e.loading
}

func (e *Engine) PlayingID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playingID
}

// Play starts playback of t, stopping whatever was playing first. Loading
// happens asynchronously; queue-driven plays carry a load timeout so that
// one unfetchable clip can't stall the chain.
func (e *Engine) Play(t *radio.Transmission, queueDriven bool) {
	e.mu.Lock()
	prevID, stopped := e.stopCurrentLocked()

	sess, ok := e.sessions.Get(t.ID)
	if !ok {
		sess = e.newSession(t, e.lg)
		e.sessions.Add(t.ID, sess)
	}
	e.current = sess
	e.loading = true
	e.gen++
	gen := e.gen
	e.mu.Unlock()

	if stopped {
		e.b.Post(Update{
			Playing:  &PlayingUpdate{},
			Progress: &TrackProgress{ID: prevID},
		})
	}

	go func() {
		defer e.lg.CatchAndReportCrash()

		ctx := context.Background()
		if queueDriven {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.loadTimeout)
			defer cancel()
		}

		err := sess.Load(ctx)
		e.startLoaded(sess, t, gen, err)
	}()
}

func (e *Engine) startLoaded(sess Session, t *radio.Transmission, gen int, err error) {
	e.mu.Lock()
	if gen != e.gen {
		// A newer Play or Stop superseded this load.
		e.mu.Unlock()
		return
	}
	e.loading = false

	if err == nil {
		sess.SetVolume(e.volume, e.muted)
		err = sess.Start(func() { e.finish(gen) })
	}
	if err != nil {
		e.current = nil
		e.gen++
		e.mu.Unlock()

		e.lg.Errorf("%s: playback: %v", t.ID, err)
		e.b.Post(Update{Playing: &PlayingUpdate{}})
		// A bad clip must never stall the pipeline.
		e.onAdvance()
		return
	}

	e.playingID = t.ID
	e.paused = false
	stop := make(chan struct{})
	e.pollStop = stop
	dur := sess.Duration()
	e.mu.Unlock()

	e.b.Post(Update{
		Playing:  &PlayingUpdate{ID: t.ID},
		Duration: &TrackDuration{ID: t.ID, Seconds: dur.Seconds()},
	})
	go e.poll(sess, t.ID, stop)
}

// finish handles a session playing out naturally.
func (e *Engine) finish(gen int) {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	id := e.playingID
	e.playingID = ""
	e.current = nil
	e.paused = false
	if e.pollStop != nil {
		close(e.pollStop)
		e.pollStop = nil
	}
	e.gen++
	e.mu.Unlock()

	e.b.Post(Update{
		Playing:  &PlayingUpdate{},
		Progress: &TrackProgress{ID: id},
	})
	e.onAdvance()
}

// poll publishes playback progress at a fixed interval until stopped. The
// reported position accepts staleness up to one interval.
func (e *Engine) poll(sess Session, id string, stop chan struct{}) {
	defer e.lg.CatchAndReportCrash()

	tick := time.NewTicker(e.pollInterval)
	defer tick.Stop()

	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			dur := sess.Duration()
			if dur <= 0 {
				continue
			}
			pct := float64(sess.Position()) / float64(dur) * 100
			pct = math.Round(math.Min(100, math.Max(0, pct))*10) / 10
			e.b.Post(Update{Progress: &TrackProgress{ID: id, Percent: pct}})
		}
	}
}

// Pause suspends the current session without touching the queue or the
// autoplay flag. The last published progress value stays current.
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.playingID == "" || e.paused {
		e.mu.Unlock()
		return
	}
	e.paused = true
	sess := e.current
	if e.pollStop != nil {
		close(e.pollStop)
		e.pollStop = nil
	}
	e.mu.Unlock()

	sess.Pause()
}

func (e *Engine) Resume() {
	e.mu.Lock()
	if e.playingID == "" || !e.paused {
		e.mu.Unlock()
		return
	}
	e.paused = false
	sess := e.current
	id := e.playingID
	gen := e.gen
	stop := make(chan struct{})
	e.pollStop = stop
	e.mu.Unlock()

	if err := sess.Start(func() { e.finish(gen) }); err != nil {
		e.lg.Errorf("%s: resume: %v", id, err)
		e.finish(gen)
		return
	}
	go e.poll(sess, id, stop)
}

// Seek repositions within a transmission's clip. It is a no-op unless the
// session exists and reports a positive, finite duration.
func (e *Engine) Seek(id string, fraction float64) {
	e.mu.Lock()
	sess, ok := e.sessions.Get(id)
	e.mu.Unlock()
	if !ok {
		return
	}

	dur := sess.Duration()
	if dur <= 0 {
		return
	}
	fraction = math.Min(1, math.Max(0, fraction))
	if err := sess.SetFraction(fraction); err != nil {
		e.lg.Warnf("%s: seek: %v", id, err)
		return
	}
	pct := math.Round(fraction*1000) / 10
	e.b.Post(Update{Progress: &TrackProgress{ID: id, Percent: pct}})
}

// SetVolume applies the level uniformly to every cached session, current
// mute state respected.
func (e *Engine) SetVolume(level float64) {
	e.mu.Lock()
	e.volume = math.Min(1, math.Max(0, level))
	e.applyVolumeLocked()
	e.mu.Unlock()
}

func (e *Engine) ToggleMute() bool {
	e.mu.Lock()
	e.muted = !e.muted
	e.applyVolumeLocked()
	muted := e.muted
	e.mu.Unlock()
	return muted
}

func (e *Engine) applyVolumeLocked() {
	for _, id := range e.sessions.Keys() {
		if sess, ok := e.sessions.Peek(id); ok {
			sess.SetVolume(e.volume, e.muted)
		}
	}
}

// StopPlayback halts the current session and resets its position. The
// autoplay teardown that accompanies the user-facing stop command lives in
// the Coordinator; this only covers the engine's share.
func (e *Engine) StopPlayback() {
	e.mu.Lock()
	id, stopped := e.stopCurrentLocked()
	e.mu.Unlock()

	if stopped {
		e.b.Post(Update{
			Playing:  &PlayingUpdate{},
			Progress: &TrackProgress{ID: id},
		})
	}
}

// stopCurrentLocked tears down the active session (if any): cancels the
// progress poll, invalidates any in-flight load, pauses and rewinds.
// Returns the stopped transmission id and whether anything was stopped.
func (e *Engine) stopCurrentLocked() (string, bool) {
	stopped := e.playingID != "" || e.loading
	id := e.playingID

	if e.pollStop != nil {
		close(e.pollStop)
		e.pollStop = nil
	}
	if e.current != nil {
		e.current.Rewind()
		e.current = nil
	}
	e.playingID = ""
	e.paused = false
	e.loading = false
	e.gen++
	return id, stopped
}

// Destroy closes every cached session. Only the coordinator teardown path
// calls this.
func (e *Engine) Destroy() {
	e.mu.Lock()
	e.stopCurrentLocked()
	e.sessions.Purge() // eviction callback closes each session
	e.mu.Unlock()
}
