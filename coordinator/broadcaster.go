// coordinator/broadcaster.go
// Copyright(c) 2025 airband contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package coordinator

import (
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/kfowler/airband/feed"
	"github.com/kfowler/airband/log"
	"github.com/kfowler/airband/radio"

	"github.com/brunoga/deep"
)

// State is the full mutable state of the coordinator, held centrally so
// that observers have a single source of truth to project from.
type State struct {
	Connection feed.Status           `json:"connection"`
	Autoplay   AutoplayStatus        `json:"autoplay"`
	Queue      []*radio.Transmission `json:"queue"`
	PlayingID  string                `json:"playing_id"`
	Progress   map[string]float64    `json:"progress"`  // transmission id -> 0..100
	Durations  map[string]float64    `json:"durations"` // transmission id -> seconds
	History    []*radio.Transmission `json:"history"`   // newest first
}

type AutoplayStatus struct {
	Enabled   bool                 `json:"enabled"`
	EnabledAt *time.Time           `json:"enabled_at,omitempty"`
	Filter    *radio.SubjectFilter `json:"filter,omitempty"`
}

// Update carries only the fields that changed; observers are never handed a
// full snapshot after their initial subscription, which bounds how much
// recomputation a state change can trigger on their side.
type Update struct {
	Connection *feed.Status          `json:"connection,omitempty"`
	Autoplay   *AutoplayStatus       `json:"autoplay,omitempty"`
	Queue      []*radio.Transmission `json:"queue,omitempty"`
	QueueSet   bool                  `json:"queue_set,omitempty"` // full replacement; without it a clear is indistinguishable from "unchanged"
	Playing    *PlayingUpdate        `json:"playing,omitempty"`
	Progress   *TrackProgress        `json:"progress,omitempty"`
	Duration   *TrackDuration        `json:"duration,omitempty"`
	Added      *radio.Transmission   `json:"added,omitempty"`
	Updated    *radio.Transmission   `json:"updated,omitempty"`
	History    []*radio.Transmission `json:"history,omitempty"`
	HistorySet bool                  `json:"history_set,omitempty"` // full replacement, used when merging historical results
}

type PlayingUpdate struct {
	ID string `json:"id"` // empty when nothing is playing
}

type TrackProgress struct {
	ID      string  `json:"id"`
	Percent float64 `json:"percent"`
}

type TrackDuration struct {
	ID      string  `json:"id"`
	Seconds float64 `json:"seconds"`
}

func (u Update) LogValue() slog.Value {
	var attrs []slog.Attr
	if u.Connection != nil {
		attrs = append(attrs, slog.Any("connection", *u.Connection))
	}
	if u.Autoplay != nil {
		attrs = append(attrs, slog.Bool("autoplay", u.Autoplay.Enabled))
	}
	if u.QueueSet {
		attrs = append(attrs, slog.Int("queue_len", len(u.Queue)))
	}
	if u.Playing != nil {
		attrs = append(attrs, slog.String("playing", u.Playing.ID))
	}
	if u.Progress != nil {
		attrs = append(attrs, slog.Float64("progress", u.Progress.Percent))
	}
	if u.Added != nil {
		attrs = append(attrs, slog.String("added", u.Added.ID))
	}
	if u.Updated != nil {
		attrs = append(attrs, slog.String("updated", u.Updated.ID))
	}
	if u.HistorySet {
		attrs = append(attrs, slog.Int("history_len", len(u.History)))
	}
	return slog.GroupValue(attrs...)
}

// Broadcaster fans state changes out to any number of subscribed observers.
// Dispatch is synchronous and in subscriber-registration order; observers
// must not rely on any ordering relative to one another.
type Broadcaster struct {
	mu          sync.Mutex
	state       State
	subscribers []*Subscription
	historyCap  int
	lg          *log.Logger
}

// Subscription is an observer's handle on the broadcaster; Cancel is
// idempotent.
type Subscription struct {
	b         *Broadcaster
	cb        func(Update)
	source    string
	cancelled bool
}

func (s *Subscription) LogValue() slog.Value {
	return slog.GroupValue(slog.String("source", s.source))
}

func NewBroadcaster(historyCap int, lg *log.Logger) *Broadcaster {
	return &Broadcaster{
		state: State{
			Connection: feed.Status{State: feed.Disconnected},
			Progress:   make(map[string]float64),
			Durations:  make(map[string]float64),
		},
		historyCap: historyCap,
		lg:         lg,
	}
}

// Subscribe registers an observer callback and returns its subscription
// handle. The callback runs synchronously on whatever goroutine triggered
// the state change, so it must not block.
func (b *Broadcaster) Subscribe(cb func(Update)) *Subscription {
	// Record the subscriber's callsite, so that we can more easily debug
	// misbehaving subscribers.
	_, fn, line, _ := runtime.Caller(1)

	sub := &Subscription{
		b:      b,
		cb:     cb,
		source: fmt.Sprintf("%s:%d", fn, line),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers = append(b.subscribers, sub)
	return sub
}

// Cancel removes the subscription; cancelling twice is a no-op.
func (s *Subscription) Cancel() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if s.cancelled {
		return
	}
	s.cancelled = true
	s.b.subscribers = slices.DeleteFunc(s.b.subscribers,
		func(x *Subscription) bool { return x == s })
}

// Post applies a partial update to the held state and dispatches it to all
// subscribers. All coordinator state mutation funnels through here.
func (b *Broadcaster) Post(u Update) {
	b.mu.Lock()
	b.applyLocked(u)
	subs := slices.Clone(b.subscribers)
	b.mu.Unlock()

	b.lg.Debug("posted update", slog.Any("update", u))

	for _, sub := range subs {
		sub.cb(u)
	}
}

func (b *Broadcaster) applyLocked(u Update) {
	if u.Connection != nil {
		b.state.Connection = *u.Connection
	}
	if u.Autoplay != nil {
		b.state.Autoplay = *u.Autoplay
	}
	if u.QueueSet {
		b.state.Queue = slices.Clone(u.Queue)
	}
	if u.Playing != nil {
		b.state.PlayingID = u.Playing.ID
	}
	if u.Progress != nil {
		b.state.Progress[u.Progress.ID] = u.Progress.Percent
	}
	if u.Duration != nil {
		b.state.Durations[u.Duration.ID] = u.Duration.Seconds
	}
	if u.Added != nil {
		b.state.History = append([]*radio.Transmission{u.Added}, b.state.History...)
		if len(b.state.History) > b.historyCap {
			b.state.History = b.state.History[:b.historyCap]
		}
	}
	if u.Updated != nil {
		for i, t := range b.state.History {
			if t.ID == u.Updated.ID {
				b.state.History[i] = u.Updated
				break
			}
		}
	}
	if u.HistorySet {
		b.state.History = slices.Clone(u.History)
	}
}

// Snapshot returns a deep copy of the current state, for bootstrapping a
// newly connected observer before it starts receiving deltas.
func (b *Broadcaster) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, err := deep.Copy(b.state)
	if err != nil {
		// State contains nothing uncopyable; treat this as a programming
		// error rather than trying to recover.
		b.lg.Errorf("state snapshot: %v", err)
		return b.state
	}
	return st
}

// Destroy drops all subscriptions; any later Post is dispatched to no one.
func (b *Broadcaster) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscribers {
		sub.cancelled = true
	}
	b.subscribers = nil
}
