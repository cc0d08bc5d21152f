// coordinator/coordinator.go
// Copyright(c) 2025 airband contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kfowler/airband/feed"
	"github.com/kfowler/airband/log"
	"github.com/kfowler/airband/radio"
)

// Config carries the tunables for a Coordinator. Zero values are filled in
// with the defaults below; the feed URL is the only required field.
type Config struct {
	FeedURL   string
	Reconnect feed.ReconnectPolicy

	// HistoryBaseURL is the REST endpoint for seeding recent transmissions
	// at startup; empty disables seeding.
	HistoryBaseURL string
	SeedHours      int
	SeedLimit      int

	QueueSize    int
	HistorySize  int
	Staleness    time.Duration
	LoadTimeout  time.Duration
	PollInterval time.Duration
	Volume       float64
}

const (
	defaultQueueSize    = 10
	defaultHistorySize  = 50
	defaultStaleness    = 30 * time.Second
	defaultLoadTimeout  = 10 * time.Second
	defaultPollInterval = 100 * time.Millisecond
	defaultSeedHours    = 2
)

func (c *Config) fillDefaults() {
	if c.Reconnect == (feed.ReconnectPolicy{}) {
		c.Reconnect = feed.DefaultReconnectPolicy()
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.Staleness <= 0 {
		c.Staleness = defaultStaleness
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = defaultLoadTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.SeedHours <= 0 {
		c.SeedHours = defaultSeedHours
	}
	if c.SeedLimit <= 0 {
		c.SeedLimit = c.HistorySize
	}
	if c.Volume <= 0 || c.Volume > 1 {
		c.Volume = 1
	}
}

// Coordinator owns the live feed connection, the recent-transmission
// buffer, the autoplay queue, and the playback engine, and funnels every
// state change through a single Broadcaster. All command methods are safe
// for concurrent use.
type Coordinator struct {
	cfg Config
	lg  *log.Logger

	b      *Broadcaster
	engine *Engine
	conn   *feed.Conn

	mu      sync.Mutex
	queue   *autoplayQueue
	history *historyBuffer
	closed  bool

	seedCancel context.CancelFunc
	seedClient *feed.HistoryClient
}

func New(cfg Config, lg *log.Logger) *Coordinator {
	cfg.fillDefaults()

	b := NewBroadcaster(cfg.HistorySize, lg)
	c := &Coordinator{
		cfg:     cfg,
		lg:      lg,
		b:       b,
		engine:  NewEngine(b, cfg.LoadTimeout, cfg.PollInterval, cfg.Volume, lg),
		queue:   newAutoplayQueue(cfg.QueueSize, cfg.Staleness),
		history: newHistoryBuffer(cfg.HistorySize),
	}
	c.engine.SetAdvance(c.advance)
	c.conn = feed.NewConn(cfg.FeedURL, cfg.Reconnect, c, c.onConnStatus,
		lg.With(slog.String("component", "feed")))

	if cfg.HistoryBaseURL != "" {
		c.seedClient = feed.NewHistoryClient(cfg.HistoryBaseURL, cfg.LoadTimeout)
	}
	return c
}

// Broadcaster exposes the state stream for observers (the websocket hub,
// the REST handlers).
func (c *Coordinator) Broadcaster() *Broadcaster { return c.b }

func (c *Coordinator) State() State { return c.b.Snapshot() }

// Start opens the live feed and kicks off history seeding in the
// background. It returns immediately; connection state is reported through
// the broadcaster.
func (c *Coordinator) Start() error {
	if err := c.conn.Establish(); err != nil {
		return err
	}

	if c.seedClient != nil {
		ctx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		c.seedCancel = cancel
		c.mu.Unlock()
		go c.seedHistory(ctx)
	}
	return nil
}

// Shutdown tears everything down. Command methods called afterwards are
// no-ops.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.seedCancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.conn.Close()
	c.engine.Destroy()
	c.b.Destroy()

	c.lg.Infof("coordinator shut down")
}

///////////////////////////////////////////////////////////////////////////
// Feed ingestion

// Transmission implements feed.Handler for "transmission.new" events.
func (c *Coordinator) Transmission(msg *radio.FeedMessage) { c.ingest(msg) }

// TransmissionUpdate implements feed.Handler for "transmission.updated"
// events; updates go through the same merge so an update arriving before
// its "new" event still lands.
func (c *Coordinator) TransmissionUpdate(msg *radio.FeedMessage) { c.ingest(msg) }

func (c *Coordinator) ingest(msg *radio.FeedMessage) {
	t := msg.Normalize()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	outcome := c.history.mergeLive(t)
	enqueued := c.queue.enqueueIfEligible(t)
	var queueSnap []*radio.Transmission
	if enqueued {
		queueSnap = c.queue.snapshot()
	}
	c.mu.Unlock()

	u := Update{Queue: queueSnap, QueueSet: enqueued}
	switch outcome {
	case mergeAdded:
		u.Added = t
	case mergeUpdated:
		u.Updated = t
	}
	c.b.Post(u)

	c.lg.Debug("ingested transmission", slog.Any("transmission", t),
		slog.Bool("enqueued", enqueued))

	if enqueued {
		// Start the playback chain if nothing is active; otherwise the
		// engine's advance hook pulls this item when the current one ends.
		c.advance()
	}
}

func (c *Coordinator) onConnStatus(st feed.Status) {
	c.b.Post(Update{Connection: &st})
}

// seedHistory backfills the recent-transmission buffer from the REST API.
// Live transmissions that arrived before the query returned take
// precedence; seeding never overwrites them.
func (c *Coordinator) seedHistory(ctx context.Context) {
	defer c.lg.CatchAndReportCrash()

	res, err := c.seedClient.Recent(ctx, feed.HistoryQuery{
		Hours: c.cfg.SeedHours,
		Limit: c.cfg.SeedLimit,
	})
	if err != nil {
		if ctx.Err() == nil {
			c.lg.Warnf("history seed: %v", err)
		}
		return
	}

	c.mu.Lock()
	if c.closed || ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	var added int
	for i := range res.Transmissions {
		t := res.Transmissions[i].Normalize()
		if c.history.mergeHistorical(t) == mergeAdded {
			added++
		}
	}
	snap := c.history.snapshot()
	c.mu.Unlock()

	if added > 0 {
		c.b.Post(Update{History: snap, HistorySet: true})
	}
	c.lg.Infof("seeded %d historical transmissions (%d returned)",
		added, len(res.Transmissions))
}

///////////////////////////////////////////////////////////////////////////
// Commands

// Play starts manual playback of a transmission from the recent buffer.
// Unknown ids are ignored.
func (c *Coordinator) Play(id string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	t := c.history.byID(id)
	c.mu.Unlock()

	if t == nil {
		c.lg.Warnf("play: unknown transmission %q", id)
		return
	}
	c.engine.Play(t, false)
}

// PlayAndEnableAutoplay plays the given transmission and switches autoplay
// on in one step, so subsequent traffic follows it automatically.
func (c *Coordinator) PlayAndEnableAutoplay(id string) {
	c.SetAutoplay(true)
	c.Play(id)
}

func (c *Coordinator) Pause()  { c.engine.Pause() }
func (c *Coordinator) Resume() { c.engine.Resume() }

// Seek repositions playback of the given transmission to fraction in
// [0,1]. Ignored unless that transmission has a loaded session with a
// known duration.
func (c *Coordinator) Seek(id string, fraction float64) {
	c.engine.Seek(id, fraction)
}

func (c *Coordinator) SetVolume(level float64) { c.engine.SetVolume(level) }
func (c *Coordinator) ToggleMute() bool        { return c.engine.ToggleMute() }

// SetAutoplay enables or disables automatic playback. Disabling stops any
// in-flight load or playback of the current item and clears the queue.
func (c *Coordinator) SetAutoplay(enabled bool) {
	c.mu.Lock()
	changed := c.queue.setEnabled(enabled)
	st := c.queue.status()
	snap := c.queue.snapshot()
	c.mu.Unlock()

	if !changed {
		return
	}
	if !enabled {
		c.engine.StopPlayback()
	}
	c.b.Post(Update{Autoplay: &st, Queue: snap, QueueSet: true})

	c.lg.Infof("autoplay %v", enabled)
}

// SetSubjectFilter restricts autoplay to transmissions involving the given
// subject; nil (or a zero filter) removes the restriction. Already-queued
// items are unaffected.
func (c *Coordinator) SetSubjectFilter(f *radio.SubjectFilter) {
	c.mu.Lock()
	c.queue.setFilter(f)
	st := c.queue.status()
	c.mu.Unlock()

	c.b.Post(Update{Autoplay: &st})
}

// RemoveFromQueue drops the queue entry at index; out-of-range indices are
// ignored. Never affects what is currently playing.
func (c *Coordinator) RemoveFromQueue(index int) {
	c.mutateQueue(func(q *autoplayQueue) bool { return q.remove(index) })
}

func (c *Coordinator) ClearQueue() {
	c.mutateQueue(func(q *autoplayQueue) bool { return q.clear() })
}

// ReorderQueue moves the entry at from to position to.
func (c *Coordinator) ReorderQueue(from, to int) {
	c.mutateQueue(func(q *autoplayQueue) bool { return q.reorder(from, to) })
}

func (c *Coordinator) mutateQueue(op func(*autoplayQueue) bool) {
	c.mu.Lock()
	changed := op(c.queue)
	snap := c.queue.snapshot()
	c.mu.Unlock()

	if changed {
		c.b.Post(Update{Queue: snap, QueueSet: true})
		c.lg.Debug("queue mutated", log.AnyPointerSlice("queue", snap))
	}
}

// RetryConnection restarts the reconnect cycle after its attempts were
// exhausted.
func (c *Coordinator) RetryConnection() error { return c.conn.Retry() }

// Stop is the hard stop: playback ends, autoplay is switched off, the
// subject filter is dropped, and the queue is emptied.
func (c *Coordinator) Stop() {
	c.engine.StopPlayback()

	c.mu.Lock()
	c.queue.setEnabled(false)
	c.queue.setFilter(nil)
	st := c.queue.status()
	c.mu.Unlock()

	c.b.Post(Update{Autoplay: &st, Queue: nil, QueueSet: true})

	c.lg.Infof("playback stopped")
}

// advance pulls the next queued transmission into the engine. Registered
// as the engine's advance hook, so it runs whenever playback of an item
// ends for any reason; also called after an enqueue while idle.
func (c *Coordinator) advance() {
	c.mu.Lock()
	if c.closed || !c.queue.enabled || !c.engine.Idle() {
		c.mu.Unlock()
		return
	}
	before := c.queue.len()
	t := c.queue.dequeueNext()
	var snap []*radio.Transmission
	changed := c.queue.len() != before
	if changed {
		snap = c.queue.snapshot()
	}
	c.mu.Unlock()

	if changed {
		c.b.Post(Update{Queue: snap, QueueSet: true})
	}
	if t != nil {
		c.engine.Play(t, true)
	}
}
