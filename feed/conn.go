// feed/conn.go
// Copyright(c) 2025 airband contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package feed

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/kfowler/airband/log"
	"github.com/kfowler/airband/radio"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// State is where the live connection currently is in its lifecycle.
type State int

const (
	Connecting State = iota
	Connected
	Disconnected
	ReconnectExhausted
	Closed
)

func (s State) String() string {
	return [...]string{"connecting", "connected", "disconnected",
		"reconnect_exhausted", "closed"}[s]
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Status is reported on every connection state transition.
type Status struct {
	State    State `json:"state"`
	Attempts int   `json:"attempts"`
}

func (s Status) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("state", s.State.String()),
		slog.Int("attempts", s.Attempts))
}

// Handler receives the two message kinds the feed carries. Both methods are
// called from the connection's reader goroutine.
type Handler interface {
	Transmission(msg *radio.FeedMessage)
	TransmissionUpdate(msg *radio.FeedMessage)
}

// ReconnectPolicy configures the backoff applied between reconnection
// attempts after an abnormal close.
type ReconnectPolicy struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxAttempts int
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:   time.Second,
		Multiplier:  1.5,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 10,
	}
}

// Delay returns the wait before the n-th reconnection attempt, n starting
// at 1. Non-decreasing in n for any Multiplier >= 1, capped at MaxDelay.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
	if d > p.MaxDelay || d < 0 { // overflow guard for large attempt counts
		d = p.MaxDelay
	}
	return d
}

// Wire envelope shared by both message kinds. Text frames are JSON, binary
// frames are msgpack.
type envelope struct {
	Type string            `json:"type" msgpack:"type"`
	Data radio.FeedMessage `json:"data" msgpack:"data"`
}

const (
	messageNew     = "transmission.new"
	messageUpdated = "transmission.updated"
)

var ErrConnClosed = errors.New("feed: connection closed")

// wsConn is the subset of *websocket.Conn the connection needs; tests
// substitute their own.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	Close() error
}

// Conn owns the persistent live connection to the capture backend and its
// reconnect state machine. Connecting to the endpoint implicitly subscribes
// to the transmission topic; there is no handshake beyond the websocket
// upgrade itself.
type Conn struct {
	url      string
	policy   ReconnectPolicy
	handler  Handler
	onStatus func(Status)
	lg       *log.Logger

	dial func(url string) (wsConn, error)

	mu        sync.Mutex
	ws        wsConn
	state     State
	attempts  int
	gen       int // bumped on every (re)establish; stale readers bail out
	retryTmr  *time.Timer
	closed    bool
}

func NewConn(url string, policy ReconnectPolicy, handler Handler, onStatus func(Status), lg *log.Logger) *Conn {
	return &Conn{
		url:      url,
		policy:   policy,
		handler:  handler,
		onStatus: onStatus,
		lg:       lg,
		state:    Disconnected,
		dial: func(url string) (wsConn, error) {
			ws, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				return nil, err
			}
			return ws, nil
		},
	}
}

func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, Attempts: c.attempts}
}

// Establish opens the connection for the first time.
func (c *Conn) Establish() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	c.attempts = 0
	st := c.establishLocked()
	c.mu.Unlock()

	c.emit(st)
	return nil
}

// Retry resets the attempt counter and re-establishes; it is the manual
// escape from the reconnect_exhausted state.
func (c *Conn) Retry() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	c.attempts = 0
	if c.retryTmr != nil {
		c.retryTmr.Stop()
		c.retryTmr = nil
	}
	st := c.establishLocked()
	c.mu.Unlock()

	c.emit(st)
	return nil
}

// Close shuts the connection down for good. No reconnection is ever
// attempted afterwards.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = Closed
	if c.retryTmr != nil {
		c.retryTmr.Stop()
		c.retryTmr = nil
	}
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	st := Status{State: Closed, Attempts: c.attempts}
	c.mu.Unlock()

	c.emit(st)
}

// establishLocked moves to connecting and kicks off an asynchronous dial.
// Returns the status to emit after the caller drops the lock.
func (c *Conn) establishLocked() Status {
	c.state = Connecting
	c.gen++
	gen := c.gen

	go func() {
		defer c.lg.CatchAndReportCrash()

		ws, err := c.dial(c.url)

		c.mu.Lock()
		if c.closed || gen != c.gen {
			c.mu.Unlock()
			if ws != nil {
				ws.Close()
			}
			return
		}

		if err != nil {
			c.lg.Warnf("%s: dial: %v", c.url, err)
			sts := c.dropLocked()
			c.mu.Unlock()
			c.emit(sts...)
			return
		}

		c.ws = ws
		c.state = Connected
		c.attempts = 0
		st := Status{State: Connected}
		c.mu.Unlock()

		c.emit(st)
		go c.readLoop(ws, gen)
	}()

	return Status{State: Connecting, Attempts: c.attempts}
}

// dropLocked handles an abnormal close: report disconnected, then either
// schedule the next attempt or give up once the attempt cap is exceeded.
func (c *Conn) dropLocked() []Status {
	c.ws = nil
	c.state = Disconnected
	sts := []Status{{State: Disconnected, Attempts: c.attempts}}

	if c.attempts >= c.policy.MaxAttempts {
		c.state = ReconnectExhausted
		sts = append(sts, Status{State: ReconnectExhausted, Attempts: c.attempts})
		return sts
	}

	c.attempts++
	delay := c.policy.Delay(c.attempts)
	c.lg.Infof("feed: reconnect attempt %d in %s", c.attempts, delay)
	c.retryTmr = time.AfterFunc(delay, c.reconnect)
	return sts
}

func (c *Conn) reconnect() {
	c.mu.Lock()
	if c.closed || c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	st := c.establishLocked()
	c.mu.Unlock()

	c.emit(st)
}

func (c *Conn) readLoop(ws wsConn, gen int) {
	defer c.lg.CatchAndReportCrash()

	for {
		ty, data, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.closed || gen != c.gen {
				// Intentional local close or an already-superseded
				// connection; nothing to do.
				c.mu.Unlock()
				return
			}
			c.lg.Warnf("feed: read: %v", err)
			sts := c.dropLocked()
			c.mu.Unlock()
			c.emit(sts...)
			return
		}

		c.dispatch(ty, data)
	}
}

func (c *Conn) dispatch(ty int, data []byte) {
	var env envelope
	switch ty {
	case websocket.TextMessage:
		if err := json.Unmarshal(data, &env); err != nil {
			c.lg.Errorf("feed: %v: %q", err, data)
			return
		}
	case websocket.BinaryMessage:
		if err := msgpack.Unmarshal(data, &env); err != nil {
			c.lg.Errorf("feed: msgpack: %v", err)
			return
		}
	default:
		return
	}

	switch env.Type {
	case messageNew:
		c.handler.Transmission(&env.Data)
	case messageUpdated:
		c.handler.TransmissionUpdate(&env.Data)
	default:
		c.lg.Warnf("feed: unexpected message type %q", env.Type)
	}
}

func (c *Conn) emit(sts ...Status) {
	if c.onStatus == nil {
		return
	}
	for _, st := range sts {
		c.onStatus(st)
	}
}
