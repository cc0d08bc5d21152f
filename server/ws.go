// server/ws.go
// Copyright(c) 2025 airband contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kfowler/airband/coordinator"
	"github.com/kfowler/airband/log"
	"github.com/kfowler/airband/radio"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Outbound messages buffered per client before it is considered too
	// slow and dropped.
	clientSendBuffer = 256

	writeTimeout = 10 * time.Second
)

// hub tracks connected dashboard clients. Each client gets the full state
// once at connect time and partial updates from then on; inbound messages
// are commands applied to the coordinator.
type hub struct {
	coord *coordinator.Coordinator
	lg    *log.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	sub  *coordinator.Subscription
	lg   *log.Logger

	closeOnce sync.Once
}

// wsMessage is the envelope for everything sent to a client.
type wsMessage struct {
	Type string `json:"type"` // "state" or "update"
	Data any    `json:"data"`
}

// wsCommand is the envelope for everything received from a client. Fields
// beyond Type are interpreted per command; unused ones are ignored.
type wsCommand struct {
	Type     string               `json:"type"`
	ID       string               `json:"id,omitempty"`
	Fraction float64              `json:"fraction,omitempty"`
	Level    float64              `json:"level,omitempty"`
	Enabled  bool                 `json:"enabled,omitempty"`
	Index    int                  `json:"index,omitempty"`
	From     int                  `json:"from,omitempty"`
	To       int                  `json:"to,omitempty"`
	Filter   *radio.SubjectFilter `json:"filter,omitempty"`
}

func newHub(coord *coordinator.Coordinator, lg *log.Logger) *hub {
	return &hub{
		coord:   coord,
		lg:      lg,
		clients: make(map[*client]struct{}),
	}
}

var upgrader = websocket.Upgrader{
	// Dashboards may be served from a different origin than the API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.lg.Errorf("Unable to upgrade websocket: %v", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, clientSendBuffer),
	}
	c.lg = h.lg.With(slog.String("client", c.id), slog.String("remote", r.RemoteAddr))

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ws.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	// Subscribe before snapshotting so no update can fall between the
	// two; a delta the snapshot already reflects is harmless for the
	// client to re-apply.
	c.sub = h.coord.Broadcaster().Subscribe(func(u coordinator.Update) {
		c.enqueue(wsMessage{Type: "update", Data: u})
	})
	c.enqueue(wsMessage{Type: "state", Data: h.coord.State()})

	c.lg.Infof("client connected")

	go c.writePump(h)
	go c.readPump(h)
}

func (h *hub) drop(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	c.close()
}

func (h *hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.sub.Cancel()
		close(c.send)
		c.ws.Close()
	})
}

// enqueue marshals and queues an outbound message without blocking; a
// client that can't keep up gets cut loose rather than backing up the
// broadcaster.
func (c *client) enqueue(msg wsMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		c.lg.Errorf("marshal %s message: %v", msg.Type, err)
		return
	}

	defer func() {
		// Losing a race with close() means sending on a closed channel.
		if recover() != nil {
			c.lg.Debugf("dropped %s message for closed client", msg.Type)
		}
	}()

	select {
	case c.send <- b:
	default:
		c.lg.Warnf("client too slow; disconnecting")
		c.ws.Close() // readPump will notice and drop the client
	}
}

func (c *client) writePump(h *hub) {
	defer c.lg.CatchAndReportCrash()

	for b := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
			c.lg.Debugf("write: %v", err)
			h.drop(c)
			return
		}
	}
}

func (c *client) readPump(h *hub) {
	defer c.lg.CatchAndReportCrash()
	defer h.drop(c)

	for {
		var cmd wsCommand
		if err := c.ws.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure,
				websocket.CloseGoingAway) {
				c.lg.Warnf("read: %v", err)
			} else {
				c.lg.Infof("client disconnected")
			}
			return
		}
		c.dispatch(h, cmd)
	}
}

func (c *client) dispatch(h *hub, cmd wsCommand) {
	c.lg.Debug("command", slog.String("type", cmd.Type))

	switch cmd.Type {
	case "play":
		c.coordPlay(h, cmd)
	case "pause":
		h.coord.Pause()
	case "resume":
		h.coord.Resume()
	case "stop":
		h.coord.Stop()
	case "seek":
		h.coord.Seek(cmd.ID, cmd.Fraction)
	case "setVolume":
		h.coord.SetVolume(cmd.Level)
	case "toggleMute":
		h.coord.ToggleMute()
	case "setAutoplay":
		h.coord.SetAutoplay(cmd.Enabled)
	case "setSubjectFilter":
		h.coord.SetSubjectFilter(cmd.Filter)
	case "removeFromQueue":
		h.coord.RemoveFromQueue(cmd.Index)
	case "clearQueue":
		h.coord.ClearQueue()
	case "reorderQueue":
		h.coord.ReorderQueue(cmd.From, cmd.To)
	case "retryConnection":
		if err := h.coord.RetryConnection(); err != nil {
			c.lg.Warnf("retry connection: %v", err)
		}
	default:
		c.lg.Warnf("unknown command %q", cmd.Type)
	}
}

func (c *client) coordPlay(h *hub, cmd wsCommand) {
	if cmd.Enabled {
		h.coord.PlayAndEnableAutoplay(cmd.ID)
	} else {
		h.coord.Play(cmd.ID)
	}
}
