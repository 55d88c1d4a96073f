package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sumatoshi-tech/devpulse/pkg/bus"
	"github.com/sumatoshi-tech/devpulse/pkg/event"
)

// Server tuning, per spec.md's fan-out-channel heartbeat/silence rules.
const (
	HeartbeatInterval = 30 * time.Second
	SilenceTimeout    = 60 * time.Second
	sendBufferSize    = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ControlMessage is a client -> server request: {op, args}.
type ControlMessage struct {
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Recognized ControlMessage.Op values.
const (
	OpSubscribe    = "subscribe"
	OpUnsubscribe  = "unsubscribe"
	OpUpdateFilter = "updateFilter"
	OpReplay       = "replay"
)

// subscribeArgs/updateFilterArgs configure delivery for OpSubscribe and
// OpUpdateFilter.
type subscribeArgs struct {
	Filter    *bus.Filter `json:"filter,omitempty"`
	MinGapMs  int64       `json:"minGapMs,omitempty"`
	MaxPerSec int         `json:"maxPerSec,omitempty"`
}

type updateFilterArgs struct {
	Filter *bus.Filter `json:"filter,omitempty"`
}

type replayArgs struct {
	SinceTs *int64 `json:"sinceTs,omitempty"`
}

// ServerMessage is a server -> client message: either a bus event or a
// system notice.
type ServerMessage struct {
	Kind  string       `json:"kind"`
	Event *event.Event `json:"event,omitempty"`
	Type  string       `json:"type,omitempty"`
	Data  any          `json:"data,omitempty"`
}

// Server upgrades HTTP connections to WebSocket and wires each one to
// a Hub subscription.
type Server struct {
	hub    *Hub
	logger *slog.Logger
}

// NewServer constructs a Server backed by hub.
func NewServer(hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{hub: hub, logger: logger}
}

// ServeHTTP upgrades the connection and runs it until the client
// disconnects or goes silent past SilenceTimeout.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newWSConn(uuid.NewString(), conn, s.hub, s.logger)
	c.run()
}

type wsConn struct {
	id     string
	conn   *websocket.Conn
	hub    *Hub
	logger *slog.Logger

	send chan ServerMessage

	mu           sync.Mutex
	lastActivity time.Time
	closed       bool
}

func newWSConn(id string, conn *websocket.Conn, hub *Hub, logger *slog.Logger) *wsConn {
	return &wsConn{
		id:           id,
		conn:         conn,
		hub:          hub,
		logger:       logger,
		send:         make(chan ServerMessage, sendBufferSize),
		lastActivity: time.Now(),
	}
}

func (c *wsConn) run() {
	c.hub.Subscribe(c.id, func(e *event.Event) {
		c.enqueue(ServerMessage{Kind: "event", Event: e})
	}, nil, 0, 0)

	c.enqueue(ServerMessage{Kind: "system", Type: "connected", Data: map[string]string{"id": c.id}})

	go c.writeLoop()
	go c.silenceWatchdog()

	c.readLoop()

	c.hub.Unsubscribe(c.id)
	c.closeOnce()
}

func (c *wsConn) enqueue(msg ServerMessage) {
	select {
	case c.send <- msg:
	default:
		c.logger.Warn("websocket send buffer full, dropping message", "conn", c.id)
	}
}

func (c *wsConn) writeLoop() {
	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.closeOnce()
				return
			}
		case <-heartbeat.C:
			if err := c.conn.WriteJSON(ServerMessage{Kind: "system", Type: "heartbeat"}); err != nil {
				c.closeOnce()
				return
			}
		}

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
	}
}

func (c *wsConn) silenceWatchdog() {
	ticker := time.NewTicker(SilenceTimeout / 4)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		idle := time.Since(c.lastActivity)
		closed := c.closed
		c.mu.Unlock()

		if closed {
			return
		}
		if idle > SilenceTimeout {
			c.closeOnce()
			return
		}
	}
}

func (c *wsConn) readLoop() {
	for {
		var msg ControlMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		c.mu.Lock()
		c.lastActivity = time.Now()
		c.mu.Unlock()

		c.handleControl(msg)
	}
}

func (c *wsConn) handleControl(msg ControlMessage) {
	switch msg.Op {
	case OpSubscribe:
		var args subscribeArgs
		_ = json.Unmarshal(msg.Args, &args)
		c.hub.Subscribe(c.id, func(e *event.Event) {
			c.enqueue(ServerMessage{Kind: "event", Event: e})
		}, args.Filter, time.Duration(args.MinGapMs)*time.Millisecond, args.MaxPerSec)

	case OpUnsubscribe:
		c.hub.Unsubscribe(c.id)

	case OpUpdateFilter:
		var args updateFilterArgs
		_ = json.Unmarshal(msg.Args, &args)
		c.hub.UpdateFilter(c.id, args.Filter)

	case OpReplay:
		var args replayArgs
		_ = json.Unmarshal(msg.Args, &args)
		for _, e := range c.hub.Replay(c.id, args.SinceTs) {
			c.enqueue(ServerMessage{Kind: "event", Event: e})
		}

	default:
		c.logger.Warn("unrecognized control op", "op", msg.Op, "conn", c.id)
	}
}

func (c *wsConn) closeOnce() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	c.conn.Close()
}
