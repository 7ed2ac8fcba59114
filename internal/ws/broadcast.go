package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jumepi/polar-h10-health-checker/internal/analysis"
	"github.com/jumepi/polar-h10-health-checker/internal/session"
)

// ErrTooManyConnections is returned by AddClient when the limit is reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

const writeWait = 10 * time.Second

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

// Broadcaster pushes a display frame to every websocket client on each
// refresh tick. Frames are built from a store snapshot, so a slow tick
// never holds up ingestion.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	maxConns int

	store     *session.Store
	logger    *slog.Logger
	connected func() bool

	paramsMu sync.RWMutex
	params   analysis.FrameParams
	interval time.Duration
	retick   chan time.Duration
}

// NewBroadcaster creates a broadcaster over store. maxConns <= 0 means no
// limit.
func NewBroadcaster(store *session.Store, params analysis.FrameParams, interval time.Duration, maxConns int, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Broadcaster{
		clients:   make(map[*client]bool),
		maxConns:  maxConns,
		store:     store,
		logger:    logger.With("component", "ws"),
		connected: func() bool { return false },
		params:    params,
		interval:  interval,
		retick:    make(chan time.Duration, 1),
	}
}

// SetConnectedFunc sets the source of the frame's connected flag.
func (b *Broadcaster) SetConnectedFunc(fn func() bool) {
	b.paramsMu.Lock()
	defer b.paramsMu.Unlock()
	b.connected = fn
}

// SetParams replaces the frame parameters and refresh interval. It takes
// effect on the next tick.
func (b *Broadcaster) SetParams(params analysis.FrameParams, interval time.Duration) {
	b.paramsMu.Lock()
	defer b.paramsMu.Unlock()
	b.params = params
	if interval <= 0 || interval == b.interval {
		return
	}
	b.interval = interval
	// retick holds at most the latest interval.
	select {
	case <-b.retick:
	default:
	}
	select {
	case b.retick <- interval:
	default:
	}
}

// Params returns the current frame parameters.
func (b *Broadcaster) Params() analysis.FrameParams {
	b.paramsMu.RLock()
	defer b.paramsMu.RUnlock()
	return b.params
}

// Interval returns the current refresh interval.
func (b *Broadcaster) Interval() time.Duration {
	b.paramsMu.RLock()
	defer b.paramsMu.RUnlock()
	return b.interval
}

// Frame builds a frame from a fresh snapshot. A positive windowSeconds
// overrides the configured window.
func (b *Broadcaster) Frame(ctx context.Context, windowSeconds float64) analysis.Frame {
	b.paramsMu.RLock()
	p := b.params
	connected := b.connected
	b.paramsMu.RUnlock()

	if windowSeconds > 0 {
		p.WindowSeconds = windowSeconds
	}
	f := analysis.BuildFrame(ctx, b.store.Snapshot(), p)
	f.Connected = connected()
	return f
}

// AddClient registers conn and queues the current frame for it.
func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	c := &client{
		conn: conn,
		b:    b,
		send: make(chan []byte, 16),
	}

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	b.clients[c] = true
	b.mu.Unlock()

	go c.writePump()

	data, err := json.Marshal(WSMessage{Type: MsgFrame, Payload: b.Frame(context.Background(), 0)})
	if err == nil {
		b.trySend(c, data)
	}
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

// Run sends a frame to all clients on every tick until ctx is cancelled,
// then closes every client.
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.Interval())
	defer ticker.Stop()
	defer b.closeAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-b.retick:
			ticker.Reset(d)
			b.logger.Debug("refresh interval changed", "interval", d)
		case <-ticker.C:
			if b.ClientCount() == 0 {
				continue
			}
			b.Broadcast(WSMessage{Type: MsgFrame, Payload: b.Frame(ctx, 0)})
		}
	}
}

// Broadcast sends msg to every client. Clients whose queue is full are
// disconnected.
func (b *Broadcaster) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("broadcast marshal failed", "type", msg.Type, "err", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		if !b.trySend(c, data) {
			b.logger.Warn("ws client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
			b.RemoveClient(c)
		}
	}
}

// trySend queues data without blocking. It reports false only when c is
// still registered and its queue is full. Holding the read lock keeps
// RemoveClient from closing send underneath.
func (b *Broadcaster) trySend(c *client, data []byte) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.clients[c] {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
