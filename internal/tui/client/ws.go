// Package client talks to a running h10mon server: a websocket for frames
// and a small HTTP client for session actions.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/jumepi/polar-h10-health-checker/internal/analysis"
	"github.com/jumepi/polar-h10-health-checker/internal/ws"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

// WSClient manages the websocket connection to the monitor.
type WSClient struct {
	url   string
	token string

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	pingCtx context.CancelFunc
}

func NewWSClient(url, token string) *WSClient {
	return &WSClient{url: url, token: token}
}

// --- Bubble Tea messages ---

type WSConnectedMsg struct{}

type WSDisconnectedMsg struct{ Err error }

type FrameMsg struct{ Frame analysis.Frame }

type ResetMsg struct{ Payload ws.ResetPayload }

type HealthMsg struct{ Payload ws.HealthPayload }

type ServerErrorMsg struct{ Message string }

type wsMessage struct {
	Type    ws.MessageType  `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Listen returns a command that connects, retrying with backoff until it
// succeeds or ctx is cancelled.
func (c *WSClient) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		delay := reconnectBaseDelay
		for {
			conn, err := c.dial(ctx)
			if err == nil {
				c.mu.Lock()
				if c.pingCtx != nil {
					c.pingCtx()
				}
				pingCtx, pingCancel := context.WithCancel(ctx)
				c.conn = conn
				c.pingCtx = pingCancel
				c.mu.Unlock()

				go c.pingLoop(pingCtx, conn)
				return WSConnectedMsg{}
			}

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			delay = min(delay*2, reconnectMaxDelay)
		}
	}
}

func (c *WSClient) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set(ws.TokenHeader, c.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	return conn, err
}

// ReadLoop returns a command that blocks until the next message the model
// cares about. Start it after WSConnectedMsg and again after each message.
func (c *WSClient) ReadLoop() tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return WSDisconnectedMsg{Err: fmt.Errorf("no connection")}
		}

		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.mu.Lock()
				if c.conn == conn {
					c.conn = nil
				}
				c.mu.Unlock()
				conn.Close()
				return WSDisconnectedMsg{Err: err}
			}
			// Any traffic proves the link is alive.
			_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))

			var msg wsMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if teaMsg := dispatch(msg); teaMsg != nil {
				return teaMsg
			}
		}
	}
}

func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cc := c.conn
			c.mu.Unlock()
			if cc != conn {
				return
			}
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Close drops the current connection, if any.
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pingCtx != nil {
		c.pingCtx()
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func dispatch(msg wsMessage) tea.Msg {
	switch msg.Type {
	case ws.MsgFrame:
		var f analysis.Frame
		if json.Unmarshal(msg.Payload, &f) == nil {
			return FrameMsg{Frame: f}
		}
	case ws.MsgReset:
		var p ws.ResetPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return ResetMsg{Payload: p}
		}
	case ws.MsgHealth:
		var p ws.HealthPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return HealthMsg{Payload: p}
		}
	case ws.MsgError:
		var p ws.ErrorPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return ServerErrorMsg{Message: p.Message}
		}
	}
	return nil
}
