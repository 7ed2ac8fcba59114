package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jumepi/polar-h10-health-checker/internal/analysis"
	"github.com/jumepi/polar-h10-health-checker/internal/session"
)

// dialTestWS creates a test server that upgrades to WebSocket and returns
// the server-side connection along with the client side.
func dialTestWS(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- c
	}))
	t.Cleanup(srv.Close)

	clientConn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	select {
	case serverConn := <-connCh:
		return serverConn, clientConn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server-side WebSocket connection")
		return nil, nil
	}
}

func newTestBroadcaster(maxConns int) (*session.Store, *Broadcaster) {
	store := session.NewStore(100)
	return store, NewBroadcaster(store, analysis.DefaultFrameParams(100), time.Hour, maxConns, quietLogger())
}

func readMessage(t *testing.T, conn *websocket.Conn) (MessageType, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type    MessageType     `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg.Type, msg.Payload
}

func TestAddClient_MaxConnections(t *testing.T) {
	_, b := newTestBroadcaster(2)

	for i := 0; i < 2; i++ {
		server, _ := dialTestWS(t)
		_, err := b.AddClient(server)
		require.NoError(t, err)
	}
	server, _ := dialTestWS(t)
	_, err := b.AddClient(server)
	assert.ErrorIs(t, err, ErrTooManyConnections)
	assert.Equal(t, 2, b.ClientCount())
}

func TestAddClient_ZeroMaxConnectionsUnlimited(t *testing.T) {
	_, b := newTestBroadcaster(0)
	for i := 0; i < 10; i++ {
		server, _ := dialTestWS(t)
		_, err := b.AddClient(server)
		require.NoError(t, err)
	}
	assert.Equal(t, 10, b.ClientCount())
}

func TestWritePump_RemovesClientOnWriteError(t *testing.T) {
	_, b := newTestBroadcaster(0)
	server, _ := dialTestWS(t)

	c := &client{conn: server, b: b, send: make(chan []byte, 4)}
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	server.Close()
	c.send <- []byte(`{"type":"test"}`)
	go c.writePump()

	require.Eventually(t, func() bool { return b.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcast_DropsSlowClient(t *testing.T) {
	_, b := newTestBroadcaster(0)
	server, _ := dialTestWS(t)

	// Registered but never drained.
	c := &client{conn: server, b: b, send: make(chan []byte, 1)}
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	b.Broadcast(WSMessage{Type: MsgError, Payload: ErrorPayload{Message: "one"}})
	assert.Equal(t, 1, b.ClientCount())
	b.Broadcast(WSMessage{Type: MsgError, Payload: ErrorPayload{Message: "two"}})
	assert.Equal(t, 0, b.ClientCount())
}

func TestRunSendsFramesOnTick(t *testing.T) {
	store, b := newTestBroadcaster(0)
	b.SetParams(analysis.DefaultFrameParams(100), 20*time.Millisecond)

	server, clientConn := dialTestWS(t)
	_, err := b.AddClient(server)
	require.NoError(t, err)

	typ, _ := readMessage(t, clientConn)
	require.Equal(t, MsgFrame, typ)

	store.AppendWaveform([]int32{1, 2, 3})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	var frame analysis.Frame
	for time.Now().Before(deadline) {
		typ, payload := readMessage(t, clientConn)
		require.Equal(t, MsgFrame, typ)
		require.NoError(t, json.Unmarshal(payload, &frame))
		if frame.SampleCount == 3 {
			break
		}
	}
	assert.Equal(t, uint64(3), frame.SampleCount)
	assert.False(t, frame.Connected)

	cancel()
	require.NoError(t, <-done)
	assert.Zero(t, b.ClientCount())
}

func TestSetParams(t *testing.T) {
	_, b := newTestBroadcaster(0)
	p := analysis.DefaultFrameParams(100)
	p.WindowSeconds = 3

	b.SetParams(p, 250*time.Millisecond)
	assert.Equal(t, 3.0, b.Params().WindowSeconds)
	assert.Equal(t, 250*time.Millisecond, b.Interval())
	assert.Equal(t, 250*time.Millisecond, <-b.retick)

	// Same interval does not queue a retick.
	b.SetParams(p, 250*time.Millisecond)
	select {
	case d := <-b.retick:
		t.Fatalf("unexpected retick %v", d)
	default:
	}
}

func TestFrameUsesConnectedFunc(t *testing.T) {
	store, b := newTestBroadcaster(0)
	store.AppendWaveform(make([]int32, 50))
	b.SetConnectedFunc(func() bool { return true })

	f := b.Frame(context.Background(), 0.2)
	assert.True(t, f.Connected)
	assert.Len(t, f.Amplitudes, 20)
}
