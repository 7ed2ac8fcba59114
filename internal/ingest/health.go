package ingest

import (
	"sync"
	"time"
)

// Status is the health of an ingestion stream or transport.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// DefaultFailureThreshold is the number of consecutive failures that moves
// a stream to degraded, or a transport to failed.
const DefaultFailureThreshold = 3

// Health is a point-in-time view of one stream.
type Health struct {
	Stream              string    `json:"stream"`
	Status              Status    `json:"status"`
	Packets             uint64    `json:"packets"`
	Malformed           uint64    `json:"malformed"`
	Ignored             uint64    `json:"ignored"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastError           string    `json:"lastError,omitempty"`
	LastErrorAt         time.Time `json:"lastErrorAt,omitempty"`
	LastPacketAt        time.Time `json:"lastPacketAt,omitempty"`
}

// streamHealth counts packets and consecutive decode failures for a single
// notification stream. It is written from the transport's goroutine and
// read by the server.
type streamHealth struct {
	mu          sync.Mutex
	name        string
	packets     uint64
	malformed   uint64
	ignored     uint64
	consecutive int
	lastErr     string
	lastErrAt   time.Time
	lastPacket  time.Time
}

func newStreamHealth(name string) *streamHealth {
	return &streamHealth{name: name}
}

func (h *streamHealth) recordSuccess(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.packets++
	h.consecutive = 0
	h.lastPacket = at
}

func (h *streamHealth) recordIgnored(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ignored++
	h.lastPacket = at
}

func (h *streamHealth) recordFailure(err error, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.malformed++
	h.consecutive++
	h.lastErr = err.Error()
	h.lastErrAt = at
}

// snapshot returns a consistent copy under the lock.
func (h *streamHealth) snapshot(threshold int) Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	status := StatusHealthy
	if h.consecutive >= threshold {
		status = StatusDegraded
	}
	return Health{
		Stream:              h.name,
		Status:              status,
		Packets:             h.packets,
		Malformed:           h.malformed,
		Ignored:             h.ignored,
		ConsecutiveFailures: h.consecutive,
		LastError:           h.lastErr,
		LastErrorAt:         h.lastErrAt,
		LastPacketAt:        h.lastPacket,
	}
}

// TransportHealth tracks connection attempts of the active transport.
type TransportHealth struct {
	mu          sync.Mutex
	name        string
	connected   bool
	failures    int
	lastErr     string
	lastErrAt   time.Time
	connectedAt time.Time
}

// TransportState is a point-in-time view of TransportHealth.
type TransportState struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Connected   bool      `json:"connected"`
	Failures    int       `json:"failures"`
	LastError   string    `json:"lastError,omitempty"`
	LastErrorAt time.Time `json:"lastErrorAt,omitempty"`
	ConnectedAt time.Time `json:"connectedAt,omitempty"`
}

// NewTransportHealth creates a tracker for the named transport.
func NewTransportHealth(name string) *TransportHealth {
	return &TransportHealth{name: name}
}

// SetConnected records a successful connection and clears failures.
func (t *TransportHealth) SetConnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	t.failures = 0
	t.connectedAt = time.Now()
}

// SetDisconnected records a disconnect. A nil err is a clean shutdown.
func (t *TransportHealth) SetDisconnected(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	if err != nil {
		t.failures++
		t.lastErr = err.Error()
		t.lastErrAt = time.Now()
	}
}

// Connected reports whether the transport is currently delivering.
func (t *TransportHealth) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// State returns a consistent copy.
func (t *TransportHealth) State(threshold int) TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	status := StatusHealthy
	switch {
	case t.failures >= threshold:
		status = StatusFailed
	case t.failures > 0 || !t.connected:
		status = StatusDegraded
	}
	return TransportState{
		Name:        t.name,
		Status:      status,
		Connected:   t.connected,
		Failures:    t.failures,
		LastError:   t.lastErr,
		LastErrorAt: t.lastErrAt,
		ConnectedAt: t.connectedAt,
	}
}
