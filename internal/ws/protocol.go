package ws

import (
	"github.com/jumepi/polar-h10-health-checker/internal/analysis"
	"github.com/jumepi/polar-h10-health-checker/internal/ingest"
	"github.com/jumepi/polar-h10-health-checker/internal/session"
)

type MessageType string

const (
	MsgFrame  MessageType = "frame"
	MsgReset  MessageType = "reset"
	MsgHealth MessageType = "health"
	MsgError  MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type FramePayload = analysis.Frame

// ResetPayload announces a new session and summarises the one that ended.
type ResetPayload struct {
	Previous session.Snapshot `json:"previous"`
	Current  session.Snapshot `json:"current"`
}

type HealthPayload struct {
	Transport *ingest.TransportState `json:"transport,omitempty"`
	Streams   []ingest.Health        `json:"streams"`
	Stopped   bool                   `json:"stopped"`
	Clients   int                    `json:"clients"`
	Process   *ProcessStats          `json:"process,omitempty"`
}

type ProcessStats struct {
	PID        int32   `json:"pid"`
	RSSBytes   uint64  `json:"rssBytes"`
	CPUPercent float64 `json:"cpuPercent"`
	Goroutines int     `json:"goroutines"`
	UptimeSec  float64 `json:"uptimeSec"`
}

// SessionPayload is returned by GET /api/session.
type SessionPayload struct {
	Session session.Snapshot `json:"session"`
	Health  HealthPayload    `json:"health"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
