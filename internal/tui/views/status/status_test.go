package status

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jumepi/polar-h10-health-checker/internal/ingest"
	"github.com/jumepi/polar-h10-health-checker/internal/ws"
)

func TestViewLinkStates(t *testing.T) {
	m := New()
	m.Width = 100
	assert.Contains(t, m.View(), "Connecting")
	assert.Contains(t, m.View(), "-- bpm")

	m.Linked = true
	assert.Contains(t, m.View(), "No sensor")

	m.Sensor = true
	m.BPM = 71.6
	out := m.View()
	assert.Contains(t, out, "Connected")
	assert.Contains(t, out, " 72 bpm")
}

func TestViewSessionAndHealth(t *testing.T) {
	m := New()
	m.Width = 160
	m.Linked, m.Sensor = true, true
	m.SessionID = "0123456789abcdef"
	m.SampleCount = 420
	m.SetHealth(ws.HealthPayload{
		Transport: &ingest.TransportState{Name: "mqtt", Status: ingest.StatusDegraded},
		Streams: []ingest.Health{
			{Stream: "waveform", Status: ingest.StatusHealthy},
			{Stream: "heart_rate", Status: ingest.StatusFailed},
		},
		Stopped: true,
	})

	out := m.View()
	assert.Contains(t, out, "session 01234567  420 samples")
	assert.Contains(t, out, "mqtt: degraded")
	assert.Contains(t, out, "heart_rate: failed")
	assert.NotContains(t, out, "waveform: healthy")
	assert.Contains(t, out, "stopped")
}
