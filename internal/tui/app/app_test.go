package app

import (
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jumepi/polar-h10-health-checker/internal/analysis"
	"github.com/jumepi/polar-h10-health-checker/internal/config"
	"github.com/jumepi/polar-h10-health-checker/internal/export"
	"github.com/jumepi/polar-h10-health-checker/internal/ingest"
	"github.com/jumepi/polar-h10-health-checker/internal/packet"
	"github.com/jumepi/polar-h10-health-checker/internal/session"
	"github.com/jumepi/polar-h10-health-checker/internal/tui/client"
	"github.com/jumepi/polar-h10-health-checker/internal/ws"
)

func sized(m Model) Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model)
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestViewBeforeResize(t *testing.T) {
	assert.Equal(t, "Initializing...", New(nil, nil).View())
}

func TestConnectionState(t *testing.T) {
	m := sized(New(nil, nil))
	assert.Contains(t, m.View(), "Connecting")

	m, cmd := update(t, m, client.WSConnectedMsg{})
	assert.True(t, m.connected)
	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), "No sensor")

	m, _ = update(t, m, client.FrameMsg{Frame: analysis.Frame{Connected: true}})
	assert.Contains(t, m.View(), "● Connected")

	m, cmd = update(t, m, client.WSDisconnectedMsg{Err: errors.New("gone")})
	assert.False(t, m.connected)
	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), "Connecting")
}

func TestFrameJumpsThenAnimatesBPM(t *testing.T) {
	m := sized(New(nil, nil))
	bpm := uint16(60)

	m, _ = update(t, m, client.FrameMsg{Frame: analysis.Frame{LatestBPM: &bpm, Amplitudes: []int32{1, 2}, Times: []float64{0, 0.01}}})
	assert.Equal(t, 60.0, m.bpm)
	assert.False(t, m.animating)
	assert.Contains(t, m.View(), "strap 60 bpm")

	bpm2 := uint16(90)
	m, _ = update(t, m, client.FrameMsg{Frame: analysis.Frame{LatestBPM: &bpm2}})
	assert.True(t, m.animating)
	assert.Equal(t, 90.0, m.bpmTarget)

	for i := 0; i < 200 && m.animating; i++ {
		m, _ = update(t, m, animTickMsg{})
	}
	assert.False(t, m.animating)
	assert.Equal(t, 90.0, m.bpm)
	assert.Equal(t, 90.0, m.statusBar.BPM)
}

func TestEstimateUsedWithoutStrapReport(t *testing.T) {
	m := sized(New(nil, nil))
	est := 64.4
	m, _ = update(t, m, client.FrameMsg{Frame: analysis.Frame{EstimatedBPM: &est}})
	assert.Equal(t, est, m.bpmTarget)
	assert.Contains(t, m.View(), "peaks 64 bpm")
}

func TestHelpOverlay(t *testing.T) {
	m := sized(New(nil, nil))
	m.help.Style = "notty"

	m, _ = update(t, m, runeKey('?'))
	assert.True(t, m.showHelp)
	assert.Contains(t, m.View(), "H10 monitor")

	// Other keys are swallowed while the overlay is open.
	m, cmd := update(t, m, runeKey('r'))
	assert.Nil(t, cmd)
	assert.True(t, m.showHelp)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, m.showHelp)
}

func TestQuit(t *testing.T) {
	m := sized(New(nil, nil))
	m, cmd := update(t, m, runeKey('q'))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Error(t, m.ctx.Err())
}

func TestExportResultNotices(t *testing.T) {
	m := sized(New(nil, nil))

	m, _ = update(t, m, exportResultMsg{err: export.ErrEmptySession})
	assert.Contains(t, m.View(), "nothing to export yet")

	m, _ = update(t, m, exportResultMsg{err: errors.New("disk full")})
	assert.Contains(t, m.View(), "export failed: disk full")

	m, _ = update(t, m, exportResultMsg{path: "session-x.csv"})
	assert.Contains(t, m.View(), "saved session-x.csv")
}

func TestHealthPollReschedules(t *testing.T) {
	m := sized(New(nil, nil))
	m, cmd := update(t, m, healthResultMsg{payload: &ws.HealthPayload{
		Transport: &ingest.TransportState{Name: "sim", Status: ingest.StatusHealthy},
	}})
	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), "sim: healthy")

	assert.IsType(t, healthResultMsg{}, New(nil, nil).fetchHealth()())
}

func TestExportAndResetAgainstServer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := session.NewStore(100)
	in := ingest.New(store, logger)
	b := ws.NewBroadcaster(store, analysis.DefaultFrameParams(100), time.Hour, 0, logger)
	srv := httptest.NewServer(ws.NewServer(config.ServerConfig{}, store, in, b, nil, logger).Handler())
	defer srv.Close()

	require.NoError(t, in.OnWaveformNotification(packet.EncodeWaveform(0, []int32{3, 4, 5})))
	id := store.Summary().ID

	m := sized(New(nil, client.NewHTTPClient(srv.URL, "")))
	dir := t.TempDir()
	m.SetExportDir(dir)

	_, cmd := update(t, m, runeKey('e'))
	require.NotNil(t, cmd)
	res, ok := cmd().(exportResultMsg)
	require.True(t, ok)
	require.NoError(t, res.err)
	assert.Equal(t, filepath.Join(dir, "session-"+id+".csv"), res.path)

	data, err := os.ReadFile(res.path)
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(string(data), "\n"))

	_, cmd = update(t, m, runeKey('r'))
	require.NotNil(t, cmd)
	reset, ok := cmd().(resetResultMsg)
	require.True(t, ok)
	require.NoError(t, reset.err)
	assert.Equal(t, id, reset.payload.Previous.ID)

	m, _ = update(t, m, reset)
	assert.Equal(t, reset.payload.Current.ID, m.statusBar.SessionID)
	assert.NotEqual(t, id, m.statusBar.SessionID)
}
