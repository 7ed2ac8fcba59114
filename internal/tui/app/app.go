// Package app is the root Bubble Tea model of the terminal viewer.
package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"

	"github.com/jumepi/polar-h10-health-checker/internal/analysis"
	"github.com/jumepi/polar-h10-health-checker/internal/export"
	"github.com/jumepi/polar-h10-health-checker/internal/tui/client"
	"github.com/jumepi/polar-h10-health-checker/internal/tui/theme"
	"github.com/jumepi/polar-h10-health-checker/internal/tui/views/ecg"
	"github.com/jumepi/polar-h10-health-checker/internal/tui/views/help"
	"github.com/jumepi/polar-h10-health-checker/internal/tui/views/status"
	"github.com/jumepi/polar-h10-health-checker/internal/ws"
)

const (
	animFPS        = 20
	healthInterval = 5 * time.Second
	// The spring is considered settled once it is this close to the target.
	settleEpsilon = 0.05
)

type animTickMsg struct{}

type healthTickMsg struct{}

type healthResultMsg struct {
	payload *ws.HealthPayload
	err     error
}

type exportResultMsg struct {
	path string
	err  error
}

type resetResultMsg struct {
	payload *ws.ResetPayload
	err     error
}

// Model is the root Bubble Tea model.
type Model struct {
	ws     *client.WSClient
	http   *client.HTTPClient
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int

	chart     ecg.Model
	statusBar status.Model
	help      help.Model
	showHelp  bool

	connected bool
	frame     analysis.Frame

	// Displayed heart rate eases toward the latest report.
	spring    harmonica.Spring
	bpm       float64
	bpmVel    float64
	bpmTarget float64
	animating bool

	exportDir string
}

// New creates the root model.
func New(wsc *client.WSClient, httpc *client.HTTPClient) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		ws:        wsc,
		http:      httpc,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		chart:     ecg.New(),
		statusBar: status.New(),
		help:      help.New(),
		spring:    harmonica.NewSpring(harmonica.FPS(animFPS), 6.0, 1.0),
		exportDir: ".",
	}
}

// SetExportDir sets where exported files are written.
func (m *Model) SetExportDir(dir string) {
	m.exportDir = dir
}

// Init starts the websocket connection and the health poll.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.ws.Listen(m.ctx), m.fetchHealth())
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.chart.Width = msg.Width
		m.chart.Height = max(msg.Height-10, 4)
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case client.WSConnectedMsg:
		m.connected = true
		m.statusBar.Linked = true
		return m, m.ws.ReadLoop()

	case client.WSDisconnectedMsg:
		m.connected = false
		m.statusBar.Linked = false
		m.statusBar.Sensor = false
		return m, m.ws.Listen(m.ctx)

	case client.FrameMsg:
		cmd := m.applyFrame(msg.Frame)
		return m, tea.Batch(m.ws.ReadLoop(), cmd)

	case client.ResetMsg:
		m.statusBar.SessionID = msg.Payload.Current.ID
		m.statusBar.SampleCount = msg.Payload.Current.SampleCount
		m.statusBar.Notice = theme.StyleDimmed.Render("new session")
		return m, m.ws.ReadLoop()

	case client.HealthMsg:
		m.statusBar.SetHealth(msg.Payload)
		return m, m.ws.ReadLoop()

	case client.ServerErrorMsg:
		m.statusBar.Notice = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render(msg.Message)
		return m, m.ws.ReadLoop()

	case animTickMsg:
		m.bpm, m.bpmVel = m.spring.Update(m.bpm, m.bpmVel, m.bpmTarget)
		if math.Abs(m.bpm-m.bpmTarget) < settleEpsilon && math.Abs(m.bpmVel) < settleEpsilon {
			m.bpm, m.bpmVel = m.bpmTarget, 0
			m.animating = false
		}
		m.statusBar.BPM = m.bpm
		if !m.animating {
			return m, nil
		}
		return m, animTick()

	case healthTickMsg:
		return m, m.fetchHealth()

	case healthResultMsg:
		if msg.err == nil && msg.payload != nil {
			m.statusBar.SetHealth(*msg.payload)
		}
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return healthTickMsg{} })

	case exportResultMsg:
		switch {
		case errors.Is(msg.err, export.ErrEmptySession):
			m.statusBar.Notice = theme.StyleDimmed.Render("nothing to export yet")
		case msg.err != nil:
			m.statusBar.Notice = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("export failed: " + msg.err.Error())
		default:
			m.statusBar.Notice = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("saved " + msg.path)
		}
		return m, nil

	case resetResultMsg:
		if msg.err != nil {
			m.statusBar.Notice = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("reset failed: " + msg.err.Error())
			return m, nil
		}
		m.statusBar.SessionID = msg.payload.Current.ID
		m.statusBar.SampleCount = 0
		return m, nil
	}

	return m, nil
}

// applyFrame stores f and retargets the heart rate spring. The strap's own
// report wins over the peak based estimate.
func (m *Model) applyFrame(f analysis.Frame) tea.Cmd {
	m.frame = f
	m.chart.SetFrame(f)
	m.statusBar.Sensor = f.Connected
	m.statusBar.SessionID = f.SessionID
	m.statusBar.SampleCount = f.SampleCount

	target := 0.0
	switch {
	case f.LatestBPM != nil:
		target = float64(*f.LatestBPM)
	case f.EstimatedBPM != nil:
		target = *f.EstimatedBPM
	}
	if target == m.bpmTarget {
		return nil
	}
	m.bpmTarget = target
	if m.bpm == 0 || target == 0 {
		// Jump instead of sweeping up from nothing.
		m.bpm, m.bpmVel = target, 0
		m.statusBar.BPM = target
		return nil
	}
	if m.animating {
		return nil
	}
	m.animating = true
	return animTick()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		if key.Matches(msg, m.keys.Escape) || key.Matches(msg, m.keys.Help) {
			m.showHelp = false
			return m, nil
		}
		if !key.Matches(msg, m.keys.Quit) {
			return m, nil
		}
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		if m.ws != nil {
			m.ws.Close()
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil

	case key.Matches(msg, m.keys.Reset):
		return m, m.resetSession()

	case key.Matches(msg, m.keys.ExportCSV):
		return m, m.exportSession(export.FormatCSV)

	case key.Matches(msg, m.keys.ExportXLSX):
		return m, m.exportSession(export.FormatXLSX)

	case key.Matches(msg, m.keys.ExportParquet):
		return m, m.exportSession(export.FormatParquet)
	}

	return m, nil
}

func (m Model) fetchHealth() tea.Cmd {
	httpc := m.http
	return func() tea.Msg {
		if httpc == nil {
			return healthResultMsg{err: errors.New("no http client")}
		}
		h, err := httpc.Health()
		return healthResultMsg{payload: h, err: err}
	}
}

func (m Model) resetSession() tea.Cmd {
	httpc := m.http
	return func() tea.Msg {
		p, err := httpc.Reset()
		return resetResultMsg{payload: p, err: err}
	}
}

func (m Model) exportSession(f export.Format) tea.Cmd {
	httpc, dir := m.http, m.exportDir
	return func() tea.Msg {
		name, data, err := httpc.Export(f)
		if err != nil {
			return exportResultMsg{err: err}
		}
		path := filepath.Join(dir, filepath.Base(name))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return exportResultMsg{err: fmt.Errorf("write %s: %w", path, err)}
		}
		return exportResultMsg{path: path}
	}
}

func animTick() tea.Cmd {
	return tea.Tick(time.Second/animFPS, func(time.Time) tea.Msg { return animTickMsg{} })
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	body := m.chart.View()
	if m.showHelp {
		body = m.help.View()
	}

	sections := []string{
		m.statusBar.View(),
		body,
		m.bpmLine(),
		theme.StyleDimmed.Render("  r:reset  e/x/p:export csv/xlsx/parquet  ?:help  q:quit"),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) bpmLine() string {
	var parts []string
	if m.frame.LatestBPM != nil {
		parts = append(parts, fmt.Sprintf("strap %d bpm", *m.frame.LatestBPM))
	}
	if m.frame.EstimatedBPM != nil {
		parts = append(parts, fmt.Sprintf("peaks %.0f bpm", *m.frame.EstimatedBPM))
	}
	if len(parts) == 0 {
		return theme.StyleDimmed.Render("  no heart rate yet")
	}
	line := "  " + parts[0]
	if len(parts) > 1 {
		line += "  " + parts[1]
	}
	return lipgloss.NewStyle().Foreground(theme.BPMColor(m.bpmTarget)).Render(line)
}
