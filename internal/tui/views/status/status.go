package status

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jumepi/polar-h10-health-checker/internal/ingest"
	"github.com/jumepi/polar-h10-health-checker/internal/tui/theme"
	"github.com/jumepi/polar-h10-health-checker/internal/ws"
)

// Model holds the status bar state.
type Model struct {
	// Linked is the viewer's websocket link to the monitor.
	Linked bool
	// Sensor is the monitor's link to the chest strap, as reported in frames.
	Sensor      bool
	SessionID   string
	SampleCount uint64
	BPM         float64
	Health      *ws.HealthPayload
	Notice      string
	Width       int
}

// New creates a status bar model.
func New() Model {
	return Model{}
}

// SetHealth replaces the last health report.
func (m *Model) SetHealth(h ws.HealthPayload) {
	m.Health = &h
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	parts := []string{linkLabel(m.Linked, m.Sensor), m.bpmLabel()}

	if m.SessionID != "" {
		parts = append(parts, theme.StyleDimmed.Render(fmt.Sprintf("session %s  %d samples", shortID(m.SessionID), m.SampleCount)))
	}
	if h := m.healthLabel(); h != "" {
		parts = append(parts, h)
	}
	if m.Notice != "" {
		parts = append(parts, m.Notice)
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(strings.Join(parts, sep))
}

func linkLabel(linked, sensor bool) string {
	switch {
	case !linked:
		return lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	case !sensor:
		return lipgloss.NewStyle().Foreground(theme.ColorWarning).Render("◐ No sensor")
	default:
		return lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	}
}

func (m Model) bpmLabel() string {
	text := "-- bpm"
	if m.BPM > 0 {
		text = fmt.Sprintf("%3.0f bpm", m.BPM)
	}
	return lipgloss.NewStyle().Foreground(theme.BPMColor(m.BPM)).Bold(true).Render("♥ " + text)
}

func (m Model) healthLabel() string {
	if m.Health == nil {
		return ""
	}
	var parts []string
	if t := m.Health.Transport; t != nil {
		parts = append(parts, colored(string(t.Status), fmt.Sprintf("%s: %s", t.Name, t.Status)))
	}
	for _, s := range m.Health.Streams {
		if s.Status == ingest.StatusHealthy {
			continue
		}
		parts = append(parts, colored(string(s.Status), fmt.Sprintf("%s: %s", s.Stream, s.Status)))
	}
	if m.Health.Stopped {
		parts = append(parts, lipgloss.NewStyle().Foreground(theme.ColorWarning).Render("stopped"))
	}
	return strings.Join(parts, "  ")
}

func colored(status, text string) string {
	return lipgloss.NewStyle().Foreground(theme.StatusColor(status)).Render(text)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
