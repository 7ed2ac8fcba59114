// Package theme provides the Lip Gloss palette and shared styles for the
// terminal viewer. It is a leaf package with no internal imports.
package theme

import "github.com/charmbracelet/lipgloss"

// Trace colors.
var (
	ColorTrace = lipgloss.Color("#22d3ee")
	ColorPeak  = lipgloss.Color("#f43f5e")
	ColorAxis  = lipgloss.Color("#374151")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// Heart rate zone thresholds in beats per minute.
const (
	BPMLow  = 50
	BPMHigh = 120
)

var (
	StyleDimmed = lipgloss.NewStyle().Foreground(ColorDimmed)
	StyleHeader = lipgloss.NewStyle().Foreground(ColorBright).Bold(true)
	StyleTrace  = lipgloss.NewStyle().Foreground(ColorTrace)
	StylePeak   = lipgloss.NewStyle().Foreground(ColorPeak).Bold(true)
	StyleBox    = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)
)

// BPMColor colors a heart rate: danger outside [BPMLow, BPMHigh], healthy
// inside, dimmed when unknown.
func BPMColor(bpm float64) lipgloss.Color {
	switch {
	case bpm <= 0:
		return ColorDimmed
	case bpm < BPMLow || bpm > BPMHigh:
		return ColorDanger
	default:
		return ColorHealthy
	}
}

// StatusColor maps an ingest status string to a color.
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "healthy":
		return ColorHealthy
	case "degraded":
		return ColorWarning
	case "failed":
		return ColorDanger
	default:
		return ColorDimmed
	}
}
