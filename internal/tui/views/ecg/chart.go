// Package ecg draws the display window as a column chart with peak markers.
package ecg

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jumepi/polar-h10-health-checker/internal/analysis"
	"github.com/jumepi/polar-h10-health-checker/internal/tui/theme"
)

const (
	cellTrace = '█'
	cellEmpty = ' '
	markPeak  = '▼'
)

// Grid is the plain rendering of a chart: a marker row followed by height
// rows of trace, top row first.
type Grid struct {
	Markers []rune
	Rows    [][]rune
	// PeakColumns is true for columns that contain a detected peak.
	PeakColumns []bool
}

// Render buckets amplitudes into width columns. Each column draws the span
// between the bucket's minimum and maximum, so narrow R waves survive the
// downsampling.
func Render(amplitudes []int32, peaks []int, width, height int) Grid {
	g := Grid{
		Markers:     []rune(strings.Repeat(string(cellEmpty), max(width, 0))),
		Rows:        make([][]rune, max(height, 0)),
		PeakColumns: make([]bool, max(width, 0)),
	}
	for i := range g.Rows {
		g.Rows[i] = []rune(strings.Repeat(string(cellEmpty), max(width, 0)))
	}
	if width <= 0 || height <= 0 || len(amplitudes) == 0 {
		return g
	}

	lo, hi := amplitudes[0], amplitudes[0]
	for _, a := range amplitudes {
		lo = min(lo, a)
		hi = max(hi, a)
	}
	span := float64(hi) - float64(lo)

	row := func(v int32) int {
		if span == 0 {
			return height / 2
		}
		r := int(math.Round((float64(hi) - float64(v)) / span * float64(height-1)))
		return min(max(r, 0), height-1)
	}
	column := func(i int) int {
		return min(i*width/len(amplitudes), width-1)
	}

	for col := 0; col < width; col++ {
		start := col * len(amplitudes) / width
		end := (col + 1) * len(amplitudes) / width
		if end <= start {
			end = start + 1
		}
		if start >= len(amplitudes) {
			break
		}
		end = min(end, len(amplitudes))

		bLo, bHi := amplitudes[start], amplitudes[start]
		for _, a := range amplitudes[start:end] {
			bLo = min(bLo, a)
			bHi = max(bHi, a)
		}
		for r := row(bHi); r <= row(bLo); r++ {
			g.Rows[r][col] = cellTrace
		}
	}

	for _, p := range peaks {
		if p < 0 || p >= len(amplitudes) {
			continue
		}
		c := column(p)
		g.PeakColumns[c] = true
		g.Markers[c] = markPeak
	}
	return g
}

// Model is the chart view.
type Model struct {
	Width  int
	Height int
	Frame  analysis.Frame
	Have   bool
}

func New() Model {
	return Model{Height: 12}
}

// SetFrame replaces the frame being drawn.
func (m *Model) SetFrame(f analysis.Frame) {
	m.Frame = f
	m.Have = true
}

// View renders the chart inside a box with a time axis caption.
func (m Model) View() string {
	inner := max(m.Width-4, 10)
	if !m.Have || len(m.Frame.Amplitudes) == 0 {
		return theme.StyleBox.Width(inner).Render(theme.StyleDimmed.Render("waiting for samples..."))
	}

	g := Render(m.Frame.Amplitudes, m.Frame.PeakIndices, inner, m.Height)

	lines := make([]string, 0, len(g.Rows)+2)
	lines = append(lines, colorize(g.Markers, g.PeakColumns, theme.StylePeak, theme.StylePeak))
	for _, r := range g.Rows {
		lines = append(lines, colorize(r, g.PeakColumns, theme.StyleTrace, theme.StylePeak))
	}
	lines = append(lines, theme.StyleDimmed.Render(axisCaption(m.Frame, inner)))

	return theme.StyleBox.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// colorize styles runs of equal peak/non-peak columns together to keep the
// escape sequence count low.
func colorize(cells []rune, peak []bool, normal, highlight lipgloss.Style) string {
	var b strings.Builder
	startRun := 0
	for i := 1; i <= len(cells); i++ {
		if i < len(cells) && peak[i] == peak[startRun] {
			continue
		}
		style := normal
		if peak[startRun] {
			style = highlight
		}
		b.WriteString(style.Render(string(cells[startRun:i])))
		startRun = i
	}
	return b.String()
}

func axisCaption(f analysis.Frame, width int) string {
	if len(f.Times) == 0 {
		return ""
	}
	left := fmt.Sprintf("%.1fs", f.Times[0])
	right := fmt.Sprintf("%.1fs", f.Times[len(f.Times)-1])
	mid := fmt.Sprintf("%d peaks", len(f.PeakIndices))
	gap := width - len(left) - len(right) - len(mid)
	if gap < 2 {
		return left + " " + right
	}
	return left + strings.Repeat(" ", gap/2) + mid + strings.Repeat(" ", gap-gap/2) + right
}
