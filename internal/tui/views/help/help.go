// Package help renders the key binding overlay from markdown.
package help

import (
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/jumepi/polar-h10-health-checker/internal/tui/theme"
)

const source = `# H10 monitor

| Key | Action |
| --- | --- |
| **r** | reset the session (starts a new recording) |
| **e** | export the session as CSV into the working directory |
| **x** | export the session as Excel |
| **p** | export the session as Parquet |
| **?** | toggle this help |
| **q** | quit |

Peaks are marked with ▼ above the trace. The heart rate shown is the
strap's own report; the estimate from detected peaks is shown beside it
when enough beats are in the window.
`

// Model is the help overlay.
type Model struct {
	Width int
	// Style is a glamour standard style name.
	Style string

	cacheWidth int
	cached     string
}

func New() Model {
	return Model{Style: "dark"}
}

// View renders the overlay. Rendering is cached per width.
func (m *Model) View() string {
	width := max(m.Width-4, 20)
	if m.cached != "" && m.cacheWidth == width {
		return m.cached
	}

	out, err := render(m.Style, width)
	if err != nil {
		out = source
	}
	m.cached = theme.StyleBox.Render(strings.TrimRight(out, "\n"))
	m.cacheWidth = width
	return m.cached
}

func render(style string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return r.Render(source)
}
