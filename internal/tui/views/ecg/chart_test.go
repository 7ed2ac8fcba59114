package ecg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jumepi/polar-h10-health-checker/internal/analysis"
)

func TestRenderEmpty(t *testing.T) {
	g := Render(nil, nil, 10, 4)
	require.Len(t, g.Rows, 4)
	for _, r := range g.Rows {
		assert.Equal(t, strings.Repeat(" ", 10), string(r))
	}
	assert.Equal(t, strings.Repeat(" ", 10), string(g.Markers))

	g = Render([]int32{1}, nil, 0, 0)
	assert.Empty(t, g.Rows)
}

func TestRenderSpikeReachesTopRow(t *testing.T) {
	amps := make([]int32, 100)
	amps[50] = 1000
	g := Render(amps, []int{50}, 20, 5)

	// Column holding sample 50 spans the full height.
	for r := 0; r < 5; r++ {
		assert.Equal(t, cellTrace, g.Rows[r][10], "row %d", r)
	}
	// Flat columns only fill the bottom row.
	assert.Equal(t, cellEmpty, g.Rows[0][2])
	assert.Equal(t, cellTrace, g.Rows[4][2])

	assert.Equal(t, markPeak, g.Markers[10])
	assert.True(t, g.PeakColumns[10])
	assert.Equal(t, 1, strings.Count(string(g.Markers), string(markPeak)))
}

func TestRenderFlatSignalCentered(t *testing.T) {
	g := Render([]int32{7, 7, 7, 7}, nil, 4, 5)
	assert.Equal(t, "████", string(g.Rows[2]))
	assert.Equal(t, "    ", string(g.Rows[0]))
}

func TestRenderMoreColumnsThanSamples(t *testing.T) {
	g := Render([]int32{0, 10}, []int{1, 5, -1}, 8, 3)
	assert.Equal(t, markPeak, g.Markers[4])
	assert.Equal(t, 1, strings.Count(string(g.Markers), string(markPeak)))
}

func TestViewWaiting(t *testing.T) {
	m := New()
	m.Width = 40
	assert.Contains(t, m.View(), "waiting for samples")
}

func TestViewCaption(t *testing.T) {
	m := New()
	m.Width = 60
	m.SetFrame(analysis.Frame{
		Times:       []float64{0, 0.01, 0.02, 9.99},
		Amplitudes:  []int32{0, 100, 0, 0},
		PeakIndices: []int{1},
	})
	out := m.View()
	assert.Contains(t, out, "0.0s")
	assert.Contains(t, out, "10.0s")
	assert.Contains(t, out, "1 peaks")
}
