package analysis

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jumepi/polar-h10-health-checker/internal/session"
)

// DefaultWindowSeconds is the display window length.
const DefaultWindowSeconds = 10.0

var tracer = otel.Tracer("github.com/jumepi/polar-h10-health-checker/internal/analysis")

// FrameParams controls BuildFrame.
type FrameParams struct {
	WindowSeconds float64
	Peaks         PeakParams
}

// DefaultFrameParams returns the default window and peak factors for rateHz.
func DefaultFrameParams(rateHz float64) FrameParams {
	return FrameParams{
		WindowSeconds: DefaultWindowSeconds,
		Peaks:         DefaultPeakParams(rateHz),
	}
}

// Frame is what a display refresh needs: the recent waveform, its detected
// peaks and the current heart rate figures.
type Frame struct {
	SessionID      string    `json:"sessionId"`
	SampleCount    uint64    `json:"sampleCount"`
	WindowSeconds  float64   `json:"windowSeconds"`
	Times          []float64 `json:"times"`
	Amplitudes     []int32   `json:"amplitudes"`
	PeakIndices    []int     `json:"peakIndices"`
	PeakTimes      []float64 `json:"peakTimes"`
	PeakAmplitudes []int32   `json:"peakAmplitudes"`
	LatestBPM      *uint16   `json:"latestBpm"`
	EstimatedBPM   *float64  `json:"estimatedBpm,omitempty"`
	Connected      bool      `json:"connected"`
}

// BuildFrame runs the window extractor and peak detector over snap.
func BuildFrame(ctx context.Context, snap session.Snapshot, p FrameParams) Frame {
	_, span := tracer.Start(ctx, "analysis.BuildFrame",
		trace.WithAttributes(attribute.String("session.id", snap.ID)))
	defer span.End()

	rate := p.Peaks.SamplingRate
	if rate <= 0 {
		rate = snap.SamplingRate
		p.Peaks.SamplingRate = rate
	}

	window := Recent(snap.Waveform, p.WindowSeconds, rate)
	f := Frame{
		SessionID:      snap.ID,
		SampleCount:    snap.SampleCount,
		WindowSeconds:  p.WindowSeconds,
		Times:          make([]float64, len(window)),
		Amplitudes:     make([]int32, len(window)),
		PeakTimes:      []float64{},
		PeakAmplitudes: []int32{},
		LatestBPM:      snap.LatestBPM,
	}
	for i, s := range window {
		f.Times[i] = s.RelativeTime
		f.Amplitudes[i] = s.Amplitude
	}

	f.PeakIndices = DetectPeaks(f.Amplitudes, p.Peaks)
	for _, i := range f.PeakIndices {
		f.PeakTimes = append(f.PeakTimes, f.Times[i])
		f.PeakAmplitudes = append(f.PeakAmplitudes, f.Amplitudes[i])
	}
	if bpm, ok := EstimateBPM(f.PeakIndices, rate); ok {
		f.EstimatedBPM = &bpm
	}

	span.SetAttributes(
		attribute.Int("window.samples", len(window)),
		attribute.Int("peaks", len(f.PeakIndices)),
	)
	return f
}
