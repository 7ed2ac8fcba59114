package transport

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/jumepi/polar-h10-health-checker/internal/config"
	"github.com/jumepi/polar-h10-health-checker/internal/packet"
)

// Synth produces a non-clinical ECG-like trace: slow baseline wander, a
// gaussian P, QRS and T per beat, and cheap deterministic noise.
type Synth struct {
	rate      float64
	bpm       float64
	noise     float64
	amplitude float64
	phase     float64
	n         uint64
}

// NewSynth returns a generator at rateHz producing beats at bpm. noise is a
// fraction of the R-wave height; amplitude scales the output to sensor units.
func NewSynth(rateHz, bpm, noise, amplitude float64) *Synth {
	return &Synth{rate: rateHz, bpm: bpm, noise: noise, amplitude: amplitude}
}

// Next advances one sample.
func (s *Synth) Next() int32 {
	s.phase += s.bpm / 60 / s.rate
	if s.phase >= 1 {
		s.phase -= 1
	}
	t := s.phase
	s.n++

	baseline := 0.05 * math.Sin(2*math.Pi*float64(s.n)/(s.rate*4))
	v := baseline +
		0.08*gauss(t, 0.18, 0.03) -
		0.12*gauss(t, 0.30, 0.01) +
		1.00*gauss(t, 0.32, 0.008) -
		0.25*gauss(t, 0.35, 0.012) +
		0.25*gauss(t, 0.60, 0.06)
	v += s.noise * (2*fract(math.Sin(12345.678*float64(s.n))*9876.543) - 1)
	return int32(math.Round(v * s.amplitude))
}

// Batch returns the next n samples.
func (s *Synth) Batch(n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = s.Next()
	}
	return out
}

func gauss(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}

func fract(x float64) float64 { return x - math.Floor(x) }

// Sim is a Source that needs no hardware. It encodes synthetic samples in
// the sensor's PMD format, one packet per batch, and a heart rate packet
// every second.
type Sim struct {
	cfg    config.SimConfig
	rate   float64
	logger *slog.Logger
}

func NewSim(cfg config.SimConfig, rateHz float64, logger *slog.Logger) *Sim {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sim{cfg: cfg, rate: rateHz, logger: logger.With("component", "sim")}
}

func (s *Sim) Name() string { return config.SourceSim }

func (s *Sim) Run(ctx context.Context, sink Sink) error {
	batch := s.cfg.Batch
	if batch <= 0 {
		batch = 73
	}
	synth := NewSynth(s.rate, s.cfg.HeartRateBPM, s.cfg.Noise, s.cfg.Amplitude)

	period := time.Duration(float64(batch) / s.rate * float64(time.Second))
	samples := time.NewTicker(period)
	defer samples.Stop()
	beats := time.NewTicker(time.Second)
	defer beats.Stop()

	sink.Connected()
	s.logger.Info("simulator started", "rate_hz", s.rate, "bpm", s.cfg.HeartRateBPM, "batch", batch)

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-samples.C:
			ts := uint64(now.Sub(start).Nanoseconds())
			deliver(s.logger, sink.OnWaveformNotification, packet.EncodeWaveform(ts, synth.Batch(batch)))
		case <-beats.C:
			bpm := uint16(math.Round(s.cfg.HeartRateBPM))
			deliver(s.logger, sink.OnHeartRateNotification, packet.EncodeHeartRate(bpm))
		}
	}
}
