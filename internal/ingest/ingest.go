// Package ingest is the entry point for raw sensor notifications. It decodes
// each payload and appends the result to the session store, and guarantees
// that once Stop returns no further appends happen.
package ingest

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jumepi/polar-h10-health-checker/internal/packet"
	"github.com/jumepi/polar-h10-health-checker/internal/session"
)

// ErrStopped is returned by the notification handlers after Stop.
var ErrStopped = errors.New("ingestion stopped")

const (
	streamWaveform  = "waveform"
	streamHeartRate = "heart_rate"
)

// Ingestor routes notifications into a Store.
type Ingestor struct {
	store  *session.Store
	logger *slog.Logger
	now    func() time.Time

	// gate orders appends against Stop: handlers hold it shared while
	// appending, Stop takes it exclusively to flip stopped.
	gate    sync.RWMutex
	stopped bool

	waveform  *streamHealth
	heartRate *streamHealth
	threshold int
}

// New creates an Ingestor writing into store. A nil logger uses slog.Default.
func New(store *session.Store, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		store:     store,
		logger:    logger.With("component", "ingest"),
		now:       time.Now,
		waveform:  newStreamHealth(streamWaveform),
		heartRate: newStreamHealth(streamHeartRate),
		threshold: DefaultFailureThreshold,
	}
}

// OnWaveformNotification decodes a PMD data payload and appends its samples.
// Malformed payloads are logged and skipped; unrecognized tags are ignored.
func (in *Ingestor) OnWaveformNotification(payload []byte) error {
	at := in.now()
	d, err := packet.Classify(payload)
	if err != nil {
		in.waveform.recordFailure(err, at)
		in.logger.Warn("dropping waveform packet", "len", len(payload), "err", err)
		return err
	}
	if d.Kind != packet.KindWaveform {
		in.waveform.recordIgnored(at)
		in.logger.Debug("ignoring notification", "len", len(payload), "kind", d.Kind)
		return nil
	}

	in.gate.RLock()
	defer in.gate.RUnlock()
	if in.stopped {
		return ErrStopped
	}
	in.store.AppendWaveform(d.Amplitudes)
	in.waveform.recordSuccess(at)
	return nil
}

// OnHeartRateNotification decodes a Heart Rate Measurement payload and
// records it.
func (in *Ingestor) OnHeartRateNotification(payload []byte) error {
	at := in.now()
	d, err := packet.ClassifyHeartRate(payload)
	if err != nil {
		in.heartRate.recordFailure(err, at)
		in.logger.Warn("dropping heart rate packet", "len", len(payload), "err", err)
		return err
	}

	in.gate.RLock()
	defer in.gate.RUnlock()
	if in.stopped {
		return ErrStopped
	}
	in.store.AppendHeartRate(d.BPM)
	in.heartRate.recordSuccess(at)
	in.logger.Debug("heart rate", "bpm", d.BPM)
	return nil
}

// Stop blocks until in-flight appends finish and rejects all later ones.
// It is safe to call more than once.
func (in *Ingestor) Stop() {
	in.gate.Lock()
	defer in.gate.Unlock()
	if !in.stopped {
		in.stopped = true
		in.logger.Info("ingestion stopped")
	}
}

// Resume re-enables ingestion after Stop, for example when a new session
// starts.
func (in *Ingestor) Resume() {
	in.gate.Lock()
	defer in.gate.Unlock()
	in.stopped = false
}

// Stopped reports whether Stop has been called.
func (in *Ingestor) Stopped() bool {
	in.gate.RLock()
	defer in.gate.RUnlock()
	return in.stopped
}

// Health returns per-stream counters.
func (in *Ingestor) Health() []Health {
	return []Health{
		in.waveform.snapshot(in.threshold),
		in.heartRate.snapshot(in.threshold),
	}
}
