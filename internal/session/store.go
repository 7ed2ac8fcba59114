package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSamplingRate is the ECG sampling rate assumed when none is given.
const DefaultSamplingRate = 100.0

// Store owns the current session. Appends and snapshots are serialized by a
// single lock, so a snapshot always reflects a prefix of appends and never
// a partially applied packet.
type Store struct {
	mu    sync.RWMutex
	st    *state
	rate  float64
	now   func() time.Time
	newID func() string
}

// NewStore starts a session sampled at rateHz. A non-positive rate falls
// back to DefaultSamplingRate.
func NewStore(rateHz float64) *Store {
	if rateHz <= 0 {
		rateHz = DefaultSamplingRate
	}
	s := &Store{
		rate:  rateHz,
		now:   time.Now,
		newID: uuid.NewString,
	}
	s.st = s.newState()
	return s
}

func (s *Store) newState() *state {
	return &state{
		id:           s.newID(),
		startTime:    s.now(),
		samplingRate: s.rate,
	}
}

// SamplingRate returns the rate used to derive relative sample times.
func (s *Store) SamplingRate() float64 {
	return s.rate
}

// AppendWaveform appends one packet's amplitudes as consecutive samples.
func (s *Store) AppendWaveform(amplitudes []int32) {
	if len(amplitudes) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.appendWaveform(amplitudes)
}

// AppendHeartRate records bpm as the latest heart rate and logs it with the
// current time.
func (s *Store) AppendHeartRate(bpm uint16) {
	at := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.appendHeartRate(bpm, at)
}

// Snapshot returns an independent copy of the session.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.snapshot()
}

// Summary returns the session metadata without copying samples.
func (s *Store) Summary() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ID:           s.st.id,
		StartTime:    s.st.startTime,
		SamplingRate: s.st.samplingRate,
		SampleCount:  s.st.sampleCounter,
	}
	if s.st.latestBPM != nil {
		v := *s.st.latestBPM
		snap.LatestBPM = &v
	}
	return snap
}

// Reset discards the current session and starts a new one. It returns the
// final snapshot of the discarded session.
func (s *Store) Reset() Snapshot {
	next := s.newState()
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.st.snapshot()
	s.st = next
	return prev
}
