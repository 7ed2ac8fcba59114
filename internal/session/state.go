package session

import (
	"time"
)

// Sample is one ECG reading at a fixed position in the session.
type Sample struct {
	Index        uint64  `json:"index"`
	RelativeTime float64 `json:"t"`
	Amplitude    int32   `json:"v"`
}

// HeartRateEvent is a device-reported heart rate with its arrival time.
type HeartRateEvent struct {
	ObservedAt time.Time `json:"observedAt"`
	BPM        uint16    `json:"bpm"`
}

// Snapshot is a point-in-time copy of a session. It shares no memory with
// the store and is safe to retain and mutate.
type Snapshot struct {
	ID           string           `json:"id"`
	StartTime    time.Time        `json:"startTime"`
	SamplingRate float64          `json:"samplingRateHz"`
	SampleCount  uint64           `json:"sampleCount"`
	Waveform     []Sample         `json:"-"`
	HeartRates   []HeartRateEvent `json:"-"`
	LatestBPM    *uint16          `json:"latestBpm,omitempty"`
}

// Amplitudes returns the amplitude column of the waveform.
func (s *Snapshot) Amplitudes() []int32 {
	out := make([]int32, len(s.Waveform))
	for i, w := range s.Waveform {
		out[i] = w.Amplitude
	}
	return out
}

// Summary returns the snapshot without its sample and heart-rate slices.
func (s *Snapshot) Summary() Snapshot {
	c := *s
	c.Waveform = nil
	c.HeartRates = nil
	if s.LatestBPM != nil {
		v := *s.LatestBPM
		c.LatestBPM = &v
	}
	return c
}

// state is the mutable session owned by Store. sampleCounter always equals
// len(waveform); both only grow for the life of the session.
type state struct {
	id            string
	startTime     time.Time
	samplingRate  float64
	waveform      []Sample
	heartRates    []HeartRateEvent
	sampleCounter uint64
	latestBPM     *uint16
}

func (st *state) appendWaveform(amplitudes []int32) {
	for _, a := range amplitudes {
		st.waveform = append(st.waveform, Sample{
			Index:        st.sampleCounter,
			RelativeTime: float64(st.sampleCounter) / st.samplingRate,
			Amplitude:    a,
		})
		st.sampleCounter++
	}
}

func (st *state) appendHeartRate(bpm uint16, at time.Time) {
	v := bpm
	st.latestBPM = &v
	st.heartRates = append(st.heartRates, HeartRateEvent{ObservedAt: at, BPM: bpm})
}

// snapshot copies every field. Caller must hold the store lock.
func (st *state) snapshot() Snapshot {
	snap := Snapshot{
		ID:           st.id,
		StartTime:    st.startTime,
		SamplingRate: st.samplingRate,
		SampleCount:  st.sampleCounter,
		Waveform:     make([]Sample, len(st.waveform)),
		HeartRates:   make([]HeartRateEvent, len(st.heartRates)),
	}
	copy(snap.Waveform, st.waveform)
	copy(snap.HeartRates, st.heartRates)
	if st.latestBPM != nil {
		v := *st.latestBPM
		snap.LatestBPM = &v
	}
	return snap
}
