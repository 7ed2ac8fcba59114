package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(rate float64, clock *time.Time) *Store {
	s := NewStore(rate)
	seq := 0
	s.newID = func() string {
		seq++
		return fmt.Sprintf("session-%d", seq)
	}
	if clock != nil {
		s.now = func() time.Time { return *clock }
	}
	s.st = s.newState()
	return s
}

func TestNewStore(t *testing.T) {
	s := NewStore(0)
	require.NotNil(t, s)
	assert.Equal(t, DefaultSamplingRate, s.SamplingRate())

	snap := s.Snapshot()
	assert.NotEmpty(t, snap.ID)
	assert.Zero(t, snap.SampleCount)
	assert.Empty(t, snap.Waveform)
	assert.Empty(t, snap.HeartRates)
	assert.Nil(t, snap.LatestBPM)
	assert.False(t, snap.StartTime.IsZero())
}

func TestAppendWaveformAssignsIndexAndTime(t *testing.T) {
	s := newTestStore(100, nil)
	s.AppendWaveform([]int32{100})
	s.AppendWaveform([]int32{-50})
	s.AppendWaveform([]int32{200})

	snap := s.Snapshot()
	require.Equal(t, uint64(3), snap.SampleCount)
	require.Len(t, snap.Waveform, 3)

	wantTimes := []float64{0.0, 0.01, 0.02}
	wantAmps := []int32{100, -50, 200}
	for i, w := range snap.Waveform {
		assert.Equal(t, uint64(i), w.Index)
		assert.InDelta(t, wantTimes[i], w.RelativeTime, 1e-12)
		assert.Equal(t, wantAmps[i], w.Amplitude)
	}
}

func TestAppendWaveformBatches(t *testing.T) {
	s := newTestStore(130, nil)
	batches := [][]int32{{1, 2, 3}, {}, {4}, {5, 6, 7, 8, 9}}
	total := 0
	for _, b := range batches {
		s.AppendWaveform(b)
		total += len(b)
	}

	snap := s.Snapshot()
	assert.Equal(t, uint64(total), snap.SampleCount)
	for i, w := range snap.Waveform {
		assert.Equal(t, float64(i)/130, w.RelativeTime)
		assert.Equal(t, int32(i+1), w.Amplitude)
	}
}

func TestAppendHeartRate(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s := newTestStore(100, &now)

	s.AppendHeartRate(72)
	now = now.Add(time.Second)
	s.AppendHeartRate(75)

	snap := s.Snapshot()
	require.NotNil(t, snap.LatestBPM)
	assert.Equal(t, uint16(75), *snap.LatestBPM)
	require.Len(t, snap.HeartRates, 2)
	assert.Equal(t, HeartRateEvent{ObservedAt: now.Add(-time.Second), BPM: 72}, snap.HeartRates[0])
	assert.Equal(t, HeartRateEvent{ObservedAt: now, BPM: 75}, snap.HeartRates[1])
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	s := newTestStore(100, nil)
	s.AppendWaveform([]int32{1, 2})
	s.AppendHeartRate(60)

	snap := s.Snapshot()
	snap.Waveform[0].Amplitude = 999
	snap.HeartRates[0].BPM = 1
	*snap.LatestBPM = 2
	snap.Waveform = append(snap.Waveform, Sample{Index: 42})

	again := s.Snapshot()
	assert.Equal(t, int32(1), again.Waveform[0].Amplitude)
	assert.Equal(t, uint16(60), again.HeartRates[0].BPM)
	assert.Equal(t, uint16(60), *again.LatestBPM)
	assert.Len(t, again.Waveform, 2)
}

func TestSummary(t *testing.T) {
	s := newTestStore(100, nil)
	s.AppendWaveform([]int32{1, 2, 3})
	s.AppendHeartRate(80)

	sum := s.Summary()
	assert.Equal(t, "session-1", sum.ID)
	assert.Equal(t, uint64(3), sum.SampleCount)
	assert.Nil(t, sum.Waveform)
	require.NotNil(t, sum.LatestBPM)
	assert.Equal(t, uint16(80), *sum.LatestBPM)

	full := s.Snapshot()
	trimmed := full.Summary()
	assert.Nil(t, trimmed.Waveform)
	assert.Equal(t, full.SampleCount, trimmed.SampleCount)
}

func TestReset(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	now := start
	s := newTestStore(100, &now)
	s.AppendWaveform([]int32{1, 2, 3})
	s.AppendHeartRate(70)

	now = start.Add(time.Minute)
	prev := s.Reset()
	assert.Equal(t, "session-1", prev.ID)
	assert.Equal(t, uint64(3), prev.SampleCount)

	cur := s.Snapshot()
	assert.Equal(t, "session-2", cur.ID)
	assert.Equal(t, start.Add(time.Minute), cur.StartTime)
	assert.Zero(t, cur.SampleCount)
	assert.Nil(t, cur.LatestBPM)

	s.AppendWaveform([]int32{9})
	assert.Equal(t, uint64(0), s.Snapshot().Waveform[0].Index)
}

// TestConcurrentAppendAndSnapshot interleaves a writer with several readers
// and checks that no snapshot ever sees a torn or partially applied packet.
func TestConcurrentAppendAndSnapshot(t *testing.T) {
	const (
		batchSize = 73
		batches   = 500
		readers   = 4
	)
	s := newTestStore(100, nil)

	batch := make([]int32, batchSize)
	for i := range batch {
		batch[i] = int32(i)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, readers)

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for {
				snap := s.Snapshot()
				if uint64(len(snap.Waveform)) != snap.SampleCount {
					errs <- fmt.Errorf("torn snapshot: len=%d counter=%d", len(snap.Waveform), snap.SampleCount)
					return
				}
				if snap.SampleCount%batchSize != 0 {
					errs <- fmt.Errorf("partial packet visible: counter=%d", snap.SampleCount)
					return
				}
				if snap.SampleCount < last {
					errs <- fmt.Errorf("snapshot went backwards: %d after %d", snap.SampleCount, last)
					return
				}
				last = snap.SampleCount
				if n := len(snap.HeartRates); n > 0 && snap.LatestBPM == nil {
					errs <- fmt.Errorf("heart rate log has %d entries but no latest bpm", n)
					return
				}
				select {
				case <-done:
					return
				default:
				}
			}
		}()
	}

	for i := 0; i < batches; i++ {
		s.AppendWaveform(batch)
		if i%50 == 0 {
			s.AppendHeartRate(uint16(60 + i%40))
		}
	}
	close(done)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}

	snap := s.Snapshot()
	require.Equal(t, uint64(batchSize*batches), snap.SampleCount)
	for i, w := range snap.Waveform {
		if w.Index != uint64(i) {
			t.Fatalf("sample %d has index %d", i, w.Index)
		}
	}
}
