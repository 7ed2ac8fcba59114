package ingest

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jumepi/polar-h10-health-checker/internal/packet"
	"github.com/jumepi/polar-h10-health-checker/internal/session"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWaveformEndToEnd(t *testing.T) {
	store := session.NewStore(100)
	in := New(store, quietLogger())

	payload := packet.EncodeWaveform(0, []int32{100, -50, 200})
	require.NoError(t, in.OnWaveformNotification(payload))

	snap := store.Snapshot()
	require.Equal(t, uint64(3), snap.SampleCount)
	assert.Equal(t, []int32{100, -50, 200}, snap.Amplitudes())
	for i, want := range []float64{0.0, 0.01, 0.02} {
		assert.InDelta(t, want, snap.Waveform[i].RelativeTime, 1e-12)
	}
}

func TestHeartRateEndToEnd(t *testing.T) {
	store := session.NewStore(100)
	in := New(store, quietLogger())

	require.NoError(t, in.OnHeartRateNotification([]byte{0x00, 72}))
	require.NoError(t, in.OnHeartRateNotification([]byte{0x01, 0x48, 0x00}))

	snap := store.Snapshot()
	require.Len(t, snap.HeartRates, 2)
	assert.Equal(t, uint16(72), snap.HeartRates[0].BPM)
	assert.Equal(t, uint16(72), snap.HeartRates[1].BPM)
	assert.Equal(t, uint16(72), *snap.LatestBPM)
}

func TestMalformedPacketsLeaveStateUnchanged(t *testing.T) {
	store := session.NewStore(100)
	in := New(store, quietLogger())
	require.NoError(t, in.OnWaveformNotification(packet.EncodeWaveform(0, []int32{1})))

	before := store.Snapshot()

	err := in.OnWaveformNotification([]byte{packet.TagECG, 1, 2})
	require.ErrorIs(t, err, packet.ErrMalformedPacket)
	err = in.OnHeartRateNotification([]byte{0x01})
	require.ErrorIs(t, err, packet.ErrMalformedPacket)

	after := store.Snapshot()
	assert.Equal(t, before.SampleCount, after.SampleCount)
	assert.Equal(t, before.HeartRates, after.HeartRates)
	assert.Equal(t, before.LatestBPM, after.LatestBPM)
}

func TestUnrecognizedTagIgnored(t *testing.T) {
	store := session.NewStore(100)
	in := New(store, quietLogger())

	require.NoError(t, in.OnWaveformNotification([]byte{0x02, 0, 0, 0}))
	require.NoError(t, in.OnWaveformNotification(nil))
	assert.Zero(t, store.Snapshot().SampleCount)

	h := in.Health()[0]
	assert.Equal(t, uint64(2), h.Ignored)
	assert.Equal(t, StatusHealthy, h.Status)
}

func TestStreamHealthDegradesAndRecovers(t *testing.T) {
	in := New(session.NewStore(100), quietLogger())

	for i := 0; i < DefaultFailureThreshold; i++ {
		_ = in.OnHeartRateNotification(nil)
	}
	hr := in.Health()[1]
	assert.Equal(t, StatusDegraded, hr.Status)
	assert.Equal(t, uint64(DefaultFailureThreshold), hr.Malformed)
	assert.NotEmpty(t, hr.LastError)

	require.NoError(t, in.OnHeartRateNotification([]byte{0, 60}))
	hr = in.Health()[1]
	assert.Equal(t, StatusHealthy, hr.Status)
	assert.Equal(t, uint64(1), hr.Packets)
}

func TestStopRejectsLaterAppends(t *testing.T) {
	store := session.NewStore(100)
	in := New(store, quietLogger())
	require.NoError(t, in.OnWaveformNotification(packet.EncodeWaveform(0, []int32{1, 2})))

	in.Stop()
	in.Stop()
	assert.True(t, in.Stopped())

	assert.ErrorIs(t, in.OnWaveformNotification(packet.EncodeWaveform(0, []int32{3})), ErrStopped)
	assert.ErrorIs(t, in.OnHeartRateNotification([]byte{0, 80}), ErrStopped)
	assert.Equal(t, uint64(2), store.Snapshot().SampleCount)
	assert.Nil(t, store.Snapshot().LatestBPM)

	in.Resume()
	require.NoError(t, in.OnWaveformNotification(packet.EncodeWaveform(0, []int32{3})))
	assert.Equal(t, uint64(3), store.Snapshot().SampleCount)
}

// TestStopIsStable checks that a snapshot taken after Stop returns never
// changes, even while a producer keeps delivering packets.
func TestStopIsStable(t *testing.T) {
	store := session.NewStore(100)
	in := New(store, quietLogger())
	payload := packet.EncodeWaveform(0, make([]int32, 20))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5000; i++ {
			if err := in.OnWaveformNotification(payload); errors.Is(err, ErrStopped) {
				return
			}
		}
	}()

	in.Stop()
	frozen := store.Snapshot().SampleCount
	wg.Wait()
	assert.Equal(t, frozen, store.Snapshot().SampleCount)
	assert.Zero(t, frozen%20)
}

func TestTransportHealth(t *testing.T) {
	th := NewTransportHealth("ble")
	assert.Equal(t, StatusDegraded, th.State(3).Status)

	th.SetConnected()
	assert.True(t, th.Connected())
	assert.Equal(t, StatusHealthy, th.State(3).Status)

	for i := 0; i < 3; i++ {
		th.SetDisconnected(errors.New("link lost"))
	}
	st := th.State(3)
	assert.Equal(t, StatusFailed, st.Status)
	assert.False(t, st.Connected)
	assert.Equal(t, "link lost", st.LastError)

	th.SetConnected()
	assert.Equal(t, 0, th.State(3).Failures)
}
