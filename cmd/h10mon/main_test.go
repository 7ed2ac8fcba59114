package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jumepi/polar-h10-health-checker/internal/config"
	"github.com/jumepi/polar-h10-health-checker/internal/export"
	"github.com/jumepi/polar-h10-health-checker/internal/ingest"
	"github.com/jumepi/polar-h10-health-checker/internal/packet"
	"github.com/jumepi/polar-h10-health-checker/internal/session"
)

func TestFrameParams(t *testing.T) {
	p := frameParams(config.AnalysisConfig{WindowSeconds: 5, DistanceFactor: 0.5, ProminenceFactor: 0.7}, 130)
	assert.Equal(t, 5.0, p.WindowSeconds)
	assert.Equal(t, 130.0, p.Peaks.SamplingRate)
	assert.Equal(t, 0.5, p.Peaks.DistanceFactor)
	assert.Equal(t, 0.7, p.Peaks.ProminenceFactor)
	assert.Equal(t, 65, p.Peaks.MinDistance())
}

func TestRunDecodeWaveform(t *testing.T) {
	var buf bytes.Buffer
	// tag, timestamp 1, frame type 0, samples 1 and -1
	err := runDecode(&buf, "00 01 00 00 00 00 00 00 00 00 01:00:00 ff-ff-ff", false, false)
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "kind:       waveform")
	assert.Contains(t, out, "timestamp:  1")
	assert.Contains(t, out, "samples:    2")
	assert.Contains(t, out, "[1] -1")
}

func TestRunDecodeJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runDecode(&buf, "0x0048", true, true))

	var res decodeResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &res))
	assert.Equal(t, "heart_rate", res.Kind)
	assert.Equal(t, uint16(72), res.BPM)
	assert.Equal(t, 2, res.Bytes)
}

func TestRunDecodeErrors(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorContains(t, runDecode(&buf, "zz", false, false), "parse hex")
	assert.ErrorIs(t, runDecode(&buf, "00 01 02", false, false), packet.ErrMalformedPacket)
	assert.ErrorIs(t, runDecode(&buf, "01", true, false), packet.ErrMalformedPacket)

	buf.Reset()
	require.NoError(t, runDecode(&buf, "02 01 02", false, false))
	assert.Contains(t, buf.String(), "unrecognized")
}

func TestRecordFormatFor(t *testing.T) {
	tests := []struct {
		flag, out, fallback string
		want                export.Format
		wantErr             bool
	}{
		{"xlsx", "a.csv", "csv", export.FormatXLSX, false},
		{"", "a.parquet", "csv", export.FormatParquet, false},
		{"", "a.txt", "csv", export.FormatCSV, false},
		{"", "", "xlsx", export.FormatXLSX, false},
		{"json", "", "csv", "", true},
	}
	for _, tt := range tests {
		got, err := recordFormatFor(tt.flag, tt.out, tt.fallback)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestWriteExport(t *testing.T) {
	store := session.NewStore(100)
	store.AppendWaveform([]int32{1, 2, 3})
	rows, err := export.SnapshotRows(store.Snapshot())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "out.csv")
	require.NoError(t, writeExport(t.Context(), path, export.FormatCSV, rows))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, bytes.Count(data, []byte("\n")))

	bad := filepath.Join(t.TempDir(), "bad.csv")
	assert.Error(t, writeExport(t.Context(), bad, export.Format("nope"), rows))
	_, err = os.Stat(bad)
	assert.True(t, os.IsNotExist(err))
}

type failingHandler struct{ calls int }

func (f *failingHandler) OnWaveformNotification([]byte) error {
	f.calls++
	return errors.New("relay down")
}

func (f *failingHandler) OnHeartRateNotification([]byte) error {
	f.calls++
	return errors.New("relay down")
}

func TestTeeIgnoresRelayFailures(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := session.NewStore(100)
	in := ingest.New(store, logger)
	relay := &failingHandler{}
	h := &tee{primary: in, relay: relay, logger: logger}

	require.NoError(t, h.OnWaveformNotification(packet.EncodeWaveform(0, []int32{4, 5})))
	require.NoError(t, h.OnHeartRateNotification(packet.EncodeHeartRate(61)))
	assert.Equal(t, 2, relay.calls)
	assert.Equal(t, uint64(2), store.Summary().SampleCount)
}

func TestWithRelayRejectsLoop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.Acquisition.Source = config.SourceMQTT
	in := ingest.New(session.NewStore(100), logger)

	_, _, err := withRelay(t.Context(), cfg, config.SourceMQTT, in, logger)
	assert.ErrorContains(t, err, "feed its own source")

	_, _, err = withRelay(t.Context(), cfg, "kafka", in, logger)
	assert.ErrorContains(t, err, "unknown relay")

	h, closeFn, err := withRelay(t.Context(), cfg, "", in, logger)
	require.NoError(t, err)
	assert.Same(t, in, h)
	closeFn()
}
