// Package export turns a session snapshot into a single time-ordered record
// set and serializes it for download or upload.
package export

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/jumepi/polar-h10-health-checker/internal/session"
)

// ErrEmptySession is returned when a session has nothing to export.
var ErrEmptySession = errors.New("empty session: nothing to export")

// Source names the stream a row came from.
type Source string

const (
	SourceECG       Source = "ECG"
	SourceHeartRate Source = "HeartRate"
)

// Row is one exported record.
type Row struct {
	Timestamp time.Time
	Source    Source
	Value     int64
}

// Rows merges waveform samples and heart-rate events into rows sorted by
// timestamp. ECG timestamps are start plus the sample's relative time. On
// equal timestamps ECG rows come first, each source in input order.
func Rows(waveform []session.Sample, heartRates []session.HeartRateEvent, start time.Time) ([]Row, error) {
	if len(waveform) == 0 && len(heartRates) == 0 {
		return nil, ErrEmptySession
	}

	rows := make([]Row, 0, len(waveform)+len(heartRates))
	for _, s := range waveform {
		offset := time.Duration(math.Round(s.RelativeTime * float64(time.Second)))
		rows = append(rows, Row{
			Timestamp: start.Add(offset),
			Source:    SourceECG,
			Value:     int64(s.Amplitude),
		})
	}
	for _, hr := range heartRates {
		rows = append(rows, Row{
			Timestamp: hr.ObservedAt,
			Source:    SourceHeartRate,
			Value:     int64(hr.BPM),
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})
	return rows, nil
}

// SnapshotRows is Rows applied to a full snapshot.
func SnapshotRows(snap session.Snapshot) ([]Row, error) {
	return Rows(snap.Waveform, snap.HeartRates, snap.StartTime)
}
