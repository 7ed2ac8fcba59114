// Package packet decodes raw notification payloads delivered by the sensor
// transport. All functions are pure and safe to call from any goroutine.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedPacket reports a payload that is too short to decode.
var ErrMalformedPacket = errors.New("malformed packet")

const (
	// TagECG marks a PMD data notification carrying ECG samples.
	TagECG byte = 0x00

	// HeaderSize is the number of bytes before the first sample:
	// tag (1), sensor timestamp (8), frame type (1).
	HeaderSize = 10

	// SampleSize is the width of one ECG sample on the wire.
	SampleSize = 3

	hrFormatUint16 byte = 0x01
)

// Kind classifies a decoded notification.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindWaveform
	KindHeartRate
)

var kindNames = map[Kind]string{
	KindUnrecognized: "unrecognized",
	KindWaveform:     "waveform",
	KindHeartRate:    "heart_rate",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Decoded is the tagged result of classifying a notification. Only the
// field matching Kind is meaningful.
type Decoded struct {
	Kind       Kind
	Amplitudes []int32
	BPM        uint16
}

// Frame is a waveform notification with its header fields.
type Frame struct {
	SensorTimestamp uint64
	FrameType       byte
	Amplitudes      []int32
}

// DecodeWaveform returns the ECG amplitudes carried by payload. Payloads
// with a tag other than TagECG, and empty payloads, yield no samples and no
// error. Trailing bytes that do not fill a whole sample are dropped.
func DecodeWaveform(payload []byte) ([]int32, error) {
	f, err := DecodeWaveformFrame(payload)
	if err != nil {
		return nil, err
	}
	return f.Amplitudes, nil
}

// DecodeWaveformFrame is DecodeWaveform plus the header fields. A payload
// tagged TagECG but shorter than HeaderSize is malformed.
func DecodeWaveformFrame(payload []byte) (Frame, error) {
	if len(payload) == 0 || payload[0] != TagECG {
		return Frame{}, nil
	}
	if len(payload) < HeaderSize {
		return Frame{}, fmt.Errorf("%w: waveform header needs %d bytes, got %d", ErrMalformedPacket, HeaderSize, len(payload))
	}

	body := payload[HeaderSize:]
	n := len(body) / SampleSize
	f := Frame{
		SensorTimestamp: binary.LittleEndian.Uint64(payload[1:9]),
		FrameType:       payload[9],
		Amplitudes:      make([]int32, n),
	}
	for i := 0; i < n; i++ {
		f.Amplitudes[i] = Int24(body[i*SampleSize:])
	}
	return f, nil
}

// DecodeHeartRate parses a Heart Rate Measurement notification. Bit 0 of the
// flags byte selects an 8-bit or a little-endian 16-bit value.
func DecodeHeartRate(payload []byte) (uint16, error) {
	if len(payload) < 2 {
		return 0, fmt.Errorf("%w: heart rate payload needs 2 bytes, got %d", ErrMalformedPacket, len(payload))
	}
	if payload[0]&hrFormatUint16 == 0 {
		return uint16(payload[1]), nil
	}
	if len(payload) < 3 {
		return 0, fmt.Errorf("%w: 16-bit heart rate needs 3 bytes, got %d", ErrMalformedPacket, len(payload))
	}
	return binary.LittleEndian.Uint16(payload[1:3]), nil
}

// Classify decodes a waveform notification into the tagged union. Heart
// rate notifications arrive on their own characteristic, so callers use
// DecodeHeartRate for those; Classify only separates ECG from everything else.
func Classify(payload []byte) (Decoded, error) {
	if len(payload) == 0 || payload[0] != TagECG {
		return Decoded{Kind: KindUnrecognized}, nil
	}
	amps, err := DecodeWaveform(payload)
	if err != nil {
		return Decoded{}, err
	}
	return Decoded{Kind: KindWaveform, Amplitudes: amps}, nil
}

// ClassifyHeartRate wraps DecodeHeartRate in the tagged union.
func ClassifyHeartRate(payload []byte) (Decoded, error) {
	bpm, err := DecodeHeartRate(payload)
	if err != nil {
		return Decoded{}, err
	}
	return Decoded{Kind: KindHeartRate, BPM: bpm}, nil
}

// Int24 reads a little-endian two's-complement 24-bit integer from b[0:3].
func Int24(b []byte) int32 {
	v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// sign-extend bit 23
	return v << 8 >> 8
}

// PutInt24 writes v as a little-endian 24-bit integer into b[0:3]. Values
// outside the 24-bit range are truncated.
func PutInt24(b []byte, v int32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}
