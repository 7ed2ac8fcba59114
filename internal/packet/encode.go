package packet

import "encoding/binary"

// FrameTypeECG is the PMD frame type byte the sensor sends for raw ECG.
const FrameTypeECG byte = 0x00

// EncodeWaveform builds a PMD ECG notification in the sensor's wire format.
// It is used by the simulator transport and by tests.
func EncodeWaveform(sensorTimestamp uint64, amplitudes []int32) []byte {
	buf := make([]byte, HeaderSize+SampleSize*len(amplitudes))
	buf[0] = TagECG
	binary.LittleEndian.PutUint64(buf[1:9], sensorTimestamp)
	buf[9] = FrameTypeECG
	for i, a := range amplitudes {
		PutInt24(buf[HeaderSize+i*SampleSize:], a)
	}
	return buf
}

// EncodeHeartRate builds a Heart Rate Measurement notification, using the
// 8-bit format when the value fits.
func EncodeHeartRate(bpm uint16) []byte {
	if bpm <= 0xFF {
		return []byte{0x00, byte(bpm)}
	}
	buf := []byte{hrFormatUint16, 0, 0}
	binary.LittleEndian.PutUint16(buf[1:], bpm)
	return buf
}
