package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jumepi/polar-h10-health-checker/internal/packet"
)

var (
	decodeHeartRate bool
	decodeJSON      bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode <hex>",
	Short: "Decode one captured notification payload",
	Long: `Decode a raw notification given as hex. Spaces, colons and dashes are
ignored. Payloads are decoded as PMD waveform data unless --hr is set.

Examples:
  h10mon decode 00:00:00:00:00:00:00:00:00:00:01:00:00:ff:ff:ff
  h10mon decode --hr 00 48`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecode(os.Stdout, strings.Join(args, ""), decodeHeartRate, decodeJSON)
	},
}

func init() {
	decodeCmd.Flags().BoolVar(&decodeHeartRate, "hr", false, "Decode as a Heart Rate Measurement")
	decodeCmd.Flags().BoolVar(&decodeJSON, "json", false, "Print JSON")
	rootCmd.AddCommand(decodeCmd)
}

// decodeResult is what decode prints.
type decodeResult struct {
	Kind            string  `json:"kind"`
	Bytes           int     `json:"bytes"`
	SensorTimestamp uint64  `json:"sensorTimestamp,omitempty"`
	FrameType       *byte   `json:"frameType,omitempty"`
	Amplitudes      []int32 `json:"amplitudes,omitempty"`
	BPM             uint16  `json:"bpm,omitempty"`
}

func runDecode(w io.Writer, input string, heartRate, asJSON bool) error {
	payload, err := parseHex(input)
	if err != nil {
		return err
	}

	res := decodeResult{Bytes: len(payload)}
	if heartRate {
		bpm, err := packet.DecodeHeartRate(payload)
		if err != nil {
			return err
		}
		res.Kind = packet.KindHeartRate.String()
		res.BPM = bpm
	} else {
		d, err := packet.Classify(payload)
		if err != nil {
			return err
		}
		res.Kind = d.Kind.String()
		if d.Kind == packet.KindWaveform {
			f, err := packet.DecodeWaveformFrame(payload)
			if err != nil {
				return err
			}
			res.SensorTimestamp = f.SensorTimestamp
			res.FrameType = &f.FrameType
			res.Amplitudes = f.Amplitudes
		}
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(w, "kind:       %s\n", res.Kind)
	fmt.Fprintf(w, "bytes:      %d\n", res.Bytes)
	switch res.Kind {
	case packet.KindHeartRate.String():
		fmt.Fprintf(w, "bpm:        %d\n", res.BPM)
	case packet.KindWaveform.String():
		fmt.Fprintf(w, "timestamp:  %d\n", res.SensorTimestamp)
		fmt.Fprintf(w, "frame type: %d\n", *res.FrameType)
		fmt.Fprintf(w, "samples:    %d\n", len(res.Amplitudes))
		for i, a := range res.Amplitudes {
			fmt.Fprintf(w, "  [%d] %d\n", i, a)
		}
	}
	return nil
}

func parseHex(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "-", "", "\n", "", "\t", "").Replace(s)
	clean = strings.TrimPrefix(strings.ToLower(clean), "0x")
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("parse hex payload: %w", err)
	}
	return b, nil
}
