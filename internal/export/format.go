package export

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Layouts for the timestamp column. ECG rows keep microseconds; heart-rate
// rows are reported to the second like the sensor log.
const (
	ECGTimeLayout       = "2006-01-02 15:04:05.000000"
	HeartRateTimeLayout = "2006-01-02 15:04:05"
)

// Header is the column order shared by every format.
var Header = []string{"timestamp", "source", "value"}

var tracer = otel.Tracer("github.com/jumepi/polar-h10-health-checker/internal/export")

// Format selects a serialization.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatXLSX    Format = "xlsx"
	FormatParquet Format = "parquet"
)

// ParseFormat accepts a format name case-insensitively. Empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatXLSX, FormatParquet:
		return f, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// Extension returns the file extension including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// ContentType returns the MIME type used for downloads and uploads.
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "text/csv"
	}
}

// FormatTimestamp renders a row's timestamp with its source's precision.
func FormatTimestamp(r Row) string {
	if r.Source == SourceHeartRate {
		return r.Timestamp.Format(HeartRateTimeLayout)
	}
	return r.Timestamp.Format(ECGTimeLayout)
}

// Write serializes rows to w in format f.
func Write(ctx context.Context, w io.Writer, f Format, rows []Row) error {
	_, span := tracer.Start(ctx, "export.Write")
	defer span.End()
	span.SetAttributes(attribute.String("format", string(f)), attribute.Int("rows", len(rows)))

	var err error
	switch f {
	case FormatCSV:
		err = WriteCSV(w, rows)
	case FormatXLSX:
		err = WriteXLSX(w, rows)
	case FormatParquet:
		err = WriteParquet(w, rows)
	default:
		err = fmt.Errorf("unknown export format %q", f)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// FileName returns the default name for an export of session id.
func FileName(id string, f Format) string {
	if id == "" {
		return "combined_data" + f.Extension()
	}
	return "session-" + id + f.Extension()
}
