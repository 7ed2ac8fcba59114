package export

import (
	"fmt"
	"io"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
)

// ParquetSchema is the Arrow schema of a Parquet export. Timestamps are
// stored as microseconds since the Unix epoch.
var ParquetSchema = arrow.NewSchema([]arrow.Field{
	{Name: "timestamp", Type: arrow.FixedWidthTypes.Timestamp_us, Nullable: false},
	{Name: "source", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "value", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
}, nil)

// WriteParquet writes rows as a single-row-group Parquet file.
func WriteParquet(w io.Writer, rows []Row) error {
	alloc := memory.NewGoAllocator()

	b := array.NewRecordBuilder(alloc, ParquetSchema)
	defer b.Release()

	ts := b.Field(0).(*array.TimestampBuilder)
	src := b.Field(1).(*array.StringBuilder)
	val := b.Field(2).(*array.Int64Builder)
	ts.Reserve(len(rows))
	src.Reserve(len(rows))
	val.Reserve(len(rows))

	for _, r := range rows {
		ts.Append(arrow.Timestamp(r.Timestamp.UnixMicro()))
		src.Append(string(r.Source))
		val.Append(r.Value)
	}

	rec := b.NewRecord()
	defer rec.Release()

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithDictionaryDefault(true),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	fw, err := pqarrow.NewFileWriter(ParquetSchema, w, writerProps, arrowProps)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	return fw.Close()
}
