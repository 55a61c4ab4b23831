package delta

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/google/uuid"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
	"github.com/ajitpratap0/deltaflat/pkg/frame"
	"github.com/ajitpratap0/deltaflat/pkg/pool"
	"github.com/ajitpratap0/deltaflat/pkg/schema"
)

// Codec is a parquet compression codec together with the short name used in
// data file names
type Codec struct {
	Name   string
	codec  compress.Compression
	suffix string
}

var codecs = map[string]Codec{
	"snappy":       {Name: "snappy", codec: compress.Codecs.Snappy, suffix: ".snappy"},
	"zstd":         {Name: "zstd", codec: compress.Codecs.Zstd, suffix: ".zstd"},
	"gzip":         {Name: "gzip", codec: compress.Codecs.Gzip, suffix: ".gz"},
	"lz4":          {Name: "lz4", codec: compress.Codecs.Lz4Raw, suffix: ".lz4raw"},
	"brotli":       {Name: "brotli", codec: compress.Codecs.Brotli, suffix: ".br"},
	"uncompressed": {Name: "uncompressed", codec: compress.Codecs.Uncompressed},
}

// DefaultCodec is used when WriteOptions.Compression is empty
const DefaultCodec = "snappy"

// ParseCodec resolves a codec name. Empty means snappy; "none" is an alias
// of "uncompressed" and "lz4_raw" of "lz4".
func ParseCodec(name string) (Codec, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "":
		n = DefaultCodec
	case "none":
		n = "uncompressed"
	case "lz4_raw", "lz4raw":
		n = "lz4"
	}
	c, ok := codecs[n]
	if !ok {
		return Codec{}, errors.Newf(errors.ErrorTypeConfig, "unsupported parquet compression %q", name)
	}
	return c, nil
}

// partFileName builds a Spark-style data file name
//
//	part-00000-3f8a4c9e-6d1b-4b0c-9f57-2a1d6c0e9b11-c000.snappy.parquet
func partFileName(index int, c Codec) string {
	return fmt.Sprintf("part-%05d-%s-c000%s.parquet", index, uuid.NewString(), c.suffix)
}

// encodeParquet writes rows as one parquet file
func encodeParquet(mem memory.Allocator, s *schema.StructType, rows []frame.Row, c Codec) ([]byte, error) {
	rec, err := frame.RowsToArrowRecord(mem, s, rows)
	if err != nil {
		return nil, err
	}
	defer rec.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(c.codec),
		parquet.WithAllocator(mem),
		parquet.WithCreatedBy("deltaflat"),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(mem))

	buf := pool.Buffers.Get()
	defer pool.Buffers.Put(buf)

	fw, err := pqarrow.NewFileWriter(rec.Schema(), buf, props, arrowProps)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to create parquet writer")
	}
	if err := fw.Write(rec); err != nil {
		_ = fw.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to write parquet data")
	}
	if err := fw.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to finish parquet file")
	}
	return bytes.Clone(buf.Bytes()), nil
}

// decodeParquet reads a parquet file into rows typed by s. Columns missing
// from the file read as null.
func decodeParquet(ctx context.Context, mem memory.Allocator, s *schema.StructType, data []byte) ([]frame.Row, error) {
	fr, err := file.NewParquetReader(bytes.NewReader(data), file.WithReadProps(parquet.NewReaderProperties(mem)))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to open parquet file")
	}
	defer fr.Close()

	ar, err := pqarrow.NewFileReader(fr, pqarrow.ArrowReadProperties{Parallel: false, BatchSize: 64 * 1024}, mem)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to create arrow reader")
	}

	fileSchema, err := ar.Schema()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read parquet schema")
	}
	if err := checkFileSchema(s, fileSchema); err != nil {
		return nil, err
	}

	tbl, err := ar.ReadTable(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read parquet table")
	}
	defer tbl.Release()

	return frame.FromArrowTable(s, tbl)
}

// checkFileSchema rejects a data file whose scalar columns disagree in type
// with the table schema. Missing or extra columns are fine.
func checkFileSchema(table *schema.StructType, file *arrow.Schema) error {
	got, err := schema.FromArrow(file)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSchema, "unsupported parquet column type")
	}
	for _, c := range schema.Diff(table, got) {
		if c.Type != schema.ChangeTypeModifyType {
			continue
		}
		want, wantPrim := c.OldType.(schema.PrimitiveType)
		have, havePrim := c.NewType.(schema.PrimitiveType)
		if !wantPrim || !havePrim || want == schema.NullType {
			continue
		}
		return errors.Newf(errors.ErrorTypeSchema,
			"data file column %q is %s but the table declares %s", c.Field, have, want)
	}
	return nil
}
