package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetRow struct {
	Dataset   string  `parquet:"name=dataset, type=BYTE_ARRAY, convertedtype=UTF8"`
	Variable  string  `parquet:"name=variable, type=BYTE_ARRAY, convertedtype=UTF8"`
	Segment   string  `parquet:"name=segment, type=BYTE_ARRAY, convertedtype=UTF8"`
	Selection string  `parquet:"name=selection, type=BYTE_ARRAY, convertedtype=UTF8"`
	Start     int64   `parquet:"name=start, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	End       int64   `parquet:"name=end, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Label     int64   `parquet:"name=label, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Window    bool    `parquet:"name=window, type=BOOLEAN"`
	Fraction  float64 `parquet:"name=fraction, type=DOUBLE"`
	Hits      int64   `parquet:"name=hits, type=INT64"`
	Valid     int64   `parquet:"name=valid, type=INT64"`
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }

// WriteParquet writes rows as a single parquet file. compression is
// "snappy" (default), "gzip" or "none".
func WriteParquet(w io.Writer, rows []Row, compression string) error {
	mem := newMemFile()
	pw, err := writer.NewParquetWriter(mem, new(parquetRow), 1)
	if err != nil {
		return fmt.Errorf("new parquet writer: %w", err)
	}

	switch strings.ToLower(compression) {
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	case "none":
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	default:
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	}

	for _, r := range rows {
		rec := parquetRow{
			Dataset:   r.Dataset,
			Variable:  r.Variable,
			Segment:   r.Segment,
			Selection: r.Selection,
			Start:     r.Start.UnixMilli(),
			End:       r.End.UnixMilli(),
			Label:     r.Label.UnixMilli(),
			Window:    r.Window,
			Fraction:  r.Fraction,
			Hits:      int64(r.Hits),
			Valid:     int64(r.Valid),
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return fmt.Errorf("write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finalize parquet: %w", err)
	}

	_, err = w.Write(mem.buffer.Bytes())
	return err
}
