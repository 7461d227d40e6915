package exporter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	writerfile "github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"catpipe/pkg/contracts/domain"
)

// labelField is the parquet column holding the target
const labelField = "label"

// ParquetWriter writes partitions as snappy-compressed parquet files. Every
// column is a required UTF8 string; column names are slugged from the schema.
type ParquetWriter struct {
	logger *slog.Logger
}

// NewParquetWriter creates a parquet writer
func NewParquetWriter(logger *slog.Logger) *ParquetWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ParquetWriter{logger: logger.With(slog.String("component", "parquet_writer"))}
}

// WritePartition writes p to <dir>/partition_<name>.parquet
func (w *ParquetWriter) WritePartition(dir string, p domain.Partition) (string, error) {
	data, err := w.Encode(p)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	path := filepath.Join(dir, "partition_"+p.Name+".parquet")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	w.logger.Debug("parquet_written", slog.String("path", path), slog.Int("rows", p.Len()), slog.Int("bytes", len(data)))
	return path, nil
}

// Encode renders p as an in-memory parquet file
func (w *ParquetWriter) Encode(p domain.Partition) ([]byte, error) {
	fields := parquetFields(p.Features.ColumnNames())

	buf := &bytes.Buffer{}
	pfw := writerfile.NewWriterFile(buf)
	pw, err := writer.NewJSONWriter(parquetSchema(fields), pfw, 4)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i, row := range p.Features.Rows {
		record := make(map[string]string, len(fields))
		for c, v := range row {
			record[fields[c]] = v
		}
		record[fields[len(fields)-1]] = p.Target[i]

		line, err := json.Marshal(record)
		if err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("encode row %d: %w", i, err)
		}
		if err := pw.Write(string(line)); err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("write row %d: %w", i, err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finish parquet file: %w", err)
	}
	_ = pfw.Close()

	return buf.Bytes(), nil
}

// parquetFields slugs the feature names and appends the label column.
// Duplicate or empty slugs get a positional name.
func parquetFields(names []string) []string {
	seen := make(map[string]bool, len(names)+1)
	seen[labelField] = true

	fields := make([]string, 0, len(names)+1)
	for i, name := range names {
		field := slug(name)
		if field == "" || seen[field] || !isASCIIName(field) {
			field = "feature_" + strconv.Itoa(i+1)
		}
		seen[field] = true
		fields = append(fields, field)
	}
	return append(fields, labelField)
}

func isASCIIName(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

func parquetSchema(fields []string) string {
	tags := make([]map[string]string, 0, len(fields))
	for _, f := range fields {
		tags = append(tags, map[string]string{
			"Tag": fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=REQUIRED", f),
		})
	}
	out := map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": tags,
	}
	b, _ := json.Marshal(out)
	return string(b)
}
