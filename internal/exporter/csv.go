package exporter

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"catpipe/internal/config"
	"catpipe/pkg/contracts/domain"
)

// CSVWriter provides CSV export functionality
type CSVWriter struct {
	paths  *config.Paths
	logger *slog.Logger
}

// NewCSVWriter creates a new CSV writer instance
func NewCSVWriter(paths *config.Paths, logger *slog.Logger) *CSVWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVWriter{paths: paths, logger: logger.With(slog.String("component", "csv_writer"))}
}

// WriteOptions configures CSV writing behavior
type WriteOptions struct {
	Headers   []string
	Records   [][]string
	Append    bool
	BOMPrefix bool // Add UTF-8 BOM for Excel compatibility
}

// WriteCSV writes data to a CSV file with the given options
func (w *CSVWriter) WriteCSV(filePath string, options WriteOptions) (string, error) {
	fullPath := w.resolvePath(filePath)

	w.logger.Debug("writing_csv",
		slog.String("full_path", fullPath),
		slog.Int("record_count", len(options.Records)))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if options.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(fullPath, flags, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if options.BOMPrefix && !options.Append {
		if _, err := file.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
			return "", fmt.Errorf("failed to write BOM: %w", err)
		}
	}

	writer := csv.NewWriter(file)

	if !options.Append && len(options.Headers) > 0 {
		if err := writer.Write(options.Headers); err != nil {
			return "", fmt.Errorf("failed to write headers: %w", err)
		}
	}

	for i, record := range options.Records {
		if err := writer.Write(record); err != nil {
			return "", fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", err
	}
	return fullPath, nil
}

// WriteFrequencies writes the absolute and relative table of one column to
// frequencies_<column>.csv, one line per (feature value, label) cell
func (w *CSVWriter) WriteFrequencies(dir string, freq domain.ColumnFrequencies) (string, error) {
	name := filepath.Join(dir, "frequencies_"+slug(freq.Column)+".csv")
	return w.WriteCSV(name, WriteOptions{
		Headers:   []string{freq.Column, "label", "count", "percent"},
		Records:   frequencyRecords(freq),
		BOMPrefix: true,
	})
}

// WritePartition streams the rows of p with the label as last column
func (w *CSVWriter) WritePartition(dir string, p domain.Partition, targetName string) (string, error) {
	headers := append(p.Features.ColumnNames(), targetName)
	stream, path, err := w.CreateStreamWriter(filepath.Join(dir, "partition_"+p.Name+".csv"), headers)
	if err != nil {
		return "", err
	}

	for i, row := range p.Features.Rows {
		record := make([]string, 0, len(row)+1)
		record = append(record, row...)
		record = append(record, p.Target[i])
		if err := stream.WriteRecord(record); err != nil {
			stream.Close()
			return "", fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}

	if err := stream.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// StreamWriter provides streaming CSV writing for large datasets
type StreamWriter struct {
	file   *os.File
	writer *csv.Writer
}

// CreateStreamWriter creates a new streaming CSV writer
func (w *CSVWriter) CreateStreamWriter(filePath string, headers []string) (*StreamWriter, string, error) {
	fullPath := w.resolvePath(filePath)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, "", fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file: %w", err)
	}

	writer := csv.NewWriter(file)
	if len(headers) > 0 {
		if err := writer.Write(headers); err != nil {
			file.Close()
			return nil, "", fmt.Errorf("failed to write headers: %w", err)
		}
	}

	return &StreamWriter{file: file, writer: writer}, fullPath, nil
}

// WriteRecord writes a single record to the stream
func (s *StreamWriter) WriteRecord(record []string) error {
	return s.writer.Write(record)
}

// Close flushes and closes the stream writer
func (s *StreamWriter) Close() error {
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// resolvePath places relative paths under the reports directory
func (w *CSVWriter) resolvePath(filePath string) string {
	if filepath.IsAbs(filePath) || w.paths == nil {
		return filePath
	}
	return w.paths.ReportPath(filePath)
}

// frequencyCell is one (feature value, label) entry of a column table
type frequencyCell struct {
	Value   string
	Label   string
	Count   int
	Percent string
}

// frequencyCells flattens a column table in sorted (value, label) order
func frequencyCells(freq domain.ColumnFrequencies) []frequencyCell {
	values := make([]string, 0, len(freq.Absolute))
	for v := range freq.Absolute {
		values = append(values, v)
	}
	sort.Strings(values)

	var cells []frequencyCell
	for _, v := range values {
		inner := freq.Absolute[v]
		labels := make([]string, 0, len(inner))
		for label := range inner {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			cells = append(cells, frequencyCell{
				Value:   v,
				Label:   label,
				Count:   inner[label],
				Percent: freq.Relative[v][label],
			})
		}
	}
	return cells
}

func frequencyRecords(freq domain.ColumnFrequencies) [][]string {
	cells := frequencyCells(freq)
	records := make([][]string, len(cells))
	for i, c := range cells {
		records[i] = []string{c.Value, c.Label, formatInt(c.Count), c.Percent}
	}
	return records
}
