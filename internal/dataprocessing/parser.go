package dataprocessing

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"

	"catpipe/internal/errors"
	"catpipe/pkg/contracts/domain"
)

// LoadOptions controls how a dataset file is read
type LoadOptions struct {
	// Sheet selects the worksheet of an .xlsx file; empty means the first one
	Sheet string
	// FeatureNames overrides the default "Feature 1", "Feature 2", ... names
	FeatureNames []string
	TargetName   string
}

// DataSource loads labeled categorical datasets from disk
type DataSource struct {
	logger *slog.Logger
}

// NewDataSource creates a data source
func NewDataSource(logger *slog.Logger) *DataSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &DataSource{logger: logger.With(slog.String("component", "data_source"))}
}

// Load reads the file at path. Files ending in .xlsx are read with excelize,
// anything else as whitespace-delimited text without a header. The last
// column is the label.
func (s *DataSource) Load(ctx context.Context, path string, opts LoadOptions) (*domain.Dataset, error) {
	var (
		records [][]string
		err     error
	)

	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		records, err = s.readWorkbook(path, opts.Sheet)
	} else {
		records, err = s.readText(ctx, path)
	}
	if err != nil {
		return nil, err
	}

	ds, err := buildDataset(records, opts)
	if err != nil {
		return nil, errors.NewParsingError("invalid dataset", err).WithContext("path", path)
	}
	ds.Name = filepath.Base(path)
	ds.Fingerprint = Fingerprint(ds)

	s.logger.InfoContext(ctx, "dataset_loaded",
		slog.String("path", path),
		slog.Int("rows", ds.Len()),
		slog.Int("features", ds.Features.Width()),
		slog.String("fingerprint", ds.Fingerprint))

	return ds, nil
}

// Parse reads whitespace-delimited records from r
func (s *DataSource) Parse(ctx context.Context, r io.Reader, opts LoadOptions) (*domain.Dataset, error) {
	records, err := scanRecords(ctx, r)
	if err != nil {
		return nil, err
	}
	ds, err := buildDataset(records, opts)
	if err != nil {
		return nil, errors.NewParsingError("invalid dataset", err)
	}
	ds.Fingerprint = Fingerprint(ds)
	return ds, nil
}

func (s *DataSource) readText(ctx context.Context, path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewStorageError("failed to open dataset", err).WithContext("path", path)
	}
	defer f.Close()

	records, err := scanRecords(ctx, f)
	if err != nil {
		return nil, errors.NewParsingError("failed to read dataset", err).WithContext("path", path)
	}
	return records, nil
}

func scanRecords(ctx context.Context, r io.Reader) ([][]string, error) {
	var records [][]string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		fields := strings.Fields(norm.NFKC.String(scanner.Text()))
		if len(fields) == 0 {
			continue
		}
		records = append(records, fields)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", line+1, err)
	}

	return records, nil
}

func (s *DataSource) readWorkbook(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.NewStorageError("failed to open workbook", err).WithContext("path", path)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.NewParsingError("workbook has no sheets", nil).WithContext("path", path)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.NewParsingError("failed to read sheet", err).
			WithContext("path", path).
			WithContext("sheet", sheet)
	}

	var records [][]string
	for _, row := range rows {
		fields := make([]string, 0, len(row))
		for _, cell := range row {
			fields = append(fields, strings.TrimSpace(norm.NFKC.String(cell)))
		}
		// GetRows drops trailing empty cells; fully empty rows are skipped
		if len(fields) == 0 || strings.Join(fields, "") == "" {
			continue
		}
		records = append(records, fields)
	}

	s.logger.Debug("workbook_read", slog.String("sheet", sheet), slog.Int("rows", len(records)))
	return records, nil
}

// buildDataset turns raw records into a feature table and target vector.
// Every record must have the width of the first one.
func buildDataset(records [][]string, opts LoadOptions) (*domain.Dataset, error) {
	targetName := opts.TargetName
	if targetName == "" {
		targetName = "Label"
	}

	if len(records) == 0 {
		return &domain.Dataset{
			Features:   domain.NewFeatureTable(opts.FeatureNames, nil),
			Target:     domain.TargetVector{},
			TargetName: targetName,
		}, nil
	}

	width := len(records[0])
	if width < 2 {
		return nil, fmt.Errorf("line 1: need at least one feature and a label, got %d fields", width)
	}

	names := opts.FeatureNames
	if len(names) == 0 {
		names = DefaultFeatureNames(width - 1)
	}
	if len(names) != width-1 {
		return nil, fmt.Errorf("%d feature names given for %d feature columns", len(names), width-1)
	}

	rows := make([][]string, len(records))
	target := make(domain.TargetVector, len(records))
	for i, rec := range records {
		if len(rec) != width {
			return nil, fmt.Errorf("line %d: expected %d fields, got %d", i+1, width, len(rec))
		}
		rows[i] = rec[:width-1 : width-1]
		target[i] = strings.Trim(rec[width-1], ";")
	}

	return &domain.Dataset{
		Features:   domain.NewFeatureTable(names, rows),
		Target:     target,
		TargetName: targetName,
	}, nil
}

// DefaultFeatureNames returns "Feature 1" .. "Feature n"
func DefaultFeatureNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("Feature %d", i+1)
	}
	return names
}

// Fingerprint hashes the schema and every row of ds with BLAKE2b-256
func Fingerprint(ds *domain.Dataset) string {
	h, _ := blake2b.New256(nil)

	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}

	for _, name := range ds.Features.ColumnNames() {
		write(name)
	}
	write(ds.TargetName)
	for i, row := range ds.Features.Rows {
		for _, v := range row {
			write(v)
		}
		if i < len(ds.Target) {
			write(ds.Target[i])
		}
		h.Write([]byte{'\n'})
	}

	return hex.EncodeToString(h.Sum(nil))
}
