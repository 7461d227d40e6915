package exporter

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"catpipe/pkg/contracts/domain"
)

const (
	summarySheet   = "summary"
	maxSheetName   = 31
	workbookSuffix = ".xlsx"
)

// WorkbookWriter writes run results into an Excel workbook
type WorkbookWriter struct {
	logger *slog.Logger
}

// NewWorkbookWriter creates a workbook writer
func NewWorkbookWriter(logger *slog.Logger) *WorkbookWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkbookWriter{logger: logger.With(slog.String("component", "workbook_writer"))}
}

// WriteRunWorkbook writes one summary sheet (split sizes and scores) plus
// one sheet per frequency table to path
func (w *WorkbookWriter) WriteRunWorkbook(path string, report *domain.RunReport) (string, error) {
	if filepath.Ext(path) != workbookSuffix {
		path += workbookSuffix
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return "", fmt.Errorf("rename default sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return "", fmt.Errorf("create header style: %w", err)
	}

	if err := w.writeSummary(f, bold, report); err != nil {
		return "", err
	}

	if report.Summary != nil {
		for _, freq := range report.Summary.Frequencies {
			if err := w.writeFrequencySheet(f, bold, freq); err != nil {
				return "", err
			}
		}
	}

	f.SetActiveSheet(0)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}

	w.logger.Debug("workbook_written", slog.String("path", path), slog.Int("sheets", len(f.GetSheetList())))
	return path, nil
}

func (w *WorkbookWriter) writeSummary(f *excelize.File, style int, report *domain.RunReport) error {
	rows := [][]interface{}{
		{"run_id", report.RunID},
		{"dataset", report.Dataset},
		{"fingerprint", report.Fingerprint},
		{"model", string(report.Model)},
		{},
		{"partition", "rows", "accuracy"},
	}
	header := len(rows)

	for _, name := range []string{domain.PartitionTrain, domain.PartitionEval, domain.PartitionTest} {
		row := []interface{}{name, report.SplitSizes[name], ""}
		for _, e := range report.Evaluations {
			if e.Partition == name {
				row[2] = formatFloat(e.Accuracy)
			}
		}
		rows = append(rows, row)
	}

	if err := setRows(f, summarySheet, rows); err != nil {
		return err
	}

	cell, _ := excelize.CoordinatesToCellName(3, header)
	if err := f.SetCellStyle(summarySheet, "A"+formatInt(header), cell, style); err != nil {
		return fmt.Errorf("style summary header: %w", err)
	}
	return f.SetColWidth(summarySheet, "A", "B", 24)
}

func (w *WorkbookWriter) writeFrequencySheet(f *excelize.File, style int, freq domain.ColumnFrequencies) error {
	name := sheetName("freq_" + slug(freq.Column))
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	rows := [][]interface{}{{freq.Column, "label", "count", "percent"}}
	for _, c := range frequencyCells(freq) {
		rows = append(rows, []interface{}{c.Value, c.Label, c.Count, c.Percent})
	}

	if err := setRows(f, name, rows); err != nil {
		return err
	}
	if err := f.SetCellStyle(name, "A1", "D1", style); err != nil {
		return fmt.Errorf("style %s header: %w", name, err)
	}
	return nil
}

func setRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

func sheetName(name string) string {
	if len(name) > maxSheetName {
		return name[:maxSheetName]
	}
	return name
}
