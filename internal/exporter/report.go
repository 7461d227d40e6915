package exporter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"catpipe/pkg/contracts/domain"
)

// ReportFileName is the JSON run report written into every run directory
const ReportFileName = "report.json"

// WriteReport writes report as indented JSON to <dir>/report.json. The file
// is written to a temporary name first and renamed into place.
func WriteReport(dir string, report *domain.RunReport) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run report: %w", err)
	}

	path := filepath.Join(dir, ReportFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return "", fmt.Errorf("write run report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("move run report into place: %w", err)
	}
	return path, nil
}

// ReadReport loads a report written by WriteReport
func ReadReport(dir string) (*domain.RunReport, error) {
	data, err := os.ReadFile(filepath.Join(dir, ReportFileName))
	if err != nil {
		return nil, err
	}
	var report domain.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode run report: %w", err)
	}
	return &report, nil
}
