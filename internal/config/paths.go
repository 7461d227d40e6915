package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths holds the resolved output locations of a run
type Paths struct {
	ImagesDir  string
	ReportsDir string
	LogsDir    string
}

// ResolvePaths returns absolute output directories for the configuration
func (c *Config) ResolvePaths() (*Paths, error) {
	resolve := func(p string) (string, error) {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		return abs, nil
	}

	images, err := resolve(c.Paths.ImagesDir)
	if err != nil {
		return nil, err
	}
	reports, err := resolve(c.Paths.ReportsDir)
	if err != nil {
		return nil, err
	}
	logs, err := resolve(c.Paths.LogsDir)
	if err != nil {
		return nil, err
	}

	return &Paths{ImagesDir: images, ReportsDir: reports, LogsDir: logs}, nil
}

// EnsureDirectories creates all output directories if they don't exist
func (p *Paths) EnsureDirectories(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for _, dir := range []string{p.ImagesDir, p.ReportsDir, p.LogsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		logger.Debug("ensured directory exists", slog.String("directory", dir))
	}

	return nil
}

// ImagePath returns the location of a rendered image
func (p *Paths) ImagePath(name string) string {
	return filepath.Join(p.ImagesDir, name)
}

// ReportPath returns the location of an exported report file
func (p *Paths) ReportPath(name string) string {
	return filepath.Join(p.ReportsDir, name)
}

// RunReportDir returns the report directory of one run
func (p *Paths) RunReportDir(runID string) string {
	return filepath.Join(p.ReportsDir, runID)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
