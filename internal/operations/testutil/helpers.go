package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"catpipe/internal/config"
)

// SampleRows is a ten row dataset with two categorical features
var SampleRows = [][]string{
	{"a", "x", "0"},
	{"a", "y", "1"},
	{"b", "x", "0"},
	{"b", "y", "1"},
	{"a", "x", "0"},
	{"b", "y", "1"},
	{"a", "y", "1"},
	{"b", "x", "0"},
	{"a", "x", "0"},
	{"b", "y", "1"},
}

// CreateTestFile creates a test file with content
func CreateTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	return path
}

// CreateDatasetFile writes rows as a whitespace-delimited dataset whose
// label column ends in ";"
func CreateDatasetFile(t *testing.T, dir, name string, rows [][]string) string {
	t.Helper()

	var b strings.Builder
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		b.WriteString(strings.Join(row[:len(row)-1], " "))
		b.WriteString(" ")
		b.WriteString(row[len(row)-1])
		b.WriteString(";\n")
	}
	return CreateTestFile(t, dir, name, b.String())
}

// SetupTestPipeline returns a configuration whose output directories live
// under a temporary directory, together with the resolved paths and a
// sample dataset file
func SetupTestPipeline(t *testing.T) (*config.Config, *config.Paths, string) {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.ImagesDir = filepath.Join(base, "images")
	cfg.Paths.ReportsDir = filepath.Join(base, "reports")
	cfg.Paths.LogsDir = filepath.Join(base, "logs")
	cfg.Dataset.Path = CreateDatasetFile(t, base, "Test00.txt", SampleRows)

	paths, err := cfg.ResolvePaths()
	if err != nil {
		t.Fatalf("failed to resolve paths: %v", err)
	}
	if err := paths.EnsureDirectories(nil); err != nil {
		t.Fatalf("failed to create directories: %v", err)
	}
	return cfg, paths, cfg.Dataset.Path
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WaitForCondition polls condition every interval until it holds or
// timeout passes
func WaitForCondition(t *testing.T, timeout, interval time.Duration, condition func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(interval)
	}
	if condition() {
		return
	}
	t.Fatalf("timeout waiting for condition: %s", msg)
}
