package validation

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	apperrors "catpipe/internal/errors"
	"catpipe/internal/infrastructure"
)

// DefaultMaxDatasetSize bounds the dataset files a run will accept
const DefaultMaxDatasetSize int64 = 256 << 20

// FileValidator checks dataset inputs and output directories before a run
// touches them
type FileValidator struct {
	maxSize int64
	logger  *slog.Logger
}

// NewFileValidator creates a new file validator
func NewFileValidator(logger *slog.Logger) *FileValidator {
	return &FileValidator{
		maxSize: DefaultMaxDatasetSize,
		logger:  infrastructure.WithComponent(logger, "file_validator"),
	}
}

// SetMaxSize changes the largest accepted dataset; zero or less disables the limit
func (v *FileValidator) SetMaxSize(n int64) {
	v.maxSize = n
}

// ValidateDataset checks that path names a readable, non-empty dataset file
// in a format the loader understands. A missing file is a not-found error,
// everything else a validation error.
func (v *FileValidator) ValidateDataset(path string) error {
	if strings.TrimSpace(path) == "" {
		return apperrors.NewAppValidationError("dataset path is empty", nil)
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		v.logger.Warn("dataset_not_found", slog.String("file", path))
		return apperrors.NewNotFoundError("dataset").WithContext("path", path)
	}
	if err != nil {
		return apperrors.NewAppValidationError(fmt.Sprintf("failed to stat dataset %s", path), err)
	}
	if info.IsDir() {
		return apperrors.NewAppValidationError(fmt.Sprintf("%s is a directory, not a dataset file", path), nil)
	}

	base := filepath.Base(path)
	if strings.HasPrefix(base, "~$") {
		return apperrors.NewAppValidationError(fmt.Sprintf("%s is a temporary Excel file", base), nil)
	}
	if strings.EqualFold(filepath.Ext(path), ".xls") {
		return apperrors.NewAppValidationError(fmt.Sprintf("%s: legacy .xls workbooks are not supported, save as .xlsx", base), nil)
	}

	if info.Size() == 0 {
		return apperrors.NewAppValidationError(fmt.Sprintf("dataset %s is empty", base), nil)
	}
	if v.maxSize > 0 && info.Size() > v.maxSize {
		return apperrors.NewAppValidationError(
			fmt.Sprintf("dataset %s is %d bytes, limit is %d", base, info.Size(), v.maxSize), nil)
	}

	f, err := os.Open(path)
	if err != nil {
		return apperrors.NewAppValidationError(fmt.Sprintf("dataset %s is not readable", base), err)
	}
	f.Close()

	v.logger.Debug("dataset_validated",
		slog.String("file", path),
		slog.Int64("size", info.Size()))
	return nil
}

// ValidateOutputDirectory ensures dir exists and is writable
func (v *FileValidator) ValidateOutputDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		v.logger.Error("output_directory_create_failed",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return apperrors.NewStorageError(fmt.Sprintf("failed to create output directory %s", dir), err)
	}

	tmp, err := os.CreateTemp(dir, ".write_test")
	if err != nil {
		v.logger.Error("output_directory_not_writable",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return apperrors.NewStorageError(fmt.Sprintf("output directory %s is not writable", dir), err)
	}
	name := tmp.Name()
	tmp.Close()
	os.Remove(name)

	return nil
}

// ValidateOutputDirectories runs ValidateOutputDirectory on each dir and
// stops at the first failure
func (v *FileValidator) ValidateOutputDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if err := v.ValidateOutputDirectory(dir); err != nil {
			return err
		}
	}
	return nil
}
