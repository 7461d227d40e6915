package exporter

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"catpipe/internal/config"
	"catpipe/internal/errors"
	"catpipe/pkg/contracts/domain"
)

// mirrorConcurrency bounds parallel uploads to the artifact store
const mirrorConcurrency = 4

// Exporter writes the tabular artifacts of a run into its report directory
// and mirrors every artifact to the configured store
type Exporter struct {
	paths    *config.Paths
	cfg      config.ExportConfig
	csv      *CSVWriter
	workbook *WorkbookWriter
	parquet  *ParquetWriter
	store    ArtifactStore
	logger   *slog.Logger
}

// New creates an exporter. A nil store disables mirroring.
func New(paths *config.Paths, cfg config.ExportConfig, store ArtifactStore, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = nopStore{}
	}
	return &Exporter{
		paths:    paths,
		cfg:      cfg,
		csv:      NewCSVWriter(paths, logger),
		workbook: NewWorkbookWriter(logger),
		parquet:  NewParquetWriter(logger),
		store:    store,
		logger:   logger.With(slog.String("component", "exporter")),
	}
}

// Result lists what Export produced
type Result struct {
	Files    []string `json:"files"`
	Mirrored []string `json:"mirrored,omitempty"`
}

// Export writes frequency tables, partitions, the workbook and finally
// report.json. report.Artifacts is extended with the written files before
// the report itself is saved. split may be nil when the run stopped early.
func (e *Exporter) Export(ctx context.Context, report *domain.RunReport, split *domain.SplitResult) (*Result, error) {
	start := time.Now()
	dir := e.paths.RunReportDir(report.RunID)

	var (
		mu    sync.Mutex
		files []string
	)
	add := func(path string) {
		mu.Lock()
		files = append(files, path)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	if e.cfg.CSV && report.Summary != nil {
		for _, freq := range report.Summary.Frequencies {
			g.Go(func() error {
				path, err := e.csv.WriteFrequencies(dir, freq)
				if err != nil {
					return errors.NewStorageError("failed to write frequency csv", err).WithContext("column", freq.Column)
				}
				add(path)
				return nil
			})
		}
	}

	if split != nil {
		for _, p := range split.Partitions() {
			if e.cfg.CSV {
				g.Go(func() error {
					path, err := e.csv.WritePartition(dir, p, targetName(report))
					if err != nil {
						return errors.NewStorageError("failed to write partition csv", err).WithContext("partition", p.Name)
					}
					add(path)
					return nil
				})
			}
			if e.cfg.Parquet {
				g.Go(func() error {
					if err := gctx.Err(); err != nil {
						return err
					}
					path, err := e.parquet.WritePartition(dir, p)
					if err != nil {
						return errors.NewStorageError("failed to write partition parquet", err).WithContext("partition", p.Name)
					}
					add(path)
					return nil
				})
			}
		}
	}

	if e.cfg.XLSX {
		g.Go(func() error {
			path, err := e.workbook.WriteRunWorkbook(filepath.Join(dir, "summary.xlsx"), report)
			if err != nil {
				return errors.NewStorageError("failed to write workbook", err)
			}
			add(path)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(files)
	report.Artifacts = append(report.Artifacts, files...)

	reportPath := filepath.Join(dir, ReportFileName)
	report.Artifacts = append(report.Artifacts, reportPath)
	if _, err := WriteReport(dir, report); err != nil {
		return nil, errors.NewStorageError("failed to write run report", err)
	}
	files = append(files, reportPath)

	result := &Result{Files: files}
	mirrored, err := e.mirror(ctx, report.RunID, report.Artifacts)
	if err != nil {
		return result, err
	}
	result.Mirrored = mirrored

	e.logger.InfoContext(ctx, "artifacts_exported",
		slog.String("run_id", report.RunID),
		slog.Int("files", len(files)),
		slog.Int("mirrored", len(mirrored)),
		slog.String("store", e.store.Backend()),
		slog.Duration("duration", time.Since(start)))

	return result, nil
}

// mirror uploads every artifact under <run id>/<file name>
func (e *Exporter) mirror(ctx context.Context, runID string, artifacts []string) ([]string, error) {
	if _, ok := e.store.(nopStore); ok || len(artifacts) == 0 {
		return nil, nil
	}

	locations := make([]string, len(artifacts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mirrorConcurrency)
	for i, path := range artifacts {
		g.Go(func() error {
			loc, err := e.store.Put(gctx, runID+"/"+filepath.Base(path), path)
			if err != nil {
				return err
			}
			locations[i] = loc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return locations, nil
}

func targetName(report *domain.RunReport) string {
	if report.TargetName != "" {
		return report.TargetName
	}
	return "Label"
}
