package operations

import (
	"context"
	"path/filepath"
	"slices"

	"catpipe/internal/classifier"
	"catpipe/internal/config"
	"catpipe/internal/exporter"
	"catpipe/pkg/contracts/domain"
)

// BuildReport assembles the run report from what the steps left in state.
// It can be called at any point of a run.
func BuildReport(state *OperationState) *domain.RunReport {
	snap := state.Clone()

	report := &domain.RunReport{
		RunID:       snap.ID,
		Status:      snap.Status.Domain(),
		StartedAt:   snap.StartTime,
		CompletedAt: snap.EndTime,
		Warnings:    snap.Warnings,
	}

	if req, ok := snap.Config[ContextKeyRequest].(domain.RunRequest); ok {
		report.Request = req
		report.Model = req.Model
	}
	if ds, ok := snap.Context[ContextKeyDataset].(*domain.Dataset); ok {
		report.Dataset = ds.Name
		report.TargetName = ds.TargetName
		report.Fingerprint = ds.Fingerprint
	}
	if summary, ok := snap.Context[ContextKeySummary].(*domain.DatasetSummary); ok {
		report.Summary = summary
	}
	if split, ok := snap.Context[ContextKeySplit].(*domain.SplitResult); ok {
		report.SplitSizes = make(map[string]int, 3)
		for _, p := range split.Partitions() {
			report.SplitSizes[p.Name] = p.Len()
		}
	}
	if c, ok := snap.Context[ContextKeyClassifier].(classifier.Classifier); ok {
		report.Model = c.Kind()
	}
	if evals, ok := snap.Context[ContextKeyEvaluations].([]domain.Evaluation); ok {
		report.Evaluations = evals
	}
	if images, ok := snap.Context[ContextKeyImages].([]string); ok {
		report.Artifacts = append(report.Artifacts, images...)
	}
	if files, ok := snap.Context[ContextKeyArtifacts].([]string); ok {
		report.Artifacts = append(report.Artifacts, files...)
	}

	for _, id := range snap.order {
		if step, ok := snap.Steps[id]; ok {
			report.Steps = append(report.Steps, step.Report())
		}
	}

	if snap.Error != nil {
		report.Error = snap.Error.Error()
	}

	return report
}

// ReportFileWriter writes final run reports to <reports>/<run id>/report.json
type ReportFileWriter struct {
	paths *config.Paths
}

// NewReportFileWriter creates a writer rooted at the reports directory
func NewReportFileWriter(paths *config.Paths) *ReportFileWriter {
	return &ReportFileWriter{paths: paths}
}

// WriteReport lists report.json among the artifacts and writes the report
func (w *ReportFileWriter) WriteReport(_ context.Context, report *domain.RunReport) (string, error) {
	dir := w.paths.RunReportDir(report.RunID)
	path := filepath.Join(dir, exporter.ReportFileName)
	if !slices.Contains(report.Artifacts, path) {
		report.Artifacts = append(report.Artifacts, path)
	}
	return exporter.WriteReport(dir, report)
}

var _ ReportWriter = (*ReportFileWriter)(nil)
