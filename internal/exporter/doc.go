// Package exporter writes the artifacts of a pipeline run.
//
// Renderer draws the learned tree and the confusion matrices as PNG files.
// CSVWriter, WorkbookWriter and ParquetWriter write frequency tables,
// partitions and the run summary. Exporter fans these writers out for one
// run, saves report.json last and mirrors every artifact to an
// ArtifactStore (a local directory or an S3 compatible bucket).
//
// Example usage:
//
//	store, _ := exporter.NewArtifactStore(cfg.Export.Store, logger)
//	exp := exporter.New(paths, cfg.Export, store, logger)
//	result, err := exp.Export(ctx, report, split)
package exporter
