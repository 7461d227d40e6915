// Package dataprocessing holds the data-side stages of the classification
// pipeline: loading a labeled categorical dataset, tabulating feature/label
// frequencies, and partitioning rows into train, eval and test subsets.
//
// # Components
//
//  1. DataSource: reads whitespace-delimited text or .xlsx files into a Dataset
//  2. FrequencyAnalyzer: value sets and absolute/relative frequency tables
//  3. DatasetSplitter: validated, seeded three-way split
//
// # Usage
//
//	src := dataprocessing.NewDataSource(logger)
//	ds, err := src.Load(ctx, "Test00.txt", dataprocessing.LoadOptions{})
//	if err != nil {
//	    return err
//	}
//
//	analyzer := dataprocessing.NewFrequencyAnalyzer(logger)
//	summary, err := analyzer.Summarize(ctx, ds)
//
//	splitter := dataprocessing.NewDatasetSplitter(logger, dataprocessing.DefaultSplitterConfig())
//	parts, err := splitter.Split(ds.Features, ds.Target, domain.SplitRatios{0.6, 0.2, 0.2})
//
// # Frequencies
//
// Relative frequencies use the whole dataset as denominator: a cell reports
// the share of all rows having that (feature value, label) pair, not the
// conditional share among rows with the feature value.
//
// # Error Handling
//
// Validation failures wrap the sentinels of internal/errors
// (ErrShapeMismatch, ErrInvalidRatioCount, ErrRatiosDoNotSumToOne,
// ErrRatioOutOfRange) and are returned before any work is done. Zero-row
// inputs are not errors: they are logged as empty_dataset warnings and
// produce empty tables and partitions.
package dataprocessing
