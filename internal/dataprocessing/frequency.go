package dataprocessing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"catpipe/internal/errors"
	"catpipe/pkg/contracts/domain"
)

// FrequencyAnalyzer derives descriptive statistics from a feature table and
// its target vector. It never mutates its inputs and holds no state besides
// the injected logger.
type FrequencyAnalyzer struct {
	logger *slog.Logger
}

// NewFrequencyAnalyzer creates an analyzer that reports through logger
func NewFrequencyAnalyzer(logger *slog.Logger) *FrequencyAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrequencyAnalyzer{
		logger: logger.With(slog.String("component", "frequency_analyzer")),
	}
}

// FeatureCount returns the number of feature columns. Zero-row tables report
// their schema width.
func (a *FrequencyAnalyzer) FeatureCount(features domain.FeatureTable) int {
	return features.Width()
}

// FeatureValueSets returns the distinct values of every column, in column
// order. Columns are scanned concurrently; each worker owns one result slot.
func (a *FrequencyAnalyzer) FeatureValueSets(ctx context.Context, features domain.FeatureTable) ([]domain.ValueSet, error) {
	sets := make([]domain.ValueSet, features.Width())

	g, ctx := errgroup.WithContext(ctx)
	for i := range sets {
		g.Go(func() error {
			set := make(domain.ValueSet)
			for r, row := range features.Rows {
				if r%4096 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				if i >= len(row) {
					return errors.ShapeMismatch(fmt.Sprintf("row %d", r), len(row), features.Width())
				}
				set.Add(row[i])
			}
			sets[i] = set
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("feature value sets: %w", err)
	}

	return sets, nil
}

// TargetValueSet returns the distinct labels of target
func (a *FrequencyAnalyzer) TargetValueSet(target domain.TargetVector) domain.ValueSet {
	return domain.NewValueSet(target...)
}

// AbsoluteFrequencies counts, for every value of featureColumn, how many rows
// carry each target label. Every (feature value, label) pair of the observed
// cross product is present, zero counts included.
func (a *FrequencyAnalyzer) AbsoluteFrequencies(featureColumn []string, target domain.TargetVector) (domain.FrequencyTable, error) {
	if len(featureColumn) != len(target) {
		return nil, errors.ShapeMismatch("feature column", len(featureColumn), len(target))
	}

	table := make(domain.FrequencyTable)
	if len(target) == 0 {
		a.logger.Warn("empty_dataset", slog.String("operation", "absolute_frequencies"),
			slog.String("warning", errors.EmptyDatasetWarning("absolute_frequencies").Error()))
		return table, nil
	}

	labels := domain.NewValueSet(target...)
	for _, v := range featureColumn {
		if _, ok := table[v]; ok {
			continue
		}
		inner := make(map[string]int, len(labels))
		for label := range labels {
			inner[label] = 0
		}
		table[v] = inner
	}

	for i, v := range featureColumn {
		table[v][target[i]]++
	}

	return table, nil
}

// RelativeFrequencies divides every absolute count by the total row count and
// formats it as a percentage rounded to three decimals, e.g. "20.0%".
// The denominator is the whole dataset, not the rows sharing a feature value.
func (a *FrequencyAnalyzer) RelativeFrequencies(featureColumn []string, target domain.TargetVector) (domain.RelativeFrequencyTable, error) {
	absolute, err := a.AbsoluteFrequencies(featureColumn, target)
	if err != nil {
		return nil, err
	}
	return relativeFrom(absolute, len(target)), nil
}

// relativeFrom divides every count of absolute by total. An empty table
// yields an empty table.
func relativeFrom(absolute domain.FrequencyTable, total int) domain.RelativeFrequencyTable {
	relative := make(domain.RelativeFrequencyTable, len(absolute))
	for v, inner := range absolute {
		out := make(map[string]string, len(inner))
		for label, count := range inner {
			out[label] = FormatPercent(float64(count) * 100 / float64(total))
		}
		relative[v] = out
	}
	return relative
}

// FormatPercent rounds p to three decimals and renders it with a trailing
// percent sign. Whole numbers keep one decimal: 20 -> "20.0%".
func FormatPercent(p float64) string {
	rounded := math.RoundToEven(p*1000) / 1000
	s := strconv.FormatFloat(rounded, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s + "%"
}

// ParsePercent is the inverse of FormatPercent
func ParsePercent(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
}

// Summarize computes the dataset summary: feature count, value sets and the
// frequency tables of the requested columns (the first two when none given).
func (a *FrequencyAnalyzer) Summarize(ctx context.Context, ds *domain.Dataset, columns ...string) (*domain.DatasetSummary, error) {
	features := ds.Features
	if features.Len() != len(ds.Target) {
		return nil, errors.ShapeMismatch("features", features.Len(), len(ds.Target))
	}

	summary := &domain.DatasetSummary{
		Rows:         ds.Len(),
		FeatureCount: a.FeatureCount(features),
		FeatureNames: features.ColumnNames(),
		TargetValues: a.TargetValueSet(ds.Target),
	}

	if ds.Len() == 0 {
		warning := errors.EmptyDatasetWarning("summarize").Error()
		summary.Warnings = append(summary.Warnings, warning)
		a.logger.WarnContext(ctx, "empty_dataset", slog.String("operation", "summarize"),
			slog.String("dataset", ds.Name))
	}

	sets, err := a.FeatureValueSets(ctx, features)
	if err != nil {
		return nil, err
	}
	summary.FeatureValues = sets

	if len(columns) == 0 {
		columns = DefaultAnalysisColumns(features)
	}

	for _, name := range columns {
		column, err := features.ColumnByName(name)
		if err != nil {
			return nil, errors.NewAppValidationError("unknown analysis column", err).WithContext("column", name)
		}

		absolute, err := a.AbsoluteFrequencies(column, ds.Target)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		relative := relativeFrom(absolute, len(ds.Target))

		summary.Frequencies = append(summary.Frequencies, domain.ColumnFrequencies{
			Column:   name,
			Absolute: absolute,
			Relative: relative,
		})

		a.logger.InfoContext(ctx, "frequencies_computed",
			slog.String("column", name),
			slog.Int("feature_values", len(absolute)),
			slog.Int("target_values", len(summary.TargetValues)))
	}

	a.logger.InfoContext(ctx, "dataset_summarized",
		slog.Int("rows", summary.Rows),
		slog.Int("feature_count", summary.FeatureCount),
		slog.Any("target_values", summary.TargetValues.Sorted()))

	return summary, nil
}

// DefaultAnalysisColumns returns the first two columns of the schema, or
// fewer when the table is narrower.
func DefaultAnalysisColumns(features domain.FeatureTable) []string {
	names := features.ColumnNames()
	if len(names) > 2 {
		names = names[:2]
	}
	return names
}
