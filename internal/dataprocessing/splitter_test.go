package dataprocessing_test

import (
	"fmt"
	"sort"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "catpipe/internal/dataprocessing"
	"catpipe/internal/errors"
	"catpipe/internal/infrastructure"
	"catpipe/pkg/contracts/domain"
)

func newTestSplitter(cfg SplitterConfig) *DatasetSplitter {
	return NewDatasetSplitter(infrastructure.DiscardLogger(), cfg)
}

// indexedDataset encodes the row index in every feature and label so that
// alignment can be checked after shuffling.
func indexedDataset(n int) (domain.FeatureTable, domain.TargetVector) {
	rows := make([][]string, n)
	target := make(domain.TargetVector, n)
	for i := 0; i < n; i++ {
		rows[i] = []string{strconv.Itoa(i), fmt.Sprintf("f%d", i%3)}
		target[i] = "t" + strconv.Itoa(i)
	}
	return domain.NewFeatureTable([]string{"Feature 1", "Feature 2"}, rows), target
}

func TestSplitSizes(t *testing.T) {
	tests := []struct {
		name   string
		rows   int
		ratios domain.SplitRatios
		want   [3]int
	}{
		{name: "ten rows 60/20/20", rows: 10, ratios: domain.SplitRatios{0.6, 0.2, 0.2}, want: [3]int{6, 2, 2}},
		{name: "hundred rows 70/15/15", rows: 100, ratios: domain.SplitRatios{0.7, 0.15, 0.15}, want: [3]int{70, 15, 15}},
		{name: "everything to train", rows: 10, ratios: domain.SplitRatios{1, 0, 0}, want: [3]int{10, 0, 0}},
		{name: "nothing to train", rows: 10, ratios: domain.SplitRatios{0, 0.5, 0.5}, want: [3]int{0, 5, 5}},
		{name: "empty eval", rows: 10, ratios: domain.SplitRatios{0.5, 0, 0.5}, want: [3]int{5, 0, 5}},
		{name: "empty test", rows: 10, ratios: domain.SplitRatios{0.8, 0.2, 0}, want: [3]int{8, 2, 0}},
		{name: "holdout rounds up", rows: 7, ratios: domain.SplitRatios{0.6, 0.2, 0.2}, want: [3]int{4, 1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			features, target := indexedDataset(tt.rows)

			result, err := newTestSplitter(DefaultSplitterConfig()).Split(features, target, tt.ratios)
			require.NoError(t, err)

			assert.Equal(t, tt.want, result.Sizes())
			assert.Equal(t, int64(42), result.Seed)
		})
	}
}

func TestSplitRatioValidation(t *testing.T) {
	features, target := indexedDataset(10)

	tests := []struct {
		name     string
		ratios   domain.SplitRatios
		policy   EqualityPolicy
		sentinel error
	}{
		{name: "two ratios", ratios: domain.SplitRatios{0.6, 0.4}, sentinel: errors.ErrInvalidRatioCount},
		{name: "four ratios", ratios: domain.SplitRatios{0.25, 0.25, 0.25, 0.25}, sentinel: errors.ErrInvalidRatioCount},
		{name: "no ratios", ratios: nil, sentinel: errors.ErrInvalidRatioCount},
		{name: "sum above one", ratios: domain.SplitRatios{0.5, 0.3, 0.3}, sentinel: errors.ErrRatiosDoNotSumToOne},
		{name: "sum below one", ratios: domain.SplitRatios{0.5, 0.2, 0.2}, sentinel: errors.ErrRatiosDoNotSumToOne},
		{name: "negative entry", ratios: domain.SplitRatios{1.5, -0.25, -0.25}, sentinel: errors.ErrRatioOutOfRange},
		{
			name:     "strict policy rejects float noise",
			ratios:   domain.SplitRatios{0.5, 0.25, 0.25 + 1e-12},
			policy:   EqualityPolicy{Strict: true},
			sentinel: errors.ErrRatiosDoNotSumToOne,
		},
		{
			name:     "count is checked before sum",
			ratios:   domain.SplitRatios{0.9, 0.9},
			sentinel: errors.ErrInvalidRatioCount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSplitterConfig()
			if tt.policy.Strict {
				cfg.Policy = tt.policy
			}

			result, err := newTestSplitter(cfg).Split(features, target, tt.ratios)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}

func TestSplitTolerancePolicy(t *testing.T) {
	features, target := indexedDataset(10)
	ratios := domain.SplitRatios{0.5, 0.25, 0.25 + 1e-12}

	result, err := newTestSplitter(DefaultSplitterConfig()).Split(features, target, ratios)
	require.NoError(t, err)
	assert.Equal(t, 10, result.Train.Len()+result.Eval.Len()+result.Test.Len())

	strict := SplitterConfig{Seed: 42, Policy: EqualityPolicy{Strict: true}}
	_, err = newTestSplitter(strict).Split(features, target, domain.SplitRatios{0.5, 0.25, 0.25})
	assert.NoError(t, err)
}

func TestSplitShapeMismatch(t *testing.T) {
	features, _ := indexedDataset(5)

	_, err := newTestSplitter(DefaultSplitterConfig()).Split(features, domain.TargetVector{"a"}, domain.SplitRatios{0.6, 0.2, 0.2})
	assert.ErrorIs(t, err, errors.ErrShapeMismatch)
}

func TestSplitConservationAndAlignment(t *testing.T) {
	ratios := []domain.SplitRatios{
		{0.6, 0.2, 0.2},
		{0.8, 0.1, 0.1},
		{0.34, 0.33, 0.33},
		{0, 1, 0},
	}

	for n := 0; n <= 40; n++ {
		for _, r := range ratios {
			t.Run(fmt.Sprintf("n=%d/%v", n, r), func(t *testing.T) {
				features, target := indexedDataset(n)

				result, err := newTestSplitter(DefaultSplitterConfig()).Split(features, target, r)
				require.NoError(t, err)

				var all []int
				for _, p := range result.Partitions() {
					require.Equal(t, len(p.Rows), p.Features.Len())
					require.Equal(t, len(p.Rows), len(p.Target))
					for i, row := range p.Rows {
						assert.Equal(t, strconv.Itoa(row), p.Features.Rows[i][0])
						assert.Equal(t, "t"+strconv.Itoa(row), p.Target[i])
					}
					all = append(all, p.Rows...)
				}

				sort.Ints(all)
				require.Len(t, all, n)
				for i, row := range all {
					assert.Equal(t, i, row, "row indices must be a permutation of the input")
				}
			})
		}
	}
}

func TestSplitDeterminism(t *testing.T) {
	features, target := indexedDataset(50)
	ratios := domain.SplitRatios{0.6, 0.2, 0.2}

	first, err := newTestSplitter(DefaultSplitterConfig()).Split(features, target, ratios)
	require.NoError(t, err)
	second, err := newTestSplitter(DefaultSplitterConfig()).Split(features, target, ratios)
	require.NoError(t, err)

	assert.Equal(t, first.Train.Rows, second.Train.Rows)
	assert.Equal(t, first.Eval.Rows, second.Eval.Rows)
	assert.Equal(t, first.Test.Rows, second.Test.Rows)

	other := DefaultSplitterConfig()
	other.Seed = 7
	third, err := newTestSplitter(other).Split(features, target, ratios)
	require.NoError(t, err)
	assert.NotEqual(t, first.Train.Rows, third.Train.Rows)
}

func TestSplitEmptyDataset(t *testing.T) {
	features := domain.NewFeatureTable([]string{"Feature 1", "Feature 2"}, nil)

	result, err := newTestSplitter(DefaultSplitterConfig()).Split(features, domain.TargetVector{}, domain.SplitRatios{0.6, 0.2, 0.2})
	require.NoError(t, err)

	assert.Equal(t, [3]int{0, 0, 0}, result.Sizes())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "empty dataset")
	assert.Equal(t, 2, result.Train.Features.Width())

	_, err = newTestSplitter(DefaultSplitterConfig()).Split(features, domain.TargetVector{}, domain.SplitRatios{0.6, 0.4})
	assert.ErrorIs(t, err, errors.ErrInvalidRatioCount)
}

func TestEqualityPolicy(t *testing.T) {
	tolerant := EqualityPolicy{Tolerance: 1e-9}
	assert.True(t, tolerant.SumsToOne(1.0))
	assert.True(t, tolerant.SumsToOne(1.0+1e-12))
	assert.False(t, tolerant.SumsToOne(1.1))

	strict := EqualityPolicy{Strict: true, Tolerance: 1}
	assert.True(t, strict.SumsToOne(1.0))
	assert.False(t, strict.SumsToOne(1.0+1e-12))
}
