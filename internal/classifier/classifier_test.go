package classifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catpipe/internal/errors"
	"catpipe/internal/infrastructure"
	"catpipe/pkg/contracts/domain"
)

// nestedDataset splits on Feature 1 first; only the "b" branch needs
// Feature 2.
func nestedDataset() (domain.FeatureTable, domain.TargetVector) {
	rows := [][]string{
		{"a", "x"}, {"a", "x"}, {"a", "x"}, {"a", "x"},
		{"a", "y"}, {"a", "y"},
		{"b", "x"}, {"b", "x"},
		{"b", "y"}, {"b", "y"},
	}
	target := domain.TargetVector{"0", "0", "0", "0", "0", "0", "1", "1", "0", "0"}
	return domain.NewFeatureTable([]string{"Feature 1", "Feature 2"}, rows), target
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		kind    domain.ModelKind
		want    domain.ModelKind
		wantErr bool
	}{
		{name: "tree", kind: domain.ModelKindTree, want: domain.ModelKindTree},
		{name: "default", kind: "", want: domain.ModelKindTree},
		{name: "forest", kind: domain.ModelKindForest, want: domain.ModelKindForest},
		{name: "unknown", kind: "boosting", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Kind = tt.kind

			c, err := New(cfg, infrastructure.DiscardLogger())
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Kind())
		})
	}
}

func TestTreeFitPredict(t *testing.T) {
	features, target := nestedDataset()
	c := NewTreeClassifier("Label", infrastructure.DiscardLogger())

	require.NoError(t, c.Fit(context.Background(), features, target))

	predicted, err := c.Predict(context.Background(), features)
	require.NoError(t, err)
	assert.Equal(t, target, predicted)

	unseen := domain.NewFeatureTable(features.ColumnNames(), [][]string{{"c", "x"}, {"b", "z"}})
	predicted, err = c.Predict(context.Background(), unseen)
	require.NoError(t, err)
	assert.Equal(t, domain.TargetVector{"0", "0"}, predicted, "missing branches fall back to the majority label")
}

func TestTreeView(t *testing.T) {
	features, target := nestedDataset()
	c := NewTreeClassifier("Label", infrastructure.DiscardLogger())
	require.NoError(t, c.Fit(context.Background(), features, target))

	full, err := c.Tree(0)
	require.NoError(t, err)
	assert.Equal(t, "Feature 1", full.Feature)
	assert.Equal(t, 10, full.Samples())
	assert.Equal(t, 3, full.Depth())
	require.Len(t, full.Children, 2)
	assert.Equal(t, "a", full.Children[0].Value)
	assert.True(t, full.Children[0].IsLeaf())
	assert.Equal(t, "Feature 2", full.Children[1].Feature)

	cut, err := c.Tree(1)
	require.NoError(t, err)
	assert.Equal(t, 2, cut.Depth())
	assert.True(t, cut.Children[1].Truncated)
	assert.False(t, cut.Children[0].Truncated)
}

func TestTreeErrors(t *testing.T) {
	c := NewTreeClassifier("Label", infrastructure.DiscardLogger())

	_, err := c.Tree(3)
	assert.ErrorIs(t, err, ErrTreeUnavailable)

	_, err = c.Predict(context.Background(), domain.NewFeatureTable([]string{"Feature 1"}, nil))
	assert.ErrorIs(t, err, ErrNotFitted)

	empty := domain.NewFeatureTable([]string{"Feature 1"}, nil)
	err = c.Fit(context.Background(), empty, domain.TargetVector{})
	assert.ErrorIs(t, err, errors.ErrEmptyDataset)

	features, _ := nestedDataset()
	err = c.Fit(context.Background(), features, domain.TargetVector{"0"})
	assert.ErrorIs(t, err, errors.ErrShapeMismatch)
}

func TestForestFitPredict(t *testing.T) {
	features, target := nestedDataset()
	cfg := DefaultConfig()
	cfg.Kind = domain.ModelKindForest
	cfg.Trees = 5
	cfg.FeaturesPerTree = 5

	c := NewForestClassifier(cfg, infrastructure.DiscardLogger())
	require.NoError(t, c.Fit(context.Background(), features, target))

	predicted, err := c.Predict(context.Background(), features)
	require.NoError(t, err)
	require.Len(t, predicted, len(target))
	for _, label := range predicted {
		assert.Contains(t, []string{"0", "1"}, label)
	}

	empty, err := c.Predict(context.Background(), domain.NewFeatureTable(features.ColumnNames(), nil))
	require.NoError(t, err)
	assert.Empty(t, empty)

	view, err := c.Tree(2)
	if err == nil {
		assert.LessOrEqual(t, view.Depth(), 3)
	} else {
		assert.ErrorIs(t, err, ErrTreeUnavailable)
	}
}

func TestScore(t *testing.T) {
	features, target := nestedDataset()
	c := NewTreeClassifier("Label", infrastructure.DiscardLogger())
	require.NoError(t, c.Fit(context.Background(), features, target))

	partition := domain.Partition{Name: domain.PartitionTrain, Features: features, Target: target}
	eval, err := Score(context.Background(), c, partition, []string{"0", "1"})
	require.NoError(t, err)

	assert.Equal(t, 10, eval.Rows)
	assert.InDelta(t, 1.0, eval.Accuracy, 1e-12)
	assert.Equal(t, [][]int{{8, 0}, {0, 2}}, eval.Matrix.Counts)
	require.Len(t, eval.Classes, 2)
	assert.InDelta(t, 1.0, eval.Classes[1].F1, 1e-12)

	empty := domain.Partition{
		Name:     domain.PartitionTest,
		Features: features.Select(nil),
		Target:   domain.TargetVector{},
	}
	eval, err = Score(context.Background(), c, empty, []string{"0", "1"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, eval.Accuracy)
	assert.Equal(t, [][]int{{0, 0}, {0, 0}}, eval.Matrix.Counts)
	assert.Empty(t, eval.Classes)
}

func TestConfusion(t *testing.T) {
	truth := domain.TargetVector{"0", "0", "1", "1", "1"}
	predicted := domain.TargetVector{"0", "1", "1", "1", "0"}

	m := Confusion([]string{"0", "1"}, truth, predicted)
	assert.Equal(t, [][]int{{1, 1}, {1, 2}}, m.Counts)
	assert.Equal(t, 5, m.Total())
	assert.Equal(t, 3, m.Correct())

	assert.Equal(t, []string{"0", "1", "2"}, axisLabels([]string{"0", "1"}, domain.TargetVector{"2", "1"}))
}

func TestMajority(t *testing.T) {
	assert.Equal(t, "a", majority(map[string]int{"b": 2, "a": 2}))
	assert.Equal(t, "b", majority(map[string]int{"b": 3, "a": 2}))
	assert.Equal(t, "", majority(nil))
}
