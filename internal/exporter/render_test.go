package exporter

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catpipe/internal/errors"
	"catpipe/internal/infrastructure"
	"catpipe/pkg/contracts/domain"
)

func sampleTree() *domain.TreeNode {
	return &domain.TreeNode{
		Feature:      "Feature 1",
		Class:        "0",
		Distribution: map[string]int{"0": 8, "1": 2},
		Children: []*domain.TreeNode{
			{Value: "a", Class: "0", Distribution: map[string]int{"0": 6}},
			{
				Value:        "b",
				Feature:      "Feature 2",
				Class:        "0",
				Distribution: map[string]int{"0": 2, "1": 2},
				Truncated:    true,
			},
		},
	}
}

func decodePNG(t *testing.T, path string) (int, int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	img, err := png.Decode(f)
	require.NoError(t, err)
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func TestRenderTree(t *testing.T) {
	dir := t.TempDir()
	r := NewRenderer(dir, []string{"k0", "k1"}, infrastructure.DiscardLogger())

	path, err := r.RenderTree(sampleTree(), 3)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tree_with_depth_3.png"), path)

	w, h := decodePNG(t, path)
	assert.Greater(t, w, 0)
	assert.Greater(t, h, 0)

	_, err = r.RenderTree(nil, 3)
	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, errors.ErrTypeRender, appErr.Type)
}

func TestRenderReplacesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, MatrixFileName(TitleTest))
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0644))

	r := NewRenderer(dir, nil, infrastructure.DiscardLogger())
	m := domain.ConfusionMatrix{Labels: []string{"0", "1"}, Counts: [][]int{{3, 1}, {0, 2}}}

	got, err := r.RenderConfusionMatrix(m, TitleTest)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	w, h := decodePNG(t, path)
	assert.Greater(t, w, 2*cellSize)
	assert.Greater(t, h, 2*cellSize)
}

func TestRenderConfusionMatrixLabels(t *testing.T) {
	r := NewRenderer(t.TempDir(), []string{"k0", "k1"}, infrastructure.DiscardLogger())

	assert.Equal(t, []string{"k0", "k1"}, r.displayLabels([]string{"0", "1"}))
	assert.Equal(t, []string{"a", "b", "c"}, r.displayLabels([]string{"a", "b", "c"}))

	_, err := r.RenderConfusionMatrix(domain.ConfusionMatrix{}, TitleTraining)
	assert.Error(t, err)

	zero := domain.ConfusionMatrix{Labels: []string{"0", "1"}, Counts: [][]int{{0, 0}, {0, 0}}}
	_, err = r.RenderConfusionMatrix(zero, TitleEvaluation)
	assert.NoError(t, err)
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, "tree_with_depth_5.png", TreeFileName(5))
	assert.Equal(t, "confusion_matrix_training_data.png", MatrixFileName(MatrixTitle(domain.PartitionTrain)))
	assert.Equal(t, "confusion_matrix_evaluation_data.png", MatrixFileName(MatrixTitle(domain.PartitionEval)))
	assert.Equal(t, "confusion_matrix_test_data.png", MatrixFileName(MatrixTitle(domain.PartitionTest)))
}

func TestNodeLines(t *testing.T) {
	tree := sampleTree()
	assert.Equal(t, []string{"split: Feature 1", "samples = 10", "value = [8, 2]", "class = 0"}, nodeLines(tree))
	assert.Equal(t, "(...)", nodeLines(tree.Children[1])[4])
}
