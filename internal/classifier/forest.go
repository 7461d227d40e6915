package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sjwhitworth/golearn/base"
	"github.com/sjwhitworth/golearn/ensemble"
	"github.com/sjwhitworth/golearn/trees"

	"catpipe/internal/errors"
	"catpipe/pkg/contracts/domain"
)

// ForestClassifier is a bagged random forest. Bootstrap sampling and vote
// ties draw from golearn's shared random source, so two fits on the same
// rows may differ.
type ForestClassifier struct {
	logger *slog.Logger
	config Config

	mu     sync.RWMutex
	enc    *encoder
	forest *ensemble.RandomForest
}

// NewForestClassifier creates an unfitted forest
func NewForestClassifier(cfg Config, logger *slog.Logger) *ForestClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Trees <= 0 {
		cfg.Trees = DefaultConfig().Trees
	}
	return &ForestClassifier{
		logger: logger.With(slog.String("component", "forest_classifier")),
		config: cfg,
	}
}

// Kind implements Classifier
func (c *ForestClassifier) Kind() domain.ModelKind { return domain.ModelKindForest }

// Fit implements Classifier
func (c *ForestClassifier) Fit(ctx context.Context, features domain.FeatureTable, target domain.TargetVector) error {
	if err := checkFitInput(features, target); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	perTree := c.config.FeaturesPerTree
	perTree = max(1, min(perTree, features.Width()))

	enc := newEncoder(features.ColumnNames(), c.config.TargetName)
	grid, err := enc.grid(features, target)
	if err != nil {
		return errors.NewModelError("failed to encode training rows", err)
	}

	forest := ensemble.NewRandomForest(c.config.Trees, perTree)
	if err := forest.Fit(grid); err != nil {
		return errors.NewModelError("random forest fit failed", err).
			WithContext("trees", c.config.Trees).
			WithContext("features_per_tree", perTree)
	}

	c.mu.Lock()
	c.enc, c.forest = enc, forest
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "model_fitted",
		slog.Int("rows", len(target)),
		slog.Int("trees", c.config.Trees),
		slog.Int("features_per_tree", perTree),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Predict implements Classifier
func (c *ForestClassifier) Predict(ctx context.Context, features domain.FeatureTable) (domain.TargetVector, error) {
	c.mu.RLock()
	enc, forest := c.enc, c.forest
	c.mu.RUnlock()

	if forest == nil {
		return nil, ErrNotFitted
	}
	if features.Len() == 0 {
		return domain.TargetVector{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	grid, err := enc.grid(features, nil)
	if err != nil {
		return nil, errors.NewModelError("failed to encode prediction rows", err)
	}

	predictions, err := forest.Predict(grid)
	if err != nil {
		return nil, errors.NewModelError("random forest predict failed", err)
	}

	_, rows := predictions.Size()
	if rows != features.Len() {
		return nil, errors.ShapeMismatch("predictions", rows, features.Len())
	}

	out := make(domain.TargetVector, rows)
	for i := range out {
		out[i] = base.GetClass(predictions, i)
	}
	return out, nil
}

// Tree returns the first tree of the ensemble
func (c *ForestClassifier) Tree(maxDepth int) (*domain.TreeNode, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.forest == nil || c.forest.Model == nil || len(c.forest.Model.Models) == 0 {
		return nil, ErrTreeUnavailable
	}
	first, ok := c.forest.Model.Models[0].(*trees.RandomTree)
	if !ok || first.Root == nil {
		return nil, fmt.Errorf("%w: unexpected estimator %T", ErrTreeUnavailable, c.forest.Model.Models[0])
	}
	return convertNode(first.Root, "", 0, maxDepth), nil
}
