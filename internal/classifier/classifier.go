package classifier

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"

	"catpipe/internal/errors"
	"catpipe/pkg/contracts/domain"
)

// ErrTreeUnavailable is returned by Tree before a successful Fit, or when the
// model has no single tree to show.
var ErrTreeUnavailable = stderrors.New("tree view unavailable")

// ErrNotFitted is returned by Predict before a successful Fit
var ErrNotFitted = stderrors.New("classifier is not fitted")

// Classifier learns labels from categorical features
type Classifier interface {
	Kind() domain.ModelKind
	Fit(ctx context.Context, features domain.FeatureTable, target domain.TargetVector) error
	Predict(ctx context.Context, features domain.FeatureTable) (domain.TargetVector, error)
	// Tree returns the learned structure cut off below maxDepth levels;
	// maxDepth <= 0 returns the whole tree.
	Tree(maxDepth int) (*domain.TreeNode, error)
}

// Config selects and parameterizes a model
type Config struct {
	Kind            domain.ModelKind
	TargetName      string
	Trees           int
	FeaturesPerTree int
}

// DefaultConfig returns an ID3 tree configuration
func DefaultConfig() Config {
	return Config{
		Kind:            domain.ModelKindTree,
		TargetName:      "Label",
		Trees:           10,
		FeaturesPerTree: 1,
	}
}

// New creates an unfitted classifier of cfg.Kind
func New(cfg Config, logger *slog.Logger) (Classifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Kind {
	case domain.ModelKindTree, "":
		return NewTreeClassifier(cfg.TargetName, logger), nil
	case domain.ModelKindForest:
		return NewForestClassifier(cfg, logger), nil
	default:
		return nil, errors.NewAppValidationError(fmt.Sprintf("unknown model kind %q", cfg.Kind), nil).
			WithContext("model", string(cfg.Kind))
	}
}

func checkFitInput(features domain.FeatureTable, target domain.TargetVector) error {
	if features.Len() != len(target) {
		return errors.ShapeMismatch("features", features.Len(), len(target))
	}
	if len(target) == 0 {
		return errors.NewModelError("cannot fit on zero rows", errors.EmptyDatasetWarning("fit"))
	}
	if features.Width() == 0 {
		return errors.NewModelError("cannot fit without feature columns", nil)
	}
	return nil
}

// majority picks the most frequent label, breaking ties lexically
func majority(dist map[string]int) string {
	labels := make([]string, 0, len(dist))
	for label := range dist {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	best, bestCount := "", -1
	for _, label := range labels {
		if dist[label] > bestCount {
			best, bestCount = label, dist[label]
		}
	}
	return best
}
