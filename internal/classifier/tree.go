package classifier

import (
	"context"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/sjwhitworth/golearn/trees"

	"catpipe/internal/errors"
	"catpipe/pkg/contracts/domain"
)

// TreeClassifier is an unpruned ID3 decision tree
type TreeClassifier struct {
	logger     *slog.Logger
	targetName string

	mu   sync.RWMutex
	enc  *encoder
	root *trees.DecisionTreeNode
}

// NewTreeClassifier creates an unfitted tree
func NewTreeClassifier(targetName string, logger *slog.Logger) *TreeClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &TreeClassifier{
		logger:     logger.With(slog.String("component", "tree_classifier")),
		targetName: targetName,
	}
}

// Kind implements Classifier
func (c *TreeClassifier) Kind() domain.ModelKind { return domain.ModelKindTree }

// Fit implements Classifier
func (c *TreeClassifier) Fit(ctx context.Context, features domain.FeatureTable, target domain.TargetVector) error {
	if err := checkFitInput(features, target); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	enc := newEncoder(features.ColumnNames(), c.targetName)
	grid, err := enc.grid(features, target)
	if err != nil {
		return errors.NewModelError("failed to encode training rows", err)
	}

	model := trees.NewID3DecisionTree(0.0)
	if err := model.Fit(grid); err != nil {
		return errors.NewModelError("id3 fit failed", err)
	}
	if model.Root == nil {
		return errors.NewModelError("id3 fit produced no tree", nil)
	}

	c.mu.Lock()
	c.enc, c.root = enc, model.Root
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "model_fitted",
		slog.Int("rows", len(target)),
		slog.Int("features", features.Width()),
		slog.Int("depth", convertNode(model.Root, "", 0, 0).Depth()),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Predict walks the learned tree for every row. A value with no branch at a
// node resolves to that node's majority label.
func (c *TreeClassifier) Predict(ctx context.Context, features domain.FeatureTable) (domain.TargetVector, error) {
	c.mu.RLock()
	enc, root := c.enc, c.root
	c.mu.RUnlock()

	if root == nil {
		return nil, ErrNotFitted
	}
	if features.Width() != len(enc.names) {
		return nil, errors.ShapeMismatch("feature schema", features.Width(), len(enc.names))
	}

	out := make(domain.TargetVector, features.Len())
	for r, row := range features.Rows {
		if r%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		label, err := walk(root, enc, row)
		if err != nil {
			return nil, err
		}
		out[r] = label
	}
	return out, nil
}

func walk(node *trees.DecisionTreeNode, enc *encoder, row []string) (string, error) {
	for {
		if len(node.Children) == 0 || node.SplitRule == nil || node.SplitRule.SplitAttr == nil {
			return nodeClass(node), nil
		}
		col, ok := enc.columnOf(node.SplitRule.SplitAttr.GetName())
		if !ok || col >= len(row) {
			return "", errors.NewModelError("tree splits on an unknown feature", nil).
				WithContext("feature", node.SplitRule.SplitAttr.GetName())
		}
		child, ok := node.Children[row[col]]
		if !ok {
			return nodeClass(node), nil
		}
		node = child
	}
}

func nodeClass(node *trees.DecisionTreeNode) string {
	if len(node.ClassDist) > 0 {
		return majority(node.ClassDist)
	}
	return node.Class
}

// Tree implements Classifier
func (c *TreeClassifier) Tree(maxDepth int) (*domain.TreeNode, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.root == nil {
		return nil, ErrTreeUnavailable
	}
	return convertNode(c.root, "", 0, maxDepth), nil
}

// convertNode copies a golearn node into the render view. Branches are
// ordered by value so the view is stable across runs.
func convertNode(n *trees.DecisionTreeNode, value string, depth, maxDepth int) *domain.TreeNode {
	node := &domain.TreeNode{
		Value:        value,
		Class:        nodeClass(n),
		Distribution: maps.Clone(n.ClassDist),
	}
	if len(n.Children) == 0 || n.SplitRule == nil || n.SplitRule.SplitAttr == nil {
		return node
	}

	node.Feature = n.SplitRule.SplitAttr.GetName()
	if maxDepth > 0 && depth >= maxDepth {
		node.Truncated = true
		return node
	}

	values := make([]string, 0, len(n.Children))
	for v := range n.Children {
		values = append(values, v)
	}
	sort.Strings(values)
	for _, v := range values {
		node.Children = append(node.Children, convertNode(n.Children[v], v, depth+1, maxDepth))
	}
	return node
}
