package domain

// ConfusionMatrix counts predictions per (true, predicted) label pair.
// Counts[i][j] is the number of rows labelled Labels[i] predicted as Labels[j].
type ConfusionMatrix struct {
	Labels []string `json:"labels"`
	Counts [][]int  `json:"counts"`
}

// Total returns the number of scored rows
func (m ConfusionMatrix) Total() int {
	total := 0
	for _, row := range m.Counts {
		for _, n := range row {
			total += n
		}
	}
	return total
}

// Correct returns the diagonal sum
func (m ConfusionMatrix) Correct() int {
	correct := 0
	for i := range m.Counts {
		if i < len(m.Counts[i]) {
			correct += m.Counts[i][i]
		}
	}
	return correct
}

// Evaluation is the score of a fitted model on one partition
type Evaluation struct {
	Partition string          `json:"partition"`
	Rows      int             `json:"rows"`
	Accuracy  float64         `json:"accuracy"`
	Matrix    ConfusionMatrix `json:"confusion_matrix"`
	Classes   []ClassMetrics  `json:"classes,omitempty"`
}

// ClassMetrics holds the one-vs-rest scores of a single label
type ClassMetrics struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// TreeNode is a render-ready view of a learned decision tree.
// Value is the branch value of Feature in the parent that leads here.
type TreeNode struct {
	Feature      string         `json:"feature,omitempty"`
	Value        string         `json:"value,omitempty"`
	Class        string         `json:"class"`
	Distribution map[string]int `json:"distribution,omitempty"`
	Children     []*TreeNode    `json:"children,omitempty"`
	Truncated    bool           `json:"truncated,omitempty"`
}

// IsLeaf reports whether the node has no children
func (n *TreeNode) IsLeaf() bool {
	return len(n.Children) == 0
}

// Depth returns the number of levels below and including n
func (n *TreeNode) Depth() int {
	if n == nil {
		return 0
	}
	deepest := 0
	for _, c := range n.Children {
		if d := c.Depth(); d > deepest {
			deepest = d
		}
	}
	return deepest + 1
}

// Samples returns the number of training rows that reached the node
func (n *TreeNode) Samples() int {
	total := 0
	for _, c := range n.Distribution {
		total += c
	}
	return total
}
