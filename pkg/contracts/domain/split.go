package domain

// SplitRatios holds the (train, eval, test) fractions
type SplitRatios []float64

// Partition names
const (
	PartitionTrain = "train"
	PartitionEval  = "eval"
	PartitionTest  = "test"
)

// Partition is one aligned slice of a dataset. Rows holds the source row
// indices in partition order.
type Partition struct {
	Name     string       `json:"name"`
	Rows     []int        `json:"rows"`
	Features FeatureTable `json:"-"`
	Target   TargetVector `json:"-"`
}

// Len returns the partition row count
func (p Partition) Len() int {
	return len(p.Rows)
}

// SplitResult holds the three disjoint partitions of a dataset
type SplitResult struct {
	Train    Partition `json:"train"`
	Eval     Partition `json:"eval"`
	Test     Partition `json:"test"`
	Seed     int64     `json:"seed"`
	Warnings []string  `json:"warnings,omitempty"`
}

// Partitions returns train, eval and test in that order
func (r *SplitResult) Partitions() []Partition {
	return []Partition{r.Train, r.Eval, r.Test}
}

// Sizes returns the row counts of train, eval and test
func (r *SplitResult) Sizes() [3]int {
	return [3]int{r.Train.Len(), r.Eval.Len(), r.Test.Len()}
}
