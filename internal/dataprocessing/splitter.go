package dataprocessing

import (
	"log/slog"
	"math"
	"math/rand"

	"catpipe/internal/errors"
	"catpipe/pkg/contracts/domain"
)

const (
	// DefaultSplitSeed seeds both shuffle stages
	DefaultSplitSeed int64 = 42
	// DefaultRatioTolerance is the absolute slack allowed on the ratio sum
	DefaultRatioTolerance = 1e-9

	// countSlack keeps float noise such as 0.4*10 = 4.000000000000001 from
	// adding a row when partition sizes are rounded up.
	countSlack = 1e-9
)

// EqualityPolicy decides whether the split ratios sum to one
type EqualityPolicy struct {
	// Strict requires the float sum to be exactly 1.0
	Strict    bool
	Tolerance float64
}

// SumsToOne reports whether sum equals 1.0 under the policy
func (p EqualityPolicy) SumsToOne(sum float64) bool {
	if p.Strict {
		return sum == 1.0
	}
	return math.Abs(sum-1.0) <= p.Tolerance
}

// SplitterConfig configures a DatasetSplitter
type SplitterConfig struct {
	Seed   int64
	Policy EqualityPolicy
}

// DefaultSplitterConfig returns seed 42 with a 1e-9 ratio tolerance
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{
		Seed:   DefaultSplitSeed,
		Policy: EqualityPolicy{Tolerance: DefaultRatioTolerance},
	}
}

// DatasetSplitter partitions aligned feature/target tables into train, eval
// and test subsets. The same inputs always yield the same partitions.
type DatasetSplitter struct {
	logger *slog.Logger
	config SplitterConfig
}

// NewDatasetSplitter creates a splitter
func NewDatasetSplitter(logger *slog.Logger, config SplitterConfig) *DatasetSplitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &DatasetSplitter{
		logger: logger.With(slog.String("component", "dataset_splitter")),
		config: config,
	}
}

// ValidateRatios checks ratios against the splitter's equality policy
func (s *DatasetSplitter) ValidateRatios(ratios domain.SplitRatios) error {
	return CheckRatios(ratios, s.config.Policy)
}

// CheckRatios checks, in order: three entries, sum of one under policy,
// every entry within [0,1].
func CheckRatios(ratios domain.SplitRatios, policy EqualityPolicy) error {
	if len(ratios) != 3 {
		return errors.InvalidRatioCount(ratios)
	}

	sum := ratios[0] + ratios[1] + ratios[2]
	if !policy.SumsToOne(sum) {
		return errors.RatiosDoNotSumToOne(ratios, sum)
	}

	for i, r := range ratios {
		if r < 0 || r > 1 || math.IsNaN(r) {
			return errors.RatioOutOfRange(i, r)
		}
	}

	return nil
}

// Split partitions features and target by ratios (train, eval, test).
//
// Stage one shuffles all rows and separates train from the remainder, which
// receives ceil((eval+test)*N) rows. Stage two shuffles the remainder with the
// same seed and separates test, ceil(test/(eval+test)*M) rows, from eval.
// Both subsets of a partition are built from one index list, so label i
// always belongs to feature row i.
func (s *DatasetSplitter) Split(features domain.FeatureTable, target domain.TargetVector, ratios domain.SplitRatios) (*domain.SplitResult, error) {
	if err := s.ValidateRatios(ratios); err != nil {
		return nil, err
	}
	if features.Len() != len(target) {
		return nil, errors.ShapeMismatch("features", features.Len(), len(target))
	}

	result := &domain.SplitResult{Seed: s.config.Seed}
	n := len(target)

	if n == 0 {
		warning := errors.EmptyDatasetWarning("split")
		s.logger.Warn("empty_dataset", slog.String("operation", "split"), slog.String("warning", warning.Error()))
		result.Warnings = append(result.Warnings, warning.Error())
	}

	holdout := ratios[1] + ratios[2]
	remainder, train := s.shuffleSplit(seq(n), holdout)

	var eval, test []int
	if holdout > 0 {
		test, eval = s.shuffleSplit(remainder, ratios[2]/holdout)
	}

	result.Train = partition(domain.PartitionTrain, train, features, target)
	result.Eval = partition(domain.PartitionEval, eval, features, target)
	result.Test = partition(domain.PartitionTest, test, features, target)

	s.logger.Info("dataset_split",
		slog.Int("rows", n),
		slog.Any("ratios", []float64(ratios)),
		slog.Int("train_rows", result.Train.Len()),
		slog.Int("eval_rows", result.Eval.Len()),
		slog.Int("test_rows", result.Test.Len()),
		slog.Int64("seed", s.config.Seed))

	return result, nil
}

// shuffleSplit permutes rows with a freshly seeded source and returns the
// first ceil(frac*len) of them as head and the rest as tail.
func (s *DatasetSplitter) shuffleSplit(rows []int, frac float64) (head, tail []int) {
	if len(rows) == 0 {
		return []int{}, []int{}
	}

	rng := rand.New(rand.NewSource(s.config.Seed))
	perm := rng.Perm(len(rows))

	size := int(math.Ceil(frac*float64(len(rows)) - countSlack))
	size = max(0, min(size, len(rows)))

	shuffled := make([]int, len(rows))
	for i, p := range perm {
		shuffled[i] = rows[p]
	}

	return shuffled[:size:size], shuffled[size:]
}

func partition(name string, rows []int, features domain.FeatureTable, target domain.TargetVector) domain.Partition {
	if rows == nil {
		rows = []int{}
	}
	return domain.Partition{
		Name:     name,
		Rows:     rows,
		Features: features.Select(rows),
		Target:   target.Select(rows),
	}
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
