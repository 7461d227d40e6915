package classifier

import (
	"context"
	"math"
	"sort"

	"github.com/sjwhitworth/golearn/evaluation"

	"catpipe/internal/errors"
	"catpipe/pkg/contracts/domain"
)

// Score predicts p with c and compares the result with p's labels. The
// matrix axes are labels, extended with any label found only in p or in the
// predictions, so matrices of different partitions line up. An empty
// partition scores 0 with an all-zero matrix.
func Score(ctx context.Context, c Classifier, p domain.Partition, labels []string) (domain.Evaluation, error) {
	result := domain.Evaluation{Partition: p.Name, Rows: len(p.Target)}

	if p.Features.Len() != len(p.Target) {
		return result, errors.ShapeMismatch(p.Name+" features", p.Features.Len(), len(p.Target))
	}

	predicted, err := c.Predict(ctx, p.Features)
	if err != nil {
		return result, err
	}

	axes := axisLabels(labels, p.Target, predicted)
	result.Matrix = Confusion(axes, p.Target, predicted)

	if len(p.Target) == 0 {
		return result, nil
	}

	cm := golearnMatrix(p.Target, predicted)
	result.Accuracy = finite(evaluation.GetAccuracy(cm))
	for _, label := range axes {
		if _, ok := cm[label]; !ok {
			continue
		}
		result.Classes = append(result.Classes, domain.ClassMetrics{
			Label:     label,
			Precision: finite(evaluation.GetPrecision(label, cm)),
			Recall:    finite(evaluation.GetRecall(label, cm)),
			F1:        finite(evaluation.GetF1Score(label, cm)),
		})
	}

	return result, nil
}

// Confusion counts (truth, predicted) pairs over the given axes
func Confusion(axes []string, truth, predicted domain.TargetVector) domain.ConfusionMatrix {
	pos := make(map[string]int, len(axes))
	counts := make([][]int, len(axes))
	for i, label := range axes {
		pos[label] = i
		counts[i] = make([]int, len(axes))
	}
	for i := range truth {
		if i >= len(predicted) {
			break
		}
		t, okT := pos[truth[i]]
		p, okP := pos[predicted[i]]
		if okT && okP {
			counts[t][p]++
		}
	}
	return domain.ConfusionMatrix{Labels: append([]string(nil), axes...), Counts: counts}
}

func golearnMatrix(truth, predicted domain.TargetVector) evaluation.ConfusionMatrix {
	cm := make(evaluation.ConfusionMatrix)
	for i := range truth {
		row, ok := cm[truth[i]]
		if !ok {
			row = make(map[string]int)
			cm[truth[i]] = row
		}
		row[predicted[i]]++
	}
	return cm
}

func axisLabels(known []string, extra ...domain.TargetVector) []string {
	seen := domain.NewValueSet(known...)
	axes := append([]string(nil), known...)
	var added []string
	for _, vec := range extra {
		for _, v := range vec {
			if !seen.Contains(v) {
				seen.Add(v)
				added = append(added, v)
			}
		}
	}
	sort.Strings(added)
	return append(axes, added...)
}

// finite maps the NaN of a 0/0 metric to zero
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
