package classifier

import (
	"fmt"
	"sync"

	"github.com/sjwhitworth/golearn/base"

	"catpipe/internal/errors"
	"catpipe/pkg/contracts/domain"
)

// encoder maps string rows onto golearn categorical attributes. The
// attributes are created once per fit and reused for every grid built
// afterwards; values first seen at prediction time are appended.
type encoder struct {
	mu       sync.Mutex
	names    []string
	features []*base.CategoricalAttribute
	class    *base.CategoricalAttribute
	index    map[string]int
}

func newEncoder(columns []string, targetName string) *encoder {
	e := &encoder{
		names:    append([]string(nil), columns...),
		features: make([]*base.CategoricalAttribute, len(columns)),
		class:    base.NewCategoricalAttribute(),
		index:    make(map[string]int, len(columns)),
	}
	for i, name := range columns {
		attr := base.NewCategoricalAttribute()
		attr.SetName(name)
		e.features[i] = attr
		e.index[name] = i
	}
	if targetName == "" {
		targetName = "label"
	}
	e.class.SetName(targetName)
	return e
}

// columnOf resolves a feature name to its column
func (e *encoder) columnOf(name string) (int, bool) {
	i, ok := e.index[name]
	return i, ok
}

// grid builds a dense instance set. A nil target fills the class column with
// the first known label; golearn requires one even for prediction input.
func (e *encoder) grid(features domain.FeatureTable, target domain.TargetVector) (*base.DenseInstances, error) {
	if features.Width() != len(e.features) {
		return nil, errors.ShapeMismatch("feature schema", features.Width(), len(e.features))
	}
	if target != nil && features.Len() != len(target) {
		return nil, errors.ShapeMismatch("features", features.Len(), len(target))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	inst := base.NewDenseInstances()
	specs := make([]base.AttributeSpec, len(e.features))
	for i, attr := range e.features {
		specs[i] = inst.AddAttribute(attr)
	}
	classSpec := inst.AddAttribute(e.class)
	if err := inst.AddClassAttribute(e.class); err != nil {
		return nil, fmt.Errorf("register class attribute: %w", err)
	}
	if err := inst.Extend(features.Len()); err != nil {
		return nil, fmt.Errorf("allocate %d rows: %w", features.Len(), err)
	}

	placeholder := ""
	if values := e.class.GetValues(); len(values) > 0 {
		placeholder = values[0]
	}

	for r, row := range features.Rows {
		if len(row) != len(specs) {
			return nil, errors.ShapeMismatch(fmt.Sprintf("row %d", r), len(row), len(specs))
		}
		for c, v := range row {
			inst.Set(specs[c], r, e.features[c].GetSysValFromString(v))
		}
		label := placeholder
		if target != nil {
			label = target[r]
		}
		inst.Set(classSpec, r, e.class.GetSysValFromString(label))
	}

	return inst, nil
}

// labels returns every label the encoder has seen, in first-seen order
func (e *encoder) labels() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.class.GetValues()...)
}
