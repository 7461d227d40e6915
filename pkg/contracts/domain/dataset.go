package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ColumnKind describes how the values of a column are interpreted
type ColumnKind string

const (
	ColumnKindCategorical ColumnKind = "categorical"
)

// Column is one named entry of a table schema
type Column struct {
	Name string     `json:"name" validate:"required"`
	Kind ColumnKind `json:"kind"`
}

// FeatureTable is an ordered set of rows over an explicit column schema.
// Every row holds exactly len(Columns) values and row i pairs with label i
// of the TargetVector it travels with.
type FeatureTable struct {
	Columns []Column   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// NewFeatureTable builds a table with categorical columns named after names
func NewFeatureTable(names []string, rows [][]string) FeatureTable {
	cols := make([]Column, len(names))
	for i, name := range names {
		cols[i] = Column{Name: name, Kind: ColumnKindCategorical}
	}
	return FeatureTable{Columns: cols, Rows: rows}
}

// Width returns the structural column count. It does not look at rows.
func (t FeatureTable) Width() int {
	return len(t.Columns)
}

// Len returns the number of rows
func (t FeatureTable) Len() int {
	return len(t.Rows)
}

// ColumnNames returns the schema names in column order
func (t FeatureTable) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// IndexOf resolves a column name to its position, -1 when absent
func (t FeatureTable) IndexOf(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Column returns the values of column i in row order
func (t FeatureTable) Column(i int) ([]string, error) {
	if i < 0 || i >= len(t.Columns) {
		return nil, fmt.Errorf("column index %d out of range [0,%d)", i, len(t.Columns))
	}
	out := make([]string, len(t.Rows))
	for r, row := range t.Rows {
		if i >= len(row) {
			return nil, fmt.Errorf("row %d has %d values, schema has %d columns", r, len(row), len(t.Columns))
		}
		out[r] = row[i]
	}
	return out, nil
}

// ColumnByName returns the values of the named column in row order
func (t FeatureTable) ColumnByName(name string) ([]string, error) {
	i := t.IndexOf(name)
	if i < 0 {
		return nil, fmt.Errorf("unknown column %q", name)
	}
	return t.Column(i)
}

// Select returns a new table holding the given rows, in the given order.
// Row slices are shared with the receiver; tables are treated as immutable.
func (t FeatureTable) Select(rows []int) FeatureTable {
	out := FeatureTable{
		Columns: t.Columns,
		Rows:    make([][]string, len(rows)),
	}
	for i, r := range rows {
		out.Rows[i] = t.Rows[r]
	}
	return out
}

// TargetVector holds one label per row
type TargetVector []string

// Select returns the labels at the given positions, in order
func (v TargetVector) Select(rows []int) TargetVector {
	out := make(TargetVector, len(rows))
	for i, r := range rows {
		out[i] = v[r]
	}
	return out
}

// Dataset pairs a feature table with its aligned target vector
type Dataset struct {
	Name        string       `json:"name"`
	Features    FeatureTable `json:"features"`
	Target      TargetVector `json:"target"`
	TargetName  string       `json:"target_name"`
	Fingerprint string       `json:"fingerprint,omitempty"`
}

// Len returns the number of rows
func (d *Dataset) Len() int {
	return len(d.Target)
}

// ValueSet is a set of distinct categorical values
type ValueSet map[string]struct{}

// NewValueSet builds a set from values
func NewValueSet(values ...string) ValueSet {
	s := make(ValueSet, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Add inserts v
func (s ValueSet) Add(v string) {
	s[v] = struct{}{}
}

// Contains reports membership of v
func (s ValueSet) Contains(v string) bool {
	_, ok := s[v]
	return ok
}

// Union adds every member of other to s
func (s ValueSet) Union(other ValueSet) {
	for v := range other {
		s[v] = struct{}{}
	}
}

// Sorted returns the members in lexical order
func (s ValueSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON renders the set as a sorted array
func (s ValueSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON reads the array form written by MarshalJSON
func (s *ValueSet) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = NewValueSet(values...)
	return nil
}
