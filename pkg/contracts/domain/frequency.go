package domain

// FrequencyTable maps feature value -> target value -> co-occurrence count.
// Every inner map carries the full target alphabet, zero counts included.
type FrequencyTable map[string]map[string]int

// Total returns the sum of all cells
func (f FrequencyTable) Total() int {
	total := 0
	for _, inner := range f {
		for _, n := range inner {
			total += n
		}
	}
	return total
}

// RowTotal returns the number of rows bearing feature value v
func (f FrequencyTable) RowTotal(v string) int {
	total := 0
	for _, n := range f[v] {
		total += n
	}
	return total
}

// RelativeFrequencyTable maps feature value -> target value -> percentage
// string of the whole dataset, e.g. "20.0%".
type RelativeFrequencyTable map[string]map[string]string

// ColumnFrequencies bundles both tabulations for one feature column
type ColumnFrequencies struct {
	Column   string                 `json:"column"`
	Absolute FrequencyTable         `json:"absolute"`
	Relative RelativeFrequencyTable `json:"relative"`
}

// DatasetSummary holds the descriptive statistics reported for a dataset
type DatasetSummary struct {
	Rows          int                 `json:"rows"`
	FeatureCount  int                 `json:"feature_count"`
	FeatureNames  []string            `json:"feature_names"`
	FeatureValues []ValueSet          `json:"feature_values"`
	TargetValues  ValueSet            `json:"target_values"`
	Frequencies   []ColumnFrequencies `json:"frequencies"`
	Warnings      []string            `json:"warnings,omitempty"`
}
