// Package classifier fits categorical classifiers on a feature table and
// scores them on held-out partitions.
//
// Two model families are available, both backed by golearn:
//   - tree: an ID3 decision tree whose learned structure can be rendered
//   - forest: a bagged random forest of ID3 trees
//
// Feature values and labels are encoded through shared categorical
// attributes, so grids built for different partitions agree on the meaning
// of every value.
package classifier
