package domain

import "sort"

// FeatureTable is the wide-format feature matrix: one row per (region, year),
// one column per retained feature. Cells are FeatureValues so a missing
// continuous measurement stays distinguishable from a genuine zero.
type FeatureTable struct {
	columns map[string]struct{}
	rows    map[RegionYearKey]map[string]FeatureValue
}

// NewFeatureTable creates an empty table.
func NewFeatureTable() *FeatureTable {
	return &FeatureTable{
		columns: make(map[string]struct{}),
		rows:    make(map[RegionYearKey]map[string]FeatureValue),
	}
}

// Set writes one cell, creating the row and column as needed.
func (t *FeatureTable) Set(key RegionYearKey, column string, v FeatureValue) {
	t.columns[column] = struct{}{}
	row, ok := t.rows[key]
	if !ok {
		row = make(map[string]FeatureValue)
		t.rows[key] = row
	}
	row[column] = v
}

// EnsureRow guarantees the key appears in the output even if no feature ever
// wrote to it; its cells read as no-data.
func (t *FeatureTable) EnsureRow(key RegionYearKey) {
	if _, ok := t.rows[key]; !ok {
		t.rows[key] = make(map[string]FeatureValue)
	}
}

// Value reads one cell. Cells never written are no-data.
func (t *FeatureTable) Value(key RegionYearKey, column string) FeatureValue {
	return t.rows[key][column]
}

// Columns returns the column names in sorted order.
func (t *FeatureTable) Columns() []string {
	out := make([]string, 0, len(t.columns))
	for c := range t.columns {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// HasColumn reports whether the column exists.
func (t *FeatureTable) HasColumn(column string) bool {
	_, ok := t.columns[column]
	return ok
}

// Keys returns the row keys sorted by region then year, the stable output
// order of the whole pipeline.
func (t *FeatureTable) Keys() []RegionYearKey {
	out := make([]RegionYearKey, 0, len(t.rows))
	for k := range t.rows {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegionID != out[j].RegionID {
			return out[i].RegionID < out[j].RegionID
		}
		return out[i].Year < out[j].Year
	})
	return out
}

// Len returns the number of rows.
func (t *FeatureTable) Len() int { return len(t.rows) }

// ColumnMax returns the maximum valid cell value of a column across all rows,
// or 0 if the column has no valid cells.
func (t *FeatureTable) ColumnMax(column string) float64 {
	max, seen := 0.0, false
	for _, row := range t.rows {
		v, ok := row[column]
		if !ok || !v.Valid {
			continue
		}
		if !seen || v.Value > max {
			max, seen = v.Value, true
		}
	}
	return max
}

// DropColumns removes the named columns and their cells, returning the names
// actually present.
func (t *FeatureTable) DropColumns(names ...string) []string {
	var dropped []string
	for _, name := range names {
		if _, ok := t.columns[name]; !ok {
			continue
		}
		delete(t.columns, name)
		for _, row := range t.rows {
			delete(row, name)
		}
		dropped = append(dropped, name)
	}
	return dropped
}

// Merge copies every cell and row of other into t. Datasets touching the same
// (key, column) overwrite in merge order; in practice layers contribute
// disjoint column sets.
func (t *FeatureTable) Merge(other *FeatureTable) {
	for key, row := range other.rows {
		t.EnsureRow(key)
		for column, v := range row {
			t.Set(key, column, v)
		}
	}
}
