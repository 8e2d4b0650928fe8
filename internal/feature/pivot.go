// Package feature turns long-form aggregation output into the wide feature
// table and finalizes it: pivoting categories into columns, pruning
// uniformly negligible columns, and staging geometry-free output rows.
package feature

import (
	"strings"

	"github.com/couchcryptid/township-etl/internal/domain"
)

// Pivot turns long-form (region, year, category, value) rows into a wide
// table with one column per category observed anywhere in the layer. Every
// (region, year) row gets a concrete value for every category column;
// categories absent from a row are an explicit zero, matching composition
// semantics where absence means "covers none of the region". The grid keys
// are zero-filled too, so regions the layer never touched read as zero
// coverage rather than no-data.
//
// Column names are PREFIX_CATEGORY, upper-cased with spaces collapsed to
// underscores (e.g. prefix "crop", category "Winter Wheat" -> CROP_WINTER_WHEAT).
func Pivot(rows []domain.CompositionRow, prefix string, grid []domain.RegionYearKey) *domain.FeatureTable {
	t := domain.NewFeatureTable()

	columns := make(map[string]string) // category -> column name
	for _, r := range rows {
		if _, ok := columns[r.Category]; !ok {
			columns[r.Category] = columnName(prefix, r.Category)
		}
		t.EnsureRow(domain.RegionYearKey{RegionID: r.RegionID, Year: r.Year})
	}
	for _, key := range grid {
		t.EnsureRow(key)
	}

	// Fill the full key x column grid with zeros, then overwrite with the
	// observed values. Summed duplicates cannot occur: the aggregation step
	// already grouped by (region, year, category).
	for _, key := range t.Keys() {
		for _, col := range columns {
			t.Set(key, col, domain.Float(0))
		}
	}
	for _, r := range rows {
		key := domain.RegionYearKey{RegionID: r.RegionID, Year: r.Year}
		t.Set(key, columns[r.Category], domain.Float(r.Value))
	}
	return t
}

// PivotScalars lifts a per-(region, year) scalar map into a one-column table.
func PivotScalars(values map[domain.RegionYearKey]domain.FeatureValue, prefix, name string) *domain.FeatureTable {
	t := domain.NewFeatureTable()
	col := columnName(prefix, name)
	for key, v := range values {
		t.Set(key, col, v)
	}
	return t
}

// columnName builds the output column name from a dataset prefix and a raw
// category or attribute name.
func columnName(prefix, name string) string {
	norm := func(s string) string {
		return strings.ToUpper(strings.Join(strings.Fields(strings.TrimSpace(s)), "_"))
	}
	p, n := norm(prefix), norm(name)
	if p == "" {
		return n
	}
	return strings.Trim(p, "_") + "_" + n
}
