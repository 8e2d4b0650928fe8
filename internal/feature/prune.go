package feature

import "github.com/couchcryptid/township-etl/internal/domain"

// Prune removes columns whose maximum value across all (region, year) rows is
// below dropRate, and returns the removed column names in sorted order.
//
// The rule is a global maximum, not an average: a category that is negligible
// almost everywhere but dominant in even one region-year is retained. With 22
// soil types and 95+ crop types, most columns are near-zero everywhere and
// carry no signal, but a locally important rare feature must survive.
//
// After pruning, a row's remaining composition fractions no longer
// necessarily sum to 1. That is accepted, not corrected.
//
// Prune is monotonic in dropRate: raising it can only drop more columns.
func Prune(t *domain.FeatureTable, dropRate float64) []string {
	if dropRate <= 0 {
		return nil
	}
	var doomed []string
	for _, col := range t.Columns() {
		if t.ColumnMax(col) < dropRate {
			doomed = append(doomed, col)
		}
	}
	return t.DropColumns(doomed...)
}
