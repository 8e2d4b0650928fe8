package feature

import "github.com/couchcryptid/township-etl/internal/domain"

// Stage finalizes a feature table into geometry-free output records: it drops
// the explicitly unwanted columns (a plain set-difference, e.g. removing an
// URBAN class the models should not see) and emits one record per (region,
// year) row in stable order. Missing values come through as nil so the
// downstream imputation step sees every gap.
//
// No aggregation or geometric computation happens here.
func Stage(t *domain.FeatureTable, unwanted []string) []domain.RegionYearRecord {
	t.DropColumns(unwanted...)

	columns := t.Columns()
	keys := t.Keys()
	now := domain.Now()

	records := make([]domain.RegionYearRecord, 0, len(keys))
	for _, key := range keys {
		features := make(map[string]*float64, len(columns))
		for _, col := range columns {
			if v := t.Value(key, col); v.Valid {
				value := v.Value
				features[col] = &value
			} else {
				features[col] = nil
			}
		}
		records = append(records, domain.RegionYearRecord{
			RegionID:    key.RegionID,
			Year:        key.Year,
			Features:    features,
			ProcessedAt: now,
		})
	}
	return records
}
