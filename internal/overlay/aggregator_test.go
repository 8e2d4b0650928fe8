package overlay_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/township-etl/internal/domain"
	"github.com/couchcryptid/township-etl/internal/geometry"
	"github.com/couchcryptid/township-etl/internal/overlay"
)

// gridPartition builds a 2x2 partition of 10x10 boxes:
//
//	T02 R01 | T02 R02
//	T01 R01 | T01 R02
func gridPartition(t *testing.T, ops *geometry.Ops) *domain.Partition {
	t.Helper()
	var regions []*domain.Region
	for row := 0; row < 2; row++ {
		for col := 0; col < 2; col++ {
			id := domain.RegionID(regionID(row, col))
			box := ops.Box(float64(col*10), float64(row*10), float64(col*10+10), float64(row*10+10))
			area, err := ops.Area(box)
			require.NoError(t, err)
			regions = append(regions, &domain.Region{ID: id, Geometry: box, Area: area})
		}
	}
	return domain.NewPartition("EPSG:3347", regions)
}

func regionID(row, col int) string {
	ids := [2][2]string{
		{"T01S R01E", "T01S R02E"},
		{"T02S R01E", "T02S R02E"},
	}
	return ids[row][col]
}

func newAggregator(t *testing.T) (*geometry.Ops, *overlay.Aggregator) {
	t.Helper()
	ops := geometry.NewOps()
	agg, err := overlay.NewAggregator(ops, gridPartition(t, ops), slog.Default())
	require.NoError(t, err)
	return ops, agg
}

func polygonObs(ops *geometry.Ops, minX, minY, maxX, maxY float64, year int, category string) domain.Observation {
	return domain.Observation{
		Geometry:   ops.Box(minX, minY, maxX, maxY),
		Year:       year,
		Categories: map[string]string{"TYPE": category},
	}
}

func TestOverlay_FragmentPerTouchedRegion(t *testing.T) {
	ops, agg := newAggregator(t)

	// Spans the lower two regions equally.
	layer := []domain.Observation{polygonObs(ops, 5, 0, 15, 10, 2016, "GRAIN")}
	fragments, rep := agg.Overlay(layer, overlay.Options{})

	require.Empty(t, rep.Skipped)
	require.Len(t, fragments, 2)
	assert.Equal(t, 2, rep.Fragments)

	for _, f := range fragments {
		assert.Equal(t, 2016, f.Year)
		assert.InDelta(t, 50.0, f.Area, 1e-9)
		assert.InDelta(t, 0.5, f.AreaFraction, 1e-9)
	}
	// Deterministic region order.
	assert.Equal(t, domain.RegionID("T01S R01E"), fragments[0].RegionID)
	assert.Equal(t, domain.RegionID("T01S R02E"), fragments[1].RegionID)
}

func TestOverlay_TouchingBoundaryEmitsNothing(t *testing.T) {
	ops, agg := newAggregator(t)

	// Sits exactly on the shared edge of the two lower regions: the r-tree
	// proposes both, but the line intersection carries no area.
	layer := []domain.Observation{polygonObs(ops, 10, 0, 20, 10, 2016, "GRAIN")}
	fragments, rep := agg.Overlay(layer, overlay.Options{})

	require.Empty(t, rep.Skipped)
	require.Len(t, fragments, 1)
	assert.Equal(t, domain.RegionID("T01S R02E"), fragments[0].RegionID)
	assert.InDelta(t, 1.0, fragments[0].AreaFraction, 1e-9)
}

func TestOverlay_SkipsEmptyGeometry(t *testing.T) {
	_, agg := newAggregator(t)

	layer := []domain.Observation{{Geometry: nil, Year: 2016}}
	fragments, rep := agg.Overlay(layer, overlay.Options{})
	assert.Empty(t, fragments)
	assert.Empty(t, rep.Skipped)
}

func TestComposeCategories_SharesSumToCoverage(t *testing.T) {
	ops, agg := newAggregator(t)

	// Region T01S R01E is fully covered: 40% grain, 60% orchard.
	layer := []domain.Observation{
		polygonObs(ops, 0, 0, 4, 10, 2016, "GRAIN"),
		polygonObs(ops, 4, 0, 10, 10, 2016, "ORCHARD"),
	}
	fragments, rep := agg.Overlay(layer, overlay.Options{})
	require.Empty(t, rep.Skipped)

	rows, skipped := overlay.ComposeCategories(fragments, "TYPE")
	require.Empty(t, skipped)
	require.Len(t, rows, 2)

	byCategory := map[string]float64{}
	total := 0.0
	for _, r := range rows {
		assert.Equal(t, domain.RegionID("T01S R01E"), r.RegionID)
		byCategory[r.Category] = r.Value
		total += r.Value
	}
	assert.InDelta(t, 0.4, byCategory["GRAIN"], 1e-9)
	assert.InDelta(t, 0.6, byCategory["ORCHARD"], 1e-9)
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestComposeCategories_MissingAttributeIsIsolated(t *testing.T) {
	ops, agg := newAggregator(t)

	layer := []domain.Observation{
		polygonObs(ops, 0, 0, 10, 10, 2016, "GRAIN"),
		{Geometry: ops.Box(0, 10, 10, 20), Year: 2016}, // no category map
	}
	fragments, rep := agg.Overlay(layer, overlay.Options{})
	require.Empty(t, rep.Skipped)

	rows, skipped := overlay.ComposeCategories(fragments, "TYPE")
	require.Len(t, skipped, 1)
	var missing *domain.MissingAttributeError
	assert.ErrorAs(t, skipped[0], &missing)
	require.Len(t, rows, 1)
	assert.Equal(t, "GRAIN", rows[0].Category)
}

func TestAssignPoints_ContainmentAndDeterministicOverlap(t *testing.T) {
	ops, agg := newAggregator(t)

	layer := []domain.Observation{
		{Geometry: ops.Point(5, 5), Year: 2016},   // interior of T01S R01E
		{Geometry: ops.Point(10, 5), Year: 2016},  // shared edge of two regions
		{Geometry: ops.Point(50, 50), Year: 2016}, // outside the partition
	}
	fragments, rep := agg.AssignPoints(layer)

	require.Empty(t, rep.Skipped)
	require.Len(t, fragments, 2)
	assert.Equal(t, domain.RegionID("T01S R01E"), fragments[0].RegionID)
	// Boundary points go to the lowest region ID.
	assert.Equal(t, domain.RegionID("T01S R01E"), fragments[1].RegionID)
	assert.Zero(t, fragments[0].Area)
}

func TestCountCategories(t *testing.T) {
	ops, agg := newAggregator(t)

	layer := []domain.Observation{
		{Geometry: ops.Point(2, 2), Year: 2015, Categories: map[string]string{"USE": "domestic"}},
		{Geometry: ops.Point(3, 3), Year: 2015, Categories: map[string]string{"USE": "domestic"}},
		{Geometry: ops.Point(4, 4), Year: 2015, Categories: map[string]string{"USE": "irrigation"}},
	}
	fragments, _ := agg.AssignPoints(layer)

	rows, skipped := overlay.CountCategories(fragments, "USE")
	require.Empty(t, skipped)
	require.Len(t, rows, 2)
	assert.Equal(t, "domestic", rows[0].Category)
	assert.Equal(t, 2.0, rows[0].Value)
	assert.Equal(t, "irrigation", rows[1].Category)
	assert.Equal(t, 1.0, rows[1].Value)
}

func TestAggregateScalars_Modes(t *testing.T) {
	ops, agg := newAggregator(t)

	key := func(id string, year int) domain.RegionYearKey {
		return domain.RegionYearKey{RegionID: domain.RegionID(id), Year: year}
	}

	// Two polygons covering T01S R01E: 40% at depth 100, 60% at depth 50.
	layer := []domain.Observation{
		{Geometry: ops.Box(0, 0, 4, 10), Year: 2016, Values: map[string]float64{"DEPTH": 100}},
		{Geometry: ops.Box(4, 0, 10, 10), Year: 2016, Values: map[string]float64{"DEPTH": 50}},
	}
	fragments, rep := agg.Overlay(layer, overlay.Options{})
	require.Empty(t, rep.Skipped)

	years := []int{2015, 2016}

	t.Run("area-weighted-mean", func(t *testing.T) {
		values, skipped := agg.AggregateScalars(fragments, "DEPTH", years, overlay.ModeAreaWeightedMean)
		require.Empty(t, skipped)
		// Full grid: 4 regions x 2 years.
		assert.Len(t, values, 8)

		v := values[key("T01S R01E", 2016)]
		require.True(t, v.Valid)
		assert.InDelta(t, 0.4*100+0.6*50, v.Value, 1e-9)

		// Regions and years without fragments are explicit no-data.
		assert.False(t, values[key("T01S R01E", 2015)].Valid)
		assert.False(t, values[key("T02S R02E", 2016)].Valid)
	})

	t.Run("mean", func(t *testing.T) {
		values, _ := agg.AggregateScalars(fragments, "DEPTH", years, overlay.ModeMean)
		v := values[key("T01S R01E", 2016)]
		require.True(t, v.Valid)
		assert.InDelta(t, 75.0, v.Value, 1e-9)
	})

	t.Run("sum", func(t *testing.T) {
		values, _ := agg.AggregateScalars(fragments, "DEPTH", years, overlay.ModeSum)
		v := values[key("T01S R01E", 2016)]
		require.True(t, v.Valid)
		assert.InDelta(t, 150.0, v.Value, 1e-9)

		// Empty groups default to a concrete zero for sums.
		empty := values[key("T02S R02E", 2016)]
		require.True(t, empty.Valid)
		assert.Zero(t, empty.Value)
	})

	t.Run("count ignores values", func(t *testing.T) {
		noValues := []domain.Observation{
			{Geometry: ops.Box(0, 0, 10, 10), Year: 2016},
		}
		frags, _ := agg.Overlay(noValues, overlay.Options{})
		values, skipped := agg.AggregateScalars(frags, "", years, overlay.ModeCount)
		require.Empty(t, skipped)

		v := values[key("T01S R01E", 2016)]
		require.True(t, v.Valid)
		assert.Equal(t, 1.0, v.Value)

		empty := values[key("T02S R02E", 2015)]
		require.True(t, empty.Valid)
		assert.Zero(t, empty.Value)
	})

	t.Run("missing value attribute is isolated", func(t *testing.T) {
		mixed := append(layer, domain.Observation{
			Geometry: ops.Box(10, 0, 20, 10), Year: 2016, Values: map[string]float64{"OTHER": 1},
		})
		frags, _ := agg.Overlay(mixed, overlay.Options{})
		values, skipped := agg.AggregateScalars(frags, "DEPTH", years, overlay.ModeMean)
		require.Len(t, skipped, 1)
		// The record missing DEPTH contributes nothing, not a zero.
		assert.False(t, values[key("T01S R02E", 2016)].Valid)
	})
}
