package pipeline_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/township-etl/internal/domain"
	"github.com/couchcryptid/township-etl/internal/geometry"
	"github.com/couchcryptid/township-etl/internal/pipeline"
)

// testPartition is a 2x2 grid of 10x10 squares anchored at the origin.
func testPartition(t *testing.T, ops *geometry.Ops) *domain.Partition {
	t.Helper()
	ids := []string{"T01S R01E", "T01S R02E", "T02S R01E", "T02S R02E"}
	var regions []*domain.Region
	for i, id := range ids {
		col, row := i%2, i/2
		box := ops.Box(float64(col*10), float64(row*10), float64(col*10+10), float64(row*10+10))
		area, err := ops.Area(box)
		require.NoError(t, err)
		regions = append(regions, &domain.Region{ID: domain.RegionID(id), Geometry: box, Area: area})
	}
	return domain.NewPartition("EPSG:3347", regions)
}

func newTestEngine(t *testing.T, cfg pipeline.EngineConfig) (*geometry.Ops, *pipeline.Engine) {
	t.Helper()
	ops := geometry.NewOps()
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	if cfg.EnvelopeSelector == "" {
		cfg.EnvelopeSelector = "partition-union"
	}
	eng, err := pipeline.NewEngine(ops, testPartition(t, ops), cfg, slog.Default(), newTestMetrics())
	require.NoError(t, err)
	return ops, eng
}

func recordIndex(records []domain.RegionYearRecord) map[domain.RegionYearKey]*domain.RegionYearRecord {
	idx := make(map[domain.RegionYearKey]*domain.RegionYearRecord, len(records))
	for i := range records {
		r := &records[i]
		idx[domain.RegionYearKey{RegionID: r.RegionID, Year: r.Year}] = r
	}
	return idx
}

func TestEngine_Transform_RejectsConfigurationErrors(t *testing.T) {
	_, eng := newTestEngine(t, pipeline.EngineConfig{Years: []int{2016}})

	t.Run("crs mismatch", func(t *testing.T) {
		layer := makeLayer("crops")
		layer.CRS = "EPSG:4326"
		_, err := eng.Transform(context.Background(), layer)
		require.Error(t, err)
		assert.True(t, pipeline.IsFatal(err))
	})

	t.Run("unknown aggregation mode", func(t *testing.T) {
		layer := makeLayer("crops")
		layer.Aggregation = "median"
		_, err := eng.Transform(context.Background(), layer)
		require.Error(t, err)
		assert.True(t, pipeline.IsFatal(err))
	})

	t.Run("unknown layer kind", func(t *testing.T) {
		layer := makeLayer("crops")
		layer.Kind = "raster"
		_, err := eng.Transform(context.Background(), layer)
		require.Error(t, err)
		assert.True(t, pipeline.IsFatal(err))
	})
}

func TestEngine_Transform_PolygonCompositionLayer(t *testing.T) {
	ops, eng := newTestEngine(t, pipeline.EngineConfig{Years: []int{2015, 2016}})

	layer := makeLayer("crops")
	layer.CategoryAttr = "TYPE"
	layer.Prefix = "CROP"
	layer.Observations = []domain.Observation{
		// T01S R01E in 2016: 40% grain, 60% orchard.
		{Geometry: ops.Box(0, 0, 4, 10), Year: 2016, Categories: map[string]string{"TYPE": "GRAIN"}},
		{Geometry: ops.Box(4, 0, 10, 10), Year: 2016, Categories: map[string]string{"TYPE": "ORCHARD"}},
	}

	records, err := eng.Transform(context.Background(), layer)
	require.NoError(t, err)

	// Full grid: 4 regions x 2 years, even though only one region-year saw data.
	require.Len(t, records, 8)
	idx := recordIndex(records)

	covered := idx[domain.RegionYearKey{RegionID: "T01S R01E", Year: 2016}]
	require.NotNil(t, covered)
	require.NotNil(t, covered.Features["CROP_GRAIN"])
	assert.InDelta(t, 0.4, *covered.Features["CROP_GRAIN"], 1e-9)
	assert.InDelta(t, 0.6, *covered.Features["CROP_ORCHARD"], 1e-9)

	// Regions the layer never touched carry explicit zeros for every
	// category column present in the layer.
	other := idx[domain.RegionYearKey{RegionID: "T02S R02E", Year: 2016}]
	require.NotNil(t, other)
	require.NotNil(t, other.Features["CROP_GRAIN"])
	assert.Zero(t, *other.Features["CROP_GRAIN"])
}

func TestEngine_Transform_PolygonScalarLayer(t *testing.T) {
	ops, eng := newTestEngine(t, pipeline.EngineConfig{Years: []int{2016}})

	layer := makeLayer("soil")
	layer.ValueAttr = "PH"
	layer.Prefix = "SOIL"
	layer.Observations = []domain.Observation{
		{Geometry: ops.Box(0, 0, 5, 10), Year: 2016, Values: map[string]float64{"PH": 6}},
		{Geometry: ops.Box(5, 0, 10, 10), Year: 2016, Values: map[string]float64{"PH": 8}},
	}

	records, err := eng.Transform(context.Background(), layer)
	require.NoError(t, err)
	idx := recordIndex(records)

	covered := idx[domain.RegionYearKey{RegionID: "T01S R01E", Year: 2016}]
	require.NotNil(t, covered)
	require.NotNil(t, covered.Features["SOIL_PH"])
	assert.InDelta(t, 7.0, *covered.Features["SOIL_PH"], 1e-9)

	// No soil data: no-data, not zero, for a mean-type aggregate.
	bare := idx[domain.RegionYearKey{RegionID: "T02S R02E", Year: 2016}]
	require.NotNil(t, bare)
	assert.Nil(t, bare.Features["SOIL_PH"])
}

func TestEngine_Transform_PointCountLayer(t *testing.T) {
	ops, eng := newTestEngine(t, pipeline.EngineConfig{Years: []int{2016}})

	layer := makeLayer("wells")
	layer.Kind = domain.LayerKindPoint
	layer.Aggregation = "count"
	layer.CategoryAttr = "USE"
	layer.Prefix = "WELLS"
	layer.Observations = []domain.Observation{
		{Geometry: ops.Point(2, 2), Year: 2016, Categories: map[string]string{"USE": "domestic"}},
		{Geometry: ops.Point(3, 3), Year: 2016, Categories: map[string]string{"USE": "domestic"}},
		{Geometry: ops.Point(12, 2), Year: 2016, Categories: map[string]string{"USE": "irrigation"}},
	}

	records, err := eng.Transform(context.Background(), layer)
	require.NoError(t, err)
	idx := recordIndex(records)

	first := idx[domain.RegionYearKey{RegionID: "T01S R01E", Year: 2016}]
	require.NotNil(t, first)
	require.NotNil(t, first.Features["WELLS_DOMESTIC"])
	assert.Equal(t, 2.0, *first.Features["WELLS_DOMESTIC"])
	assert.Zero(t, *first.Features["WELLS_IRRIGATION"])

	require.NotNil(t, first.Features["WELLS_COUNT"])
	assert.Equal(t, 2.0, *first.Features["WELLS_COUNT"])

	second := idx[domain.RegionYearKey{RegionID: "T01S R02E", Year: 2016}]
	require.NotNil(t, second)
	assert.Equal(t, 1.0, *second.Features["WELLS_IRRIGATION"])
}

func TestEngine_Transform_PointValueLayerInterpolates(t *testing.T) {
	ops, eng := newTestEngine(t, pipeline.EngineConfig{Years: []int{2016}})

	layer := makeLayer("precipitation")
	layer.Kind = domain.LayerKindPoint
	layer.ValueAttr = "MM"
	layer.Prefix = "PRECIP"
	// One station: its Voronoi cell is the whole envelope, so every region
	// averages to the station's value.
	layer.Observations = []domain.Observation{
		{Geometry: ops.Point(5, 5), Year: 2016, Values: map[string]float64{"MM": 321}},
	}

	records, err := eng.Transform(context.Background(), layer)
	require.NoError(t, err)
	idx := recordIndex(records)

	for _, id := range []domain.RegionID{"T01S R01E", "T01S R02E", "T02S R01E", "T02S R02E"} {
		r := idx[domain.RegionYearKey{RegionID: id, Year: 2016}]
		require.NotNil(t, r, "region %s missing", id)
		require.NotNil(t, r.Features["PRECIP_MM"], "region %s has no precipitation", id)
		assert.InDelta(t, 321.0, *r.Features["PRECIP_MM"], 1e-9)
	}
}

func TestEngine_Transform_ThreeStationMeanAcrossCells(t *testing.T) {
	ops := geometry.NewOps()
	box := ops.Box(0, 0, 30, 10)
	area, err := ops.Area(box)
	require.NoError(t, err)
	part := domain.NewPartition("EPSG:3347", []*domain.Region{
		{ID: "T01S R01E", Geometry: box, Area: area},
	})
	eng, err := pipeline.NewEngine(ops, part, pipeline.EngineConfig{
		Years: []int{2016}, Workers: 2, EnvelopeSelector: "partition-union",
	}, slog.Default(), newTestMetrics())
	require.NoError(t, err)

	// The region spans three equal Voronoi cells carrying 3, 2, and 1, so
	// the area-weighted mean is exactly 2.
	layer := makeLayer("precipitation")
	layer.Kind = domain.LayerKindPoint
	layer.ValueAttr = "MM"
	layer.Observations = []domain.Observation{
		{Geometry: ops.Point(5, 5), Year: 2016, Values: map[string]float64{"MM": 3}},
		{Geometry: ops.Point(15, 5), Year: 2016, Values: map[string]float64{"MM": 2}},
		{Geometry: ops.Point(25, 5), Year: 2016, Values: map[string]float64{"MM": 1}},
	}

	records, err := eng.Transform(context.Background(), layer)
	require.NoError(t, err)
	idx := recordIndex(records)

	r := idx[domain.RegionYearKey{RegionID: "T01S R01E", Year: 2016}]
	require.NotNil(t, r)
	require.NotNil(t, r.Features["MM"])
	assert.InDelta(t, 2.0, *r.Features["MM"], 1e-9)
}

func TestEngine_Transform_CancelledContextAbortsLayer(t *testing.T) {
	ops, eng := newTestEngine(t, pipeline.EngineConfig{Years: []int{2016}})

	layer := makeLayer("crops")
	layer.CategoryAttr = "TYPE"
	layer.Observations = []domain.Observation{
		{Geometry: ops.Box(0, 0, 4, 10), Year: 2016, Categories: map[string]string{"TYPE": "GRAIN"}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A layer whose overlay never ran must not stage as an all-zero grid.
	_, err := eng.Transform(ctx, layer)
	require.Error(t, err)
	assert.False(t, pipeline.IsFatal(err))
}

func TestEngine_Transform_ReplicateYears(t *testing.T) {
	ops, eng := newTestEngine(t, pipeline.EngineConfig{Years: []int{2015, 2016}})

	layer := makeLayer("soil")
	layer.CategoryAttr = "TEXTURE"
	layer.Prefix = "SOIL"
	layer.ReplicateYears = []int{2015, 2016}
	// A one-off survey year that applies to the whole range.
	layer.Observations = []domain.Observation{
		{Geometry: ops.Box(0, 0, 10, 10), Year: 2013, Categories: map[string]string{"TEXTURE": "LOAM"}},
	}

	records, err := eng.Transform(context.Background(), layer)
	require.NoError(t, err)
	idx := recordIndex(records)

	for _, year := range []int{2015, 2016} {
		r := idx[domain.RegionYearKey{RegionID: "T01S R01E", Year: year}]
		require.NotNil(t, r)
		require.NotNil(t, r.Features["SOIL_LOAM"])
		assert.InDelta(t, 1.0, *r.Features["SOIL_LOAM"], 1e-9, "year %d", year)
	}
}

func TestEngine_Transform_PruneAndUnwanted(t *testing.T) {
	ops, eng := newTestEngine(t, pipeline.EngineConfig{
		Years:            []int{2016},
		DropRate:         0.05,
		UnwantedFeatures: []string{"CROP_URBAN"},
	})

	layer := makeLayer("crops")
	layer.CategoryAttr = "TYPE"
	layer.Prefix = "CROP"
	layer.Observations = []domain.Observation{
		{Geometry: ops.Box(0, 0, 9, 10), Year: 2016, Categories: map[string]string{"TYPE": "GRAIN"}},
		{Geometry: ops.Box(9, 0, 9.2, 10), Year: 2016, Categories: map[string]string{"TYPE": "HERBS"}},
		{Geometry: ops.Box(9.2, 0, 10, 10), Year: 2016, Categories: map[string]string{"TYPE": "URBAN"}},
	}

	records, err := eng.Transform(context.Background(), layer)
	require.NoError(t, err)
	require.NotEmpty(t, records)

	for i := range records {
		assert.Contains(t, records[i].Features, "CROP_GRAIN")
		// HERBS peaks at 2% of a region: pruned by the drop rate.
		assert.NotContains(t, records[i].Features, "CROP_HERBS")
		// URBAN is above the drop rate but explicitly unwanted.
		assert.NotContains(t, records[i].Features, "CROP_URBAN")
	}
}
