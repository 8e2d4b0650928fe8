package interpolate_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/township-etl/internal/domain"
	"github.com/couchcryptid/township-etl/internal/geometry"
	"github.com/couchcryptid/township-etl/internal/interpolate"
)

func station(ops *geometry.Ops, x, y float64, year int, value float64) domain.Observation {
	return domain.Observation{
		Geometry: ops.Point(x, y),
		Year:     year,
		Values:   map[string]float64{"PRECIP": value},
	}
}

func TestInterpolate_SingleStationCoversEnvelope(t *testing.T) {
	ops := geometry.NewOps()
	it := interpolate.NewInterpolator(ops, slog.Default())
	envelope := ops.Box(0, 0, 10, 10)

	res := it.Interpolate([]domain.Observation{station(ops, 3, 3, 2015, 42.5)}, "PRECIP", envelope)

	require.Empty(t, res.EmptyYears)
	require.Empty(t, res.Skipped)
	require.Len(t, res.Observations, 1)

	cell := res.Observations[0]
	assert.Equal(t, 2015, cell.Year)
	v, err := cell.Value("PRECIP")
	require.NoError(t, err)
	assert.Equal(t, 42.5, v)

	area, err := ops.Area(cell.Geometry)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, area, 1e-9)
}

func TestInterpolate_CellsExhaustEnvelopeAndCarryNearestValue(t *testing.T) {
	ops := geometry.NewOps()
	it := interpolate.NewInterpolator(ops, slog.Default())
	envelope := ops.Box(0, 0, 10, 10)

	layer := []domain.Observation{
		station(ops, 2, 5, 2016, 10),
		station(ops, 8, 5, 2016, 30),
	}
	res := it.Interpolate(layer, "PRECIP", envelope)

	require.Empty(t, res.Skipped)
	require.Len(t, res.Observations, 2)

	total := 0.0
	values := map[float64]bool{}
	for _, cell := range res.Observations {
		a, err := ops.Area(cell.Geometry)
		require.NoError(t, err)
		total += a
		v, err := cell.Value("PRECIP")
		require.NoError(t, err)
		values[v] = true
	}
	assert.InDelta(t, 100.0, total, 1e-6)
	assert.True(t, values[10] && values[30])

	// With symmetric seeds the bisector splits the envelope in half.
	for _, cell := range res.Observations {
		a, err := ops.Area(cell.Geometry)
		require.NoError(t, err)
		assert.InDelta(t, 50.0, a, 1e-6)
	}
}

func TestInterpolate_YearsAreIndependent(t *testing.T) {
	ops := geometry.NewOps()
	it := interpolate.NewInterpolator(ops, slog.Default())
	envelope := ops.Box(0, 0, 10, 10)

	layer := []domain.Observation{
		station(ops, 2, 2, 2014, 5),
		station(ops, 2, 2, 2015, 6),
		station(ops, 8, 8, 2015, 7),
	}
	res := it.Interpolate(layer, "PRECIP", envelope)

	byYear := map[int]int{}
	for _, cell := range res.Observations {
		byYear[cell.Year]++
	}
	assert.Equal(t, 1, byYear[2014])
	assert.Equal(t, 2, byYear[2015])
}

func TestInterpolate_SkipsUnusableStations(t *testing.T) {
	ops := geometry.NewOps()
	it := interpolate.NewInterpolator(ops, slog.Default())
	envelope := ops.Box(0, 0, 10, 10)

	layer := []domain.Observation{
		{Geometry: nil, Year: 2016, Values: map[string]float64{"PRECIP": 1}},
		{Geometry: ops.Point(5, 5), Year: 2016, Values: map[string]float64{"OTHER": 2}},
		station(ops, 3, 3, 2016, 9),
	}
	res := it.Interpolate(layer, "PRECIP", envelope)

	// The station missing the value attribute is reported; the one missing
	// geometry is only logged. The remaining station still tessellates.
	require.Len(t, res.Skipped, 1)
	var missing *domain.MissingAttributeError
	assert.ErrorAs(t, res.Skipped[0], &missing)
	require.Len(t, res.Observations, 1)
}

func TestInterpolate_EmptyYearIsReportedNotFatal(t *testing.T) {
	ops := geometry.NewOps()
	it := interpolate.NewInterpolator(ops, slog.Default())
	envelope := ops.Box(0, 0, 10, 10)

	// Every 2017 station is unusable, so the year comes back empty.
	layer := []domain.Observation{
		{Geometry: ops.Point(1, 1), Year: 2017, Values: map[string]float64{"OTHER": 3}},
		station(ops, 4, 4, 2018, 11),
	}
	res := it.Interpolate(layer, "PRECIP", envelope)

	require.Len(t, res.Observations, 1)
	assert.Equal(t, 2018, res.Observations[0].Year)
	assert.Len(t, res.Skipped, 1)
	require.Len(t, res.EmptyYears, 1)
	assert.Equal(t, 2017, res.EmptyYears[0].Year)

	t.Run("no stations at all", func(t *testing.T) {
		res := it.Interpolate(nil, "PRECIP", envelope)
		assert.Empty(t, res.Observations)
		assert.Empty(t, res.EmptyYears)
	})
}
