// Package interpolate converts sparse point observations into an areal field
// via constrained Voronoi tessellation.
//
// A station measures a scalar (e.g. yearly precipitation) at one location.
// The Voronoi cell of a station is the part of the envelope closer to that
// station than to any other, and the whole cell is assigned the station's
// value. The tessellation is recomputed per year because the set of reporting
// stations varies year to year. The output is a plain polygon layer, so the
// overlay stage consumes it without special-casing.
package interpolate

import (
	"errors"
	"log/slog"
	"sort"

	"github.com/twpayne/go-geos"

	"github.com/couchcryptid/township-etl/internal/domain"
	"github.com/couchcryptid/township-etl/internal/geometry"
)

// Interpolator tessellates point layers inside a fixed envelope.
type Interpolator struct {
	ops    *geometry.Ops
	logger *slog.Logger
}

// NewInterpolator creates an Interpolator.
func NewInterpolator(ops *geometry.Ops, logger *slog.Logger) *Interpolator {
	return &Interpolator{ops: ops, logger: logger}
}

// Result carries the produced areal field and the per-unit failures that were
// isolated from it.
type Result struct {
	// Observations is the areal field: one polygon per station per year,
	// carrying the station's scalar under the layer's value attribute.
	Observations []domain.Observation
	// EmptyYears lists years with zero usable stations. Downstream those
	// years resolve to no-data for every region, not a crash.
	EmptyYears []*domain.EmptyEnvelopeError
	// Skipped lists stations excluded for missing attributes or geometry
	// failures, with enough context to reproduce.
	Skipped []error
}

// station is one usable point observation for a single year.
type station struct {
	point *geos.Geom
	value float64
}

// Interpolate builds the areal field for every year present in the layer.
// valueAttr names the scalar each station carries; stations missing it are
// excluded from that year's tessellation rather than failing the run.
func (it *Interpolator) Interpolate(layer []domain.Observation, valueAttr string, envelope *geos.Geom) *Result {
	res := &Result{}

	seen := make(map[int]bool)
	byYear := make(map[int][]station)
	for i := range layer {
		obs := &layer[i]
		seen[obs.Year] = true
		if obs.Geometry == nil || obs.Geometry.IsEmpty() {
			it.logger.Warn("station without geometry skipped", "year", obs.Year)
			continue
		}
		v, err := obs.Value(valueAttr)
		if err != nil {
			res.Skipped = append(res.Skipped, err)
			it.logger.Warn("station missing value skipped", "year", obs.Year, "attribute", valueAttr)
			continue
		}
		byYear[obs.Year] = append(byYear[obs.Year], station{point: obs.Geometry, value: v})
	}

	// A year whose every station was filtered out still has to surface as
	// empty, so downstream fills it with no-data instead of dropping it.
	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Ints(years)

	for _, year := range years {
		cells, err := it.interpolateYear(year, byYear[year], valueAttr, envelope)
		if err != nil {
			var empty *domain.EmptyEnvelopeError
			if errors.As(err, &empty) {
				res.EmptyYears = append(res.EmptyYears, empty)
				continue
			}
			it.logger.Warn("interpolation failed for year", "year", year, "error", err)
			res.Skipped = append(res.Skipped, err)
			continue
		}
		res.Observations = append(res.Observations, cells...)
	}

	return res
}

// interpolateYear tessellates one year's stations.
func (it *Interpolator) interpolateYear(year int, stations []station, valueAttr string, envelope *geos.Geom) ([]domain.Observation, error) {
	switch len(stations) {
	case 0:
		return nil, &domain.EmptyEnvelopeError{Year: year}
	case 1:
		// With a single station the tessellation degenerates to one cell
		// covering the whole envelope.
		return []domain.Observation{cellObservation(envelope.Clone(), year, valueAttr, stations[0].value)}, nil
	}

	seeds := make([]*geos.Geom, len(stations))
	for i, s := range stations {
		seeds[i] = s.point
	}

	cells, err := it.ops.Voronoi(seeds, envelope)
	if err != nil {
		return nil, annotateYear(err, year)
	}

	// Cells carry no seed association, so each cell is matched back to its
	// seed station by containment, falling back to the nearest station when
	// a seed sits exactly on a clipped cell boundary.
	out := make([]domain.Observation, 0, len(cells))
	for _, cell := range cells {
		s, err := it.matchStation(cell, stations)
		if err != nil {
			it.logger.Warn("voronoi cell with no matching station skipped", "year", year, "error", err)
			continue
		}
		out = append(out, cellObservation(cell, year, valueAttr, s.value))
	}
	return out, nil
}

func (it *Interpolator) matchStation(cell *geos.Geom, stations []station) (station, error) {
	for _, s := range stations {
		ok, err := it.ops.Contains(cell, s.point)
		if err != nil {
			return station{}, err
		}
		if ok {
			return s, nil
		}
	}

	best, bestDist := stations[0], 0.0
	for i, s := range stations {
		d, err := it.ops.Distance(cell, s.point)
		if err != nil {
			return station{}, err
		}
		if i == 0 || d < bestDist {
			best, bestDist = s, d
		}
	}
	return best, nil
}

func cellObservation(cell *geos.Geom, year int, valueAttr string, value float64) domain.Observation {
	return domain.Observation{
		Geometry: cell,
		Year:     year,
		Values:   map[string]float64{valueAttr: value},
	}
}

func annotateYear(err error, year int) error {
	var topo *domain.TopologyError
	if errors.As(err, &topo) {
		topo.Year = year
		return topo
	}
	return err
}
