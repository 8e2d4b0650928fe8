// Package overlay intersects polygon layers with the analysis partition and
// aggregates the resulting fragments into per-region, per-year values.
//
// Overlay is the central aggregation step: every source polygon is cut
// against every region it touches, each non-empty cut becomes an area
// fragment, and fragments combine either into categorical composition (the
// fraction of a region covered by each category) or into scalar aggregates
// under an explicit Mode. Failures are isolated per (source record, region)
// unit and collected in a Report; they never abort the run.
package overlay

import (
	"errors"
	"log/slog"
	"sort"

	"github.com/twpayne/go-geos"

	"github.com/couchcryptid/township-etl/internal/domain"
	"github.com/couchcryptid/township-etl/internal/geometry"
)

// defaultSnapTolerance is the vertex grid used when an intersection fails and
// the caller did not configure snapping. Matches the precision that reliably
// clears non-noded intersection failures on fine-grained survey layers.
const defaultSnapTolerance = 1e-6

// Aggregator overlays layers onto one fixed partition.
type Aggregator struct {
	ops    *geometry.Ops
	part   *domain.Partition
	index  *regionIndex
	logger *slog.Logger
}

// NewAggregator builds the region index for the partition. The partition is
// held by reference and never written.
func NewAggregator(ops *geometry.Ops, part *domain.Partition, logger *slog.Logger) (*Aggregator, error) {
	idx, err := newRegionIndex(ops, part)
	if err != nil {
		return nil, err
	}
	return &Aggregator{ops: ops, part: part, index: idx, logger: logger}, nil
}

// Options controls one overlay pass.
type Options struct {
	// SnapTolerance quantizes vertices to this grid before every
	// intersection. Zero leaves geometries untouched until an intersection
	// fails, at which point the fragment is retried once with
	// defaultSnapTolerance.
	SnapTolerance float64
}

// Report aggregates the per-unit failures of one overlay or aggregation pass.
type Report struct {
	Fragments   int
	SnapRetries int
	// Skipped lists (record, region) units that failed even after the snap
	// retry, with region/year context for reproduction.
	Skipped []error
}

// Overlay cuts every source polygon against the regions it touches and emits
// one AreaFragment per non-empty intersection. Fragments inherit the source
// observation so attribute errors can be isolated later, per record.
func (a *Aggregator) Overlay(layer []domain.Observation, opts Options) ([]domain.AreaFragment, *Report) {
	rep := &Report{}
	var fragments []domain.AreaFragment

	for i := range layer {
		obs := &layer[i]
		if obs.Geometry == nil || obs.Geometry.IsEmpty() {
			continue
		}

		source := obs.Geometry
		if opts.SnapTolerance > 0 {
			snapped, err := a.ops.Snap(source, opts.SnapTolerance)
			if err != nil {
				rep.Skipped = append(rep.Skipped, annotate(err, "", obs.Year))
				a.logger.Warn("snap failed, record skipped", "year", obs.Year, "error", err)
				continue
			}
			source = snapped
		}

		regions, err := a.index.candidates(source)
		if err != nil {
			rep.Skipped = append(rep.Skipped, annotate(err, "", obs.Year))
			continue
		}

		for _, region := range regions {
			frag, err := a.cut(source, region, obs, opts, rep)
			if err != nil {
				rep.Skipped = append(rep.Skipped, err)
				a.logger.Warn("fragment skipped",
					"region_id", region.ID, "year", obs.Year, "error", err)
				continue
			}
			if frag == nil {
				continue
			}
			fragments = append(fragments, *frag)
			rep.Fragments++
		}
	}

	return fragments, rep
}

// cut intersects one source polygon with one region, retrying once with
// precision snapping on topology failure. A nil fragment with nil error means
// the intersection was empty.
func (a *Aggregator) cut(source *geos.Geom, region *domain.Region, obs *domain.Observation, opts Options, rep *Report) (*domain.AreaFragment, error) {
	inter, err := a.ops.Intersection(source, region.Geometry)
	if err != nil {
		var topo *domain.TopologyError
		if !errors.As(err, &topo) {
			return nil, annotate(err, region.ID, obs.Year)
		}

		tol := opts.SnapTolerance
		if tol == 0 {
			tol = defaultSnapTolerance
		}
		rep.SnapRetries++
		snapped, snapErr := a.ops.Snap(source, tol)
		if snapErr != nil {
			return nil, annotate(snapErr, region.ID, obs.Year)
		}
		inter, err = a.ops.Intersection(snapped, region.Geometry)
		if err != nil {
			return nil, annotate(err, region.ID, obs.Year)
		}
	}

	if inter.IsEmpty() {
		return nil, nil
	}
	area, err := a.ops.Area(inter)
	if err != nil {
		return nil, annotate(err, region.ID, obs.Year)
	}
	if area == 0 {
		// Touching boundaries intersect in a line or point; no area to attribute.
		return nil, nil
	}

	return &domain.AreaFragment{
		RegionID:     region.ID,
		Geometry:     inter,
		Year:         obs.Year,
		Source:       obs,
		Area:         area,
		AreaFraction: area / region.Area,
	}, nil
}

// AssignPoints attributes point observations to the region containing them,
// emitting zero-area fragments suitable for count and unweighted aggregation.
// A point falling in the overlap of two squared regions is attributed to the
// lowest region ID for determinism.
func (a *Aggregator) AssignPoints(layer []domain.Observation) ([]domain.AreaFragment, *Report) {
	rep := &Report{}
	var fragments []domain.AreaFragment

	for i := range layer {
		obs := &layer[i]
		if obs.Geometry == nil || obs.Geometry.IsEmpty() {
			continue
		}
		regions, err := a.index.candidates(obs.Geometry)
		if err != nil {
			rep.Skipped = append(rep.Skipped, annotate(err, "", obs.Year))
			continue
		}
		for _, region := range regions {
			// Intersects rather than Contains so stations sitting exactly on
			// a region edge are still attributed.
			ok, err := a.ops.Intersects(region.Geometry, obs.Geometry)
			if err != nil {
				rep.Skipped = append(rep.Skipped, annotate(err, region.ID, obs.Year))
				break
			}
			if !ok {
				continue
			}
			fragments = append(fragments, domain.AreaFragment{
				RegionID: region.ID,
				Geometry: obs.Geometry,
				Year:     obs.Year,
				Source:   obs,
			})
			rep.Fragments++
			break
		}
	}

	return fragments, rep
}

// ComposeCategories groups fragments by (region, year, category) and sums
// their area fractions, yielding the share of each region's area that the
// category occupies that year. Records missing the category attribute are
// excluded from this feature and reported; categories absent from a region
// are an implicit zero, filled at pivot time.
func ComposeCategories(fragments []domain.AreaFragment, categoryAttr string) ([]domain.CompositionRow, []error) {
	return groupByCategory(fragments, categoryAttr, func(frag *domain.AreaFragment) float64 {
		return frag.AreaFraction
	})
}

// CountCategories groups fragments by (region, year, category) and counts
// them, for point layers where the number of records matters rather than the
// area they cover (e.g. wells drilled per region per year).
func CountCategories(fragments []domain.AreaFragment, categoryAttr string) ([]domain.CompositionRow, []error) {
	return groupByCategory(fragments, categoryAttr, func(*domain.AreaFragment) float64 {
		return 1
	})
}

func groupByCategory(fragments []domain.AreaFragment, categoryAttr string, contribution func(*domain.AreaFragment) float64) ([]domain.CompositionRow, []error) {
	type groupKey struct {
		key      domain.RegionYearKey
		category string
	}
	sums := make(map[groupKey]float64)
	var skipped []error

	for i := range fragments {
		frag := &fragments[i]
		category, err := frag.Source.Category(categoryAttr)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		gk := groupKey{
			key:      domain.RegionYearKey{RegionID: frag.RegionID, Year: frag.Year},
			category: category,
		}
		sums[gk] += contribution(frag)
	}

	rows := make([]domain.CompositionRow, 0, len(sums))
	for gk, sum := range sums {
		rows = append(rows, domain.CompositionRow{
			RegionID: gk.key.RegionID,
			Year:     gk.key.Year,
			Category: gk.category,
			Value:    sum,
		})
	}
	sortRows(rows)
	return rows, skipped
}

// AggregateScalars combines fragment values into one scalar per (region,
// year) under the given mode. Every partition region appears in the output
// for every requested year: groups with no fragments get zero for count-type
// modes and explicit no-data for means. Records missing the value attribute
// are excluded from the aggregate and reported (count mode needs no value).
func (a *Aggregator) AggregateScalars(fragments []domain.AreaFragment, valueAttr string, years []int, mode Mode) (map[domain.RegionYearKey]domain.FeatureValue, []error) {
	type accum struct {
		weightedSum float64
		weight      float64
		sum         float64
		count       float64
	}
	groups := make(map[domain.RegionYearKey]*accum)
	var skipped []error

	for i := range fragments {
		frag := &fragments[i]
		key := domain.RegionYearKey{RegionID: frag.RegionID, Year: frag.Year}

		var value float64
		if mode != ModeCount {
			v, err := frag.Source.Value(valueAttr)
			if err != nil {
				skipped = append(skipped, err)
				continue
			}
			value = v
		}

		acc := groups[key]
		if acc == nil {
			acc = &accum{}
			groups[key] = acc
		}
		acc.weightedSum += value * frag.AreaFraction
		acc.weight += frag.AreaFraction
		acc.sum += value
		acc.count++
	}

	out := make(map[domain.RegionYearKey]domain.FeatureValue, a.part.Len()*len(years))
	for _, id := range a.part.IDs() {
		for _, year := range years {
			key := domain.RegionYearKey{RegionID: id, Year: year}
			acc, ok := groups[key]
			if !ok {
				out[key] = mode.emptyValue()
				continue
			}
			switch mode {
			case ModeAreaWeightedMean:
				if acc.weight == 0 {
					out[key] = domain.NoData
					continue
				}
				out[key] = domain.Float(acc.weightedSum / acc.weight)
			case ModeMean:
				out[key] = domain.Float(acc.sum / acc.count)
			case ModeSum:
				out[key] = domain.Float(acc.sum)
			case ModeCount:
				out[key] = domain.Float(acc.count)
			}
		}
	}
	return out, skipped
}

func sortRows(rows []domain.CompositionRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].RegionID != rows[j].RegionID {
			return rows[i].RegionID < rows[j].RegionID
		}
		if rows[i].Year != rows[j].Year {
			return rows[i].Year < rows[j].Year
		}
		return rows[i].Category < rows[j].Category
	})
}

func annotate(err error, id domain.RegionID, year int) error {
	var topo *domain.TopologyError
	if errors.As(err, &topo) {
		topo.RegionID = id
		topo.Year = year
		return topo
	}
	return err
}
