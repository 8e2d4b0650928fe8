package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/twpayne/go-geos"

	"github.com/couchcryptid/township-etl/internal/domain"
	"github.com/couchcryptid/township-etl/internal/feature"
	"github.com/couchcryptid/township-etl/internal/geometry"
	"github.com/couchcryptid/township-etl/internal/interpolate"
	"github.com/couchcryptid/township-etl/internal/observability"
	"github.com/couchcryptid/township-etl/internal/overlay"
)

// EngineConfig carries the tuning knobs the engine needs from config.
type EngineConfig struct {
	Years            []int
	DropRate         float64
	SnapTolerance    float64
	EnvelopeSelector string
	Workers          int
	UnwantedFeatures []string
}

// Engine implements Transformer: it routes each raw layer through the
// geometry core (interpolation for point layers, overlay for polygon layers,
// then pivot, prune, and stage) against one immutable partition.
type Engine struct {
	ops      *geometry.Ops
	part     *domain.Partition
	agg      *overlay.Aggregator
	interp   *interpolate.Interpolator
	envelope *geos.Geom
	grid     []domain.RegionYearKey
	cfg      EngineConfig
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewEngine builds the overlay index and the interpolation envelope for the
// partition. The envelope is either the tight union of the squared regions or
// their convex hull, depending on EnvelopeSelector.
func NewEngine(ops *geometry.Ops, part *domain.Partition, cfg EngineConfig, logger *slog.Logger, metrics *observability.Metrics) (*Engine, error) {
	agg, err := overlay.NewAggregator(ops, part, logger)
	if err != nil {
		return nil, err
	}

	geoms := make([]*geos.Geom, 0, part.Len())
	for _, r := range part.Regions() {
		geoms = append(geoms, r.Geometry)
	}
	envelope, err := ops.Union(geoms)
	if err != nil {
		return nil, err
	}
	if cfg.EnvelopeSelector == "partition-hull" {
		envelope, err = ops.ConvexHull([]*geos.Geom{envelope})
		if err != nil {
			return nil, err
		}
	}

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	grid := make([]domain.RegionYearKey, 0, part.Len()*len(cfg.Years))
	for _, id := range part.IDs() {
		for _, year := range cfg.Years {
			grid = append(grid, domain.RegionYearKey{RegionID: id, Year: year})
		}
	}

	return &Engine{
		ops:      ops,
		part:     part,
		agg:      agg,
		interp:   interpolate.NewInterpolator(ops, logger),
		envelope: envelope,
		grid:     grid,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Transform converts one raw layer into staged region-year rows. CRS
// mismatches and unknown aggregation modes are configuration errors and
// abort the run; everything else degrades per unit.
func (e *Engine) Transform(ctx context.Context, layer domain.RawLayer) ([]domain.RegionYearRecord, error) {
	if layer.CRS != e.part.CRS() {
		return nil, Fatalf("layer %q declares CRS %q, partition is %q", layer.Dataset, layer.CRS, e.part.CRS())
	}
	mode, err := overlay.ParseMode(layer.Aggregation)
	if err != nil {
		return nil, Fatalf("layer %q: %v", layer.Dataset, err)
	}

	obs := layer.Observations
	if len(layer.ReplicateYears) > 0 {
		obs = replicateYears(obs, layer.ReplicateYears)
	}

	table := domain.NewFeatureTable()

	switch layer.Kind {
	case domain.LayerKindPoint:
		if err := e.transformPoints(ctx, layer, obs, mode, table); err != nil {
			return nil, err
		}
	case domain.LayerKindPolygon:
		if err := e.transformPolygons(ctx, layer, obs, mode, table); err != nil {
			return nil, err
		}
	default:
		return nil, Fatalf("layer %q has unknown kind %q", layer.Dataset, layer.Kind)
	}

	// Every configured (region, year) pair appears in the output; gaps are
	// explicit no-data rows, resolved by downstream imputation.
	for _, key := range e.grid {
		table.EnsureRow(key)
	}

	if dropped := feature.Prune(table, e.cfg.DropRate); len(dropped) > 0 {
		e.logger.Info("pruned negligible feature columns",
			"dataset", layer.Dataset, "drop_rate", e.cfg.DropRate, "columns", dropped)
	}

	return feature.Stage(table, e.cfg.UnwantedFeatures), nil
}

// transformPoints routes a point layer. Stations measuring a continuous field
// go through Voronoi interpolation and then the polygon path; counted or
// averaged point records are assigned to their containing region directly.
func (e *Engine) transformPoints(ctx context.Context, layer domain.RawLayer, obs []domain.Observation, mode overlay.Mode, table *domain.FeatureTable) error {
	if layer.ValueAttr != "" && mode == overlay.ModeAreaWeightedMean {
		start := time.Now()
		res := e.interp.Interpolate(obs, layer.ValueAttr, e.envelope)
		e.metrics.StageDuration.WithLabelValues("interpolate").Observe(time.Since(start).Seconds())
		e.metrics.EmptyYears.Add(float64(len(res.EmptyYears)))
		e.reportSkipped("interpolate", layer.Dataset, res.Skipped)
		for _, empty := range res.EmptyYears {
			e.logger.Warn("no stations reporting", "dataset", layer.Dataset, "year", empty.Year)
		}
		return e.transformPolygons(ctx, layer, res.Observations, mode, table)
	}

	start := time.Now()
	fragments, rep := e.agg.AssignPoints(obs)
	e.metrics.StageDuration.WithLabelValues("assign_points").Observe(time.Since(start).Seconds())
	e.reportSkipped("overlay", layer.Dataset, rep.Skipped)

	if layer.CategoryAttr != "" {
		rows, skipped := overlay.CountCategories(fragments, layer.CategoryAttr)
		e.reportSkipped("aggregate", layer.Dataset, skipped)
		table.Merge(feature.Pivot(rows, layer.Prefix, e.grid))
	}
	if layer.ValueAttr != "" || mode == overlay.ModeCount {
		values, skipped := e.agg.AggregateScalars(fragments, layer.ValueAttr, e.cfg.Years, mode)
		e.reportSkipped("aggregate", layer.Dataset, skipped)
		table.Merge(feature.PivotScalars(values, layer.Prefix, scalarName(layer)))
	}
	return nil
}

// transformPolygons overlays a polygon layer per year and aggregates the
// fragments into composition columns, scalar columns, or both.
func (e *Engine) transformPolygons(ctx context.Context, layer domain.RawLayer, obs []domain.Observation, mode overlay.Mode, table *domain.FeatureTable) error {
	start := time.Now()
	fragments, rep, err := e.overlayByYear(ctx, obs)
	if err != nil {
		return err
	}
	e.metrics.StageDuration.WithLabelValues("overlay").Observe(time.Since(start).Seconds())
	e.metrics.FragmentsEmitted.Add(float64(rep.Fragments))
	e.metrics.SnapRetries.Add(float64(rep.SnapRetries))
	e.reportSkipped("overlay", layer.Dataset, rep.Skipped)

	if layer.CategoryAttr != "" {
		rows, skipped := overlay.ComposeCategories(fragments, layer.CategoryAttr)
		e.reportSkipped("aggregate", layer.Dataset, skipped)
		table.Merge(feature.Pivot(rows, layer.Prefix, e.grid))
	}
	if layer.ValueAttr != "" {
		values, skipped := e.agg.AggregateScalars(fragments, layer.ValueAttr, e.cfg.Years, mode)
		e.reportSkipped("aggregate", layer.Dataset, skipped)
		table.Merge(feature.PivotScalars(values, layer.Prefix, scalarName(layer)))
	}
	return nil
}

// overlayByYear splits a layer by year and overlays the years on a bounded
// worker pool. Years are independent: each worker reads the shared immutable
// partition and writes its own fragment slice, merged afterwards in year
// order for determinism. A cancelled context is an error: years never
// dispatched would otherwise stage the layer as if it were complete.
func (e *Engine) overlayByYear(ctx context.Context, obs []domain.Observation) ([]domain.AreaFragment, *overlay.Report, error) {
	byYear := make(map[int][]domain.Observation)
	for _, o := range obs {
		byYear[o.Year] = append(byYear[o.Year], o)
	}
	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	opts := overlay.Options{SnapTolerance: e.cfg.SnapTolerance}

	type yearResult struct {
		fragments []domain.AreaFragment
		report    *overlay.Report
	}
	results := make(map[int]yearResult, len(years))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.cfg.Workers)

	for _, year := range years {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(year int) {
			defer wg.Done()
			defer func() { <-sem }()
			fragments, rep := e.agg.Overlay(byYear[year], opts)
			mu.Lock()
			results[year] = yearResult{fragments: fragments, report: rep}
			mu.Unlock()
		}(year)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	merged := &overlay.Report{}
	var fragments []domain.AreaFragment
	for _, year := range years {
		res, ok := results[year]
		if !ok {
			continue
		}
		fragments = append(fragments, res.fragments...)
		merged.Fragments += res.report.Fragments
		merged.SnapRetries += res.report.SnapRetries
		merged.Skipped = append(merged.Skipped, res.report.Skipped...)
	}
	return fragments, merged, nil
}

func (e *Engine) reportSkipped(stage, dataset string, skipped []error) {
	if len(skipped) == 0 {
		return
	}
	e.metrics.SkippedUnits.WithLabelValues(stage).Add(float64(len(skipped)))
	e.logger.Warn("units skipped", "stage", stage, "dataset", dataset, "count", len(skipped), "first", skipped[0])
}

// scalarName is the column name for a layer's scalar feature: the value
// attribute, or a count column for pure counts. The dataset name steps in
// only when there is no prefix to disambiguate the count.
func scalarName(layer domain.RawLayer) string {
	if layer.ValueAttr != "" {
		return layer.ValueAttr
	}
	if layer.Prefix != "" {
		return "count"
	}
	return layer.Dataset + "_count"
}

// replicateYears copies a single-survey layer to each requested year, the
// way a one-off soil survey applies unchanged to every analysis year.
func replicateYears(obs []domain.Observation, years []int) []domain.Observation {
	out := make([]domain.Observation, 0, len(obs)*len(years))
	for _, year := range years {
		for _, o := range obs {
			dup := o
			dup.Year = year
			out = append(out, dup)
		}
	}
	return out
}
