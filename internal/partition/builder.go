// Package partition builds the canonical Township-Range analysis partition
// from a raw administrative boundary layer.
package partition

import (
	"errors"
	"log/slog"

	"github.com/twpayne/go-geos"

	"github.com/couchcryptid/township-etl/internal/domain"
	"github.com/couchcryptid/township-etl/internal/geometry"
)

// Builder squares raw boundary groups into one rectangle per region.
type Builder struct {
	ops    *geometry.Ops
	logger *slog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(ops *geometry.Ops, logger *slog.Logger) *Builder {
	return &Builder{ops: ops, logger: logger}
}

// Result carries the built partition plus the per-region failures that were
// isolated rather than aborting the build.
type Result struct {
	Partition *domain.Partition
	// Degenerate lists regions whose boundary groups had no usable vertices.
	Degenerate []*domain.DegenerateRegionError
	// Failed lists regions skipped for geometry errors other than degeneracy.
	Failed []error
}

// Build converts a raw boundary layer, grouped by region ID, into the fixed
// analysis partition. One logical region may arrive as several adjacent or
// disjoint polygons, or as a truncated shape at the edge of the area of
// interest. For each group it takes the convex hull of every vertex across
// all parts (merging multi-part shapes and closing holes) and then the
// axis-aligned bounding box of that hull as the final region polygon.
//
// Truncated edge regions are not restored to their nominal extent; the box
// derived from the available vertices stands. Neighboring boxes may overlap
// slightly along shared edges, which is accepted rather than reconciled.
//
// A region with no usable vertices yields a DegenerateRegionError in the
// result and is skipped; all other regions still build.
func (b *Builder) Build(crs string, raw map[domain.RegionID][]*geos.Geom) *Result {
	res := &Result{}
	regions := make([]*domain.Region, 0, len(raw))

	for id, parts := range raw {
		region, err := b.square(id, parts)
		if err != nil {
			var degen *domain.DegenerateRegionError
			if errors.As(err, &degen) {
				b.logger.Warn("degenerate region skipped", "region_id", id)
				res.Degenerate = append(res.Degenerate, degen)
			} else {
				b.logger.Warn("region build failed", "region_id", id, "error", err)
				res.Failed = append(res.Failed, err)
			}
			continue
		}
		regions = append(regions, region)
	}

	res.Partition = domain.NewPartition(crs, regions)
	b.logger.Info("partition built",
		"regions", res.Partition.Len(),
		"degenerate", len(res.Degenerate),
		"failed", len(res.Failed),
	)
	return res
}

// square merges one region's parts into its bounding rectangle.
func (b *Builder) square(id domain.RegionID, parts []*geos.Geom) (*domain.Region, error) {
	usable := parts[:0:0]
	for _, p := range parts {
		if p == nil || p.IsEmpty() {
			continue
		}
		usable = append(usable, p)
	}
	if len(usable) == 0 {
		return nil, &domain.DegenerateRegionError{RegionID: id}
	}

	hull, err := b.ops.ConvexHull(usable)
	if err != nil {
		return nil, annotate(err, id)
	}
	box, err := b.ops.BoundingBox(hull)
	if err != nil {
		return nil, annotate(err, id)
	}
	area, err := b.ops.Area(box)
	if err != nil {
		return nil, annotate(err, id)
	}
	// A group collapsing to a single point or line squares to a zero-area
	// box, which no overlay can attribute area to.
	if area == 0 {
		return nil, &domain.DegenerateRegionError{RegionID: id}
	}

	return &domain.Region{ID: id, Geometry: box, Area: area}, nil
}

func annotate(err error, id domain.RegionID) error {
	var topo *domain.TopologyError
	if errors.As(err, &topo) {
		topo.RegionID = id
		return topo
	}
	return err
}
