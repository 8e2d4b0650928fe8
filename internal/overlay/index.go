package overlay

import (
	"sort"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/ctessum/geom/proj"
	"github.com/twpayne/go-geos"

	"github.com/couchcryptid/township-etl/internal/domain"
	"github.com/couchcryptid/township-etl/internal/geometry"
)

// regionEntry adapts a region to the r-tree's Spatial interface using its
// precomputed extent.
type regionEntry struct {
	region *domain.Region
	bounds *geom.Bounds
}

func (e *regionEntry) Bounds() *geom.Bounds { return e.bounds }

// The r-tree's Insert signature demands the full geom.Geom interface even
// though it only ever calls Bounds(); the remaining methods exist solely to
// satisfy the compiler and are never invoked.
func (e *regionEntry) Similar(geom.Geom, float64) bool { return false }

func (e *regionEntry) Transform(proj.Transformer) (geom.Geom, error) { return e, nil }

func (e *regionEntry) Len() int { return 0 }

func (e *regionEntry) Points() func() geom.Point {
	return func() geom.Point { return geom.Point{} }
}

// regionIndex answers "which regions could this geometry touch" by bounding
// box, so overlay runs intersections only against nearby regions instead of
// the whole partition.
type regionIndex struct {
	tree *rtree.Rtree
	ops  *geometry.Ops
}

func newRegionIndex(ops *geometry.Ops, part *domain.Partition) (*regionIndex, error) {
	idx := &regionIndex{tree: rtree.NewTree(25, 50), ops: ops}
	for _, r := range part.Regions() {
		minX, minY, maxX, maxY, err := ops.Bounds(r.Geometry)
		if err != nil {
			return nil, err
		}
		idx.tree.Insert(&regionEntry{
			region: r,
			bounds: &geom.Bounds{
				Min: geom.Point{X: minX, Y: minY},
				Max: geom.Point{X: maxX, Y: maxY},
			},
		})
	}
	return idx, nil
}

// candidates returns the regions whose extent intersects g's extent, in
// sorted ID order so fragment emission is deterministic.
func (idx *regionIndex) candidates(g *geos.Geom) ([]*domain.Region, error) {
	minX, minY, maxX, maxY, err := idx.ops.Bounds(g)
	if err != nil {
		return nil, err
	}
	hits := idx.tree.SearchIntersect(&geom.Bounds{
		Min: geom.Point{X: minX, Y: minY},
		Max: geom.Point{X: maxX, Y: maxY},
	})
	regions := make([]*domain.Region, 0, len(hits))
	for _, h := range hits {
		regions = append(regions, h.(*regionEntry).region)
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].ID < regions[j].ID })
	return regions, nil
}
