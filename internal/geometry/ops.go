// Package geometry wraps the GEOS primitives the ETL combines: convex hull,
// bounding box, intersection, union, area, and Voronoi tessellation.
//
// go-geos reports GEOS errors by panicking; every operation here recovers and
// returns a *domain.TopologyError instead, so callers deal in plain Go errors
// and can decide per fragment whether to retry with precision snapping or
// skip. Geometries are bound to the Ops that created them and must not be
// mixed across Ops instances; one Ops is safe for concurrent use because the
// underlying GEOS context serializes calls.
package geometry

import (
	"fmt"
	"math"

	"github.com/twpayne/go-geos"

	"github.com/couchcryptid/township-etl/internal/domain"
)

// Ops is the geometry façade. The zero value is not usable; call NewOps.
type Ops struct {
	ctx *geos.Context
}

// NewOps creates an Ops with a fresh GEOS context.
func NewOps() *Ops {
	return &Ops{ctx: geos.NewContext()}
}

// safely runs fn, converting a GEOS panic into a TopologyError.
func (o *Ops) safely(op string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.TopologyError{Op: op, Cause: fmt.Errorf("%v", r)}
		}
	}()
	fn()
	return nil
}

// Point creates a point geometry.
func (o *Ops) Point(x, y float64) *geos.Geom {
	return o.ctx.NewPoint([]float64{x, y})
}

// Polygon creates a simple polygon from an exterior ring. The ring is closed
// automatically if the last coordinate does not repeat the first.
func (o *Ops) Polygon(ring [][]float64) *geos.Geom {
	if n := len(ring); n > 0 && (ring[0][0] != ring[n-1][0] || ring[0][1] != ring[n-1][1]) {
		ring = append(append([][]float64{}, ring...), ring[0])
	}
	return o.ctx.NewPolygon([][][]float64{ring})
}

// Box creates the axis-aligned rectangle with the given extent.
func (o *Ops) Box(minX, minY, maxX, maxY float64) *geos.Geom {
	return o.Polygon([][]float64{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY},
	})
}

// GeomFromGeoJSON decodes a GeoJSON geometry.
func (o *Ops) GeomFromGeoJSON(s string) (*geos.Geom, error) {
	g, err := o.ctx.NewGeomFromGeoJSON(s)
	if err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}
	return g, nil
}

// ToGeoJSON encodes a geometry as compact GeoJSON.
func (o *Ops) ToGeoJSON(g *geos.Geom) string {
	return g.ToGeoJSON(-1)
}

// ConvexHull returns the smallest convex polygon containing every vertex of
// every part. Parts may be disjoint, overlapping, or holed; only their vertex
// sets matter.
func (o *Ops) ConvexHull(parts []*geos.Geom) (hull *geos.Geom, err error) {
	err = o.safely("convex_hull", func() {
		coll := o.ctx.NewCollection(geos.TypeIDGeometryCollection, parts)
		hull = coll.ConvexHull()
	})
	return hull, err
}

// BoundingBox returns the axis-aligned bounding box of g as a polygon.
func (o *Ops) BoundingBox(g *geos.Geom) (box *geos.Geom, err error) {
	err = o.safely("bounding_box", func() {
		box = g.Envelope()
	})
	return box, err
}

// Bounds returns g's extent as (minX, minY, maxX, maxY).
func (o *Ops) Bounds(g *geos.Geom) (minX, minY, maxX, maxY float64, err error) {
	err = o.safely("bounds", func() {
		b := g.Bounds()
		minX, minY, maxX, maxY = b.MinX, b.MinY, b.MaxX, b.MaxY
	})
	return minX, minY, maxX, maxY, err
}

// Intersection computes the geometric intersection of a and b.
func (o *Ops) Intersection(a, b *geos.Geom) (g *geos.Geom, err error) {
	err = o.safely("intersection", func() {
		g = a.Intersection(b)
	})
	return g, err
}

// Intersects reports whether a and b share any point.
func (o *Ops) Intersects(a, b *geos.Geom) (ok bool, err error) {
	err = o.safely("intersects", func() {
		ok = a.Intersects(b)
	})
	return ok, err
}

// Contains reports whether a contains b.
func (o *Ops) Contains(a, b *geos.Geom) (ok bool, err error) {
	err = o.safely("contains", func() {
		ok = a.Contains(b)
	})
	return ok, err
}

// Union dissolves all parts into one geometry.
func (o *Ops) Union(parts []*geos.Geom) (g *geos.Geom, err error) {
	err = o.safely("union", func() {
		coll := o.ctx.NewCollection(geos.TypeIDGeometryCollection, parts)
		g = coll.UnaryUnion()
	})
	return g, err
}

// Area returns the planar area of g in squared working-CRS units.
func (o *Ops) Area(g *geos.Geom) (a float64, err error) {
	err = o.safely("area", func() {
		a = g.Area()
	})
	return a, err
}

// Centroid returns the centroid of g.
func (o *Ops) Centroid(g *geos.Geom) (c *geos.Geom, err error) {
	err = o.safely("centroid", func() {
		c = g.Centroid()
	})
	return c, err
}

// Distance returns the minimum planar distance between a and b.
func (o *Ops) Distance(a, b *geos.Geom) (d float64, err error) {
	err = o.safely("distance", func() {
		d = a.Distance(b)
	})
	return d, err
}

// Snap quantizes g's vertices to a fixed grid. Retrying a failed
// intersection on snapped inputs clears "non-noded intersection" errors
// from layers with many small adjacent parts.
func (o *Ops) Snap(g *geos.Geom, gridSize float64) (snapped *geos.Geom, err error) {
	err = o.safely("snap", func() {
		snapped = g.SetPrecision(gridSize, geos.PrecisionRuleValidOutput)
	})
	return snapped, err
}

// Voronoi tessellates the envelope around the seed points: each cell is the
// part of the envelope closer to its seed than to any other seed. go-geos
// exposes no Voronoi construction, so each cell is built directly as the
// envelope intersected with the half-plane on the seed's side of the
// perpendicular bisector against every other seed. Coincident seeds collapse
// into one cell. Cells come back in arbitrary order; callers match them to
// seeds by containment.
func (o *Ops) Voronoi(seeds []*geos.Geom, envelope *geos.Geom) (cells []*geos.Geom, err error) {
	err = o.safely("voronoi", func() {
		type site struct{ x, y float64 }
		sites := make([]site, 0, len(seeds))
		for _, seed := range seeds {
			s := site{x: seed.X(), y: seed.Y()}
			dup := false
			for _, q := range sites {
				if q == s {
					dup = true
					break
				}
			}
			if !dup {
				sites = append(sites, s)
			}
		}

		b := envelope.Bounds()
		cx, cy := (b.MinX+b.MaxX)/2, (b.MinY+b.MaxY)/2
		// Every envelope point lies within halfDiag of the center, which
		// bounds the reach each clipping rectangle has to cover.
		halfDiag := math.Hypot(b.MaxX-b.MinX, b.MaxY-b.MinY) / 2

		for i, s := range sites {
			cell := envelope
			for j, t := range sites {
				if i == j {
					continue
				}
				cell = cell.Intersection(o.halfPlane(s.x, s.y, t.x, t.y, cx, cy, halfDiag))
				if cell.IsEmpty() {
					break
				}
			}
			if cell.IsEmpty() {
				continue
			}
			cells = append(cells, cell)
		}
	})
	if err != nil {
		return nil, err
	}
	return cells, nil
}

// halfPlane returns a rectangle covering the side of the perpendicular
// bisector of (s, t) that contains s, out far enough to include every
// envelope point on that side.
func (o *Ops) halfPlane(sx, sy, tx, ty, cx, cy, halfDiag float64) *geos.Geom {
	mx, my := (sx+tx)/2, (sy+ty)/2
	ux, uy := tx-sx, ty-sy
	l := math.Hypot(ux, uy)
	ux, uy = ux/l, uy/l
	px, py := -uy, ux

	r := halfDiag + math.Hypot(mx-cx, my-cy) + 1
	return o.Polygon([][]float64{
		{mx + px*r, my + py*r},
		{mx - px*r, my - py*r},
		{mx - px*r - ux*r, my - py*r - uy*r},
		{mx + px*r - ux*r, my + py*r - uy*r},
	})
}

// PointCoords returns the x and y of a point geometry.
func (o *Ops) PointCoords(p *geos.Geom) (x, y float64, err error) {
	err = o.safely("point_coords", func() {
		x, y = p.X(), p.Y()
	})
	return x, y, err
}
