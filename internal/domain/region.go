package domain

import (
	"sort"

	"github.com/twpayne/go-geos"
)

// RegionID identifies one Township-Range cell, e.g. "T11S R20E".
// IDs are stable across the whole pipeline lifetime and used as the join key
// in every downstream table.
type RegionID string

// Region is one squared Township-Range cell: a single simple polygon
// (always a rectangle in the working CRS) with its precomputed area.
// Regions are built once by the partition builder and never mutated.
type Region struct {
	ID       RegionID
	Geometry *geos.Geom
	Area     float64
}

// Partition is the immutable set of analysis regions. It is constructed once
// from the raw boundary layer and passed by reference to every stage; nothing
// downstream writes to it.
type Partition struct {
	crs     string
	ids     []RegionID
	regions map[RegionID]*Region
	total   float64
}

// NewPartition builds a Partition from already-squared regions. Region order
// is normalized by sorting IDs so that iteration, hashing, and output order
// are reproducible run to run.
func NewPartition(crs string, regions []*Region) *Partition {
	p := &Partition{
		crs:     crs,
		ids:     make([]RegionID, 0, len(regions)),
		regions: make(map[RegionID]*Region, len(regions)),
	}
	for _, r := range regions {
		if _, dup := p.regions[r.ID]; dup {
			continue
		}
		p.regions[r.ID] = r
		p.ids = append(p.ids, r.ID)
		p.total += r.Area
	}
	sort.Slice(p.ids, func(i, j int) bool { return p.ids[i] < p.ids[j] })
	return p
}

// CRS returns the coordinate reference system identifier the partition was
// built in. Source layers must declare the same CRS; reprojection is the
// collector's responsibility.
func (p *Partition) CRS() string { return p.crs }

// Region looks up a region by ID.
func (p *Partition) Region(id RegionID) (*Region, bool) {
	r, ok := p.regions[id]
	return r, ok
}

// IDs returns all region IDs in sorted order.
func (p *Partition) IDs() []RegionID { return p.ids }

// Regions returns all regions in sorted ID order.
func (p *Partition) Regions() []*Region {
	out := make([]*Region, 0, len(p.ids))
	for _, id := range p.ids {
		out = append(out, p.regions[id])
	}
	return out
}

// Len returns the number of regions.
func (p *Partition) Len() int { return len(p.ids) }

// TotalArea returns the sum of all region areas. Because squared regions may
// overlap pairwise near shared edges, this can slightly exceed the area of
// the union of the raw boundary shapes.
func (p *Partition) TotalArea() float64 { return p.total }
