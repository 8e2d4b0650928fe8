package domain

import (
	"context"
	"time"

	"github.com/twpayne/go-geos"
)

// LayerKind distinguishes the two geometry shapes a raw layer may carry.
type LayerKind string

const (
	LayerKindPolygon LayerKind = "polygon"
	LayerKindPoint   LayerKind = "point"
)

// Observation is one record of a raw input layer: a geometry (point or
// polygon), the year it was measured, and open-ended attribute maps.
// Observations are transient; transformations produce new collections rather
// than mutating in place.
type Observation struct {
	Geometry   *geos.Geom
	Year       int
	Values     map[string]float64
	Categories map[string]string
}

// Value returns the named numeric attribute, or a MissingAttributeError if
// the record does not carry it.
func (o *Observation) Value(name string) (float64, error) {
	v, ok := o.Values[name]
	if !ok {
		return 0, &MissingAttributeError{Attribute: name}
	}
	return v, nil
}

// Category returns the named categorical attribute, or a
// MissingAttributeError if the record does not carry it or it is empty.
func (o *Observation) Category(name string) (string, error) {
	c, ok := o.Categories[name]
	if !ok || c == "" {
		return "", &MissingAttributeError{Attribute: name}
	}
	return c, nil
}

// RawLayer is the unit of work handed to the pipeline by the collector: one
// dataset's observations for one or more years, plus the per-dataset mapping
// configuration that the core itself stays generic about.
type RawLayer struct {
	// Dataset names the source (e.g. "crops", "precipitation") and is used
	// in logs and metrics.
	Dataset string
	// Kind selects the processing route: point layers pass through areal
	// interpolation or counting, polygon layers go straight to overlay.
	Kind LayerKind
	// CRS must match the partition CRS; a mismatch is fatal for the run.
	CRS string
	// ValueAttr names the scalar attribute to aggregate, if any.
	ValueAttr string
	// CategoryAttr names the categorical attribute to compose, if any.
	CategoryAttr string
	// Prefix is prepended to pivoted feature columns (e.g. "CROP").
	Prefix string
	// Aggregation selects the scalar aggregation mode; parsed and validated
	// before any computation starts.
	Aggregation string
	// ReplicateYears copies a single-survey layer (e.g. a 2016 soil survey)
	// to each listed year before overlay.
	ReplicateYears []int
	// Observations carries the records themselves.
	Observations []Observation

	// Source topic bookkeeping, set by the transport adapter.
	Topic     string
	Partition int
	Offset    int64
	Commit    func(ctx context.Context) error
}

// RegionYearKey keys every aggregate produced by the pipeline.
type RegionYearKey struct {
	RegionID RegionID
	Year     int
}

// AreaFragment is one non-empty intersection between a source polygon and a
// region. It keeps a reference to its source observation so attribute
// extraction failures can be isolated per record.
type AreaFragment struct {
	RegionID RegionID
	Geometry *geos.Geom
	Year     int
	Source   *Observation
	// Area is the fragment's own area in the working CRS.
	Area float64
	// AreaFraction is Area divided by the owning region's area. Always >= 0;
	// fractions for one source layer within a (region, year) group sum to at
	// most 1 plus the documented overlap tolerance.
	AreaFraction float64
}

// CompositionRow is the long-form output of categorical aggregation, one row
// per (region, year, category). Value holds an area fraction for composition
// layers and a count for counted point layers; the pivot is shared.
type CompositionRow struct {
	RegionID RegionID
	Year     int
	Category string
	Value    float64
}

// FeatureValue is a scalar cell that distinguishes zero from absent.
// The zero value is "no data".
type FeatureValue struct {
	Value float64
	Valid bool
}

// NoData is the explicit missing marker.
var NoData = FeatureValue{}

// Float wraps a concrete scalar as a valid FeatureValue.
func Float(v float64) FeatureValue { return FeatureValue{Value: v, Valid: true} }

// RegionYearRecord is one output row: every retained feature for one region
// and year. Missing features are nil, not absent, so downstream imputation
// sees the gap.
type RegionYearRecord struct {
	RegionID    RegionID            `json:"region_id"`
	Year        int                 `json:"year"`
	Features    map[string]*float64 `json:"features"`
	ProcessedAt time.Time           `json:"processed_at"`
}
