package domain

import "fmt"

// DegenerateRegionError reports a region whose raw boundary group resolves to
// no usable vertices. The region is dropped from the partition; the rest of
// the build continues.
type DegenerateRegionError struct {
	RegionID RegionID
}

func (e *DegenerateRegionError) Error() string {
	return fmt.Sprintf("region %q has no usable vertices", e.RegionID)
}

// TopologyError reports a geometry operation that failed from numerical
// degeneracy (typically non-noded intersections between near-coincident
// boundaries). Recoverable by retrying with precision snapping; if the retry
// fails too, the offending fragment is skipped and logged.
type TopologyError struct {
	Op       string
	RegionID RegionID
	Year     int
	Cause    error
}

func (e *TopologyError) Error() string {
	if e.RegionID != "" {
		return fmt.Sprintf("geometry op %s failed for region %q year %d: %v", e.Op, e.RegionID, e.Year, e.Cause)
	}
	return fmt.Sprintf("geometry op %s failed: %v", e.Op, e.Cause)
}

func (e *TopologyError) Unwrap() error { return e.Cause }

// MissingAttributeError reports a source record that lacks a required scalar
// or categorical value. The record is excluded from aggregation for that
// feature only.
type MissingAttributeError struct {
	Attribute string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("record is missing attribute %q", e.Attribute)
}

// EmptyEnvelopeError reports an interpolation year with zero observations.
// Every region gets no-data for that year; the run continues.
type EmptyEnvelopeError struct {
	Year int
}

func (e *EmptyEnvelopeError) Error() string {
	return fmt.Sprintf("no observations to interpolate for year %d", e.Year)
}
