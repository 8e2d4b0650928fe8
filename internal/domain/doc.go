// Package domain models the spatial units and records of the Township-Range
// feature ETL.
//
// # Township-Range grid
//
// The analysis partition is the Public Land Survey System (PLSS)
// Township-Range grid: nominally six-by-six-mile survey squares identified by
// a township/range pair such as "T11S R20E". Source boundary files represent
// one township as several adjacent or disjoint polygons, often with slivers
// and holes, and townships at the edge of the area of interest are truncated.
// [Region] holds the cleaned, squared form: exactly one rectangle per
// township, produced once per run and shared read-only by every stage.
//
// # Observations and layers
//
// Raw layers are heterogeneous: crop and soil surveys are polygon layers with
// categorical attributes, precipitation and groundwater stations are point
// layers with one scalar per station per year, well completion reports are
// point layers that are counted rather than measured. All of them are carried
// as the generic [Observation]: a geometry, a year, and open-ended numeric and
// categorical attribute maps. Dataset-specific column naming lives in the
// layer envelope supplied by the collector, not in per-dataset types.
//
// # Area bookkeeping
//
// Overlaying a layer onto the partition cuts each source polygon against the
// regions it touches. Every non-empty cut is an [AreaFragment] whose
// AreaFraction is the fragment's area divided by its region's area. For one
// source layer the fractions within a (region, year) group sum to at most
// 1 plus a small tolerance: squared regions may overlap slightly along shared
// edges, and that double counting is accepted rather than reconciled.
//
// # Missing data
//
// The output guarantees one row per (region, year) pair observed in any
// layer. A continuous feature with no supporting fragments is an explicit
// no-data value ([FeatureValue] with Valid false), never a silently dropped
// row; count-type features default to zero. Imputation is a downstream
// concern.
package domain
