package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// spatial ETL pipeline.
type Metrics struct {
	LayersConsumed  prometheus.Counter
	RecordsProduced prometheus.Counter
	TransformErrors prometheus.Counter
	PipelineRunning prometheus.Gauge

	// Geometry engine metrics.
	FragmentsEmitted  prometheus.Counter
	SnapRetries       prometheus.Counter
	SkippedUnits      *prometheus.CounterVec // labels: stage={partition,interpolate,overlay,aggregate}
	DegenerateRegions prometheus.Counter
	EmptyYears        prometheus.Counter

	// Per-stage timing.
	StageDuration     *prometheus.HistogramVec // labels: stage
	LayerObservations prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		LayersConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "township_etl",
			Name:      "layers_consumed_total",
			Help:      "Total raw layers read from the source topic.",
		}),
		RecordsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "township_etl",
			Name:      "records_produced_total",
			Help:      "Total region-year rows written to the sink topic.",
		}),
		TransformErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "township_etl",
			Name:      "transform_errors_total",
			Help:      "Total layers that failed transformation entirely.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "township_etl",
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		FragmentsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "township_etl",
			Name:      "fragments_emitted_total",
			Help:      "Total non-empty source-polygon/region intersections.",
		}),
		SnapRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "township_etl",
			Name:      "snap_retries_total",
			Help:      "Intersections retried with precision snapping after a topology failure.",
		}),
		SkippedUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "township_etl",
			Name:      "skipped_units_total",
			Help:      "Per-unit failures isolated from the run, by stage.",
		}, []string{"stage"}),
		DegenerateRegions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "township_etl",
			Name:      "degenerate_regions_total",
			Help:      "Boundary groups with no usable vertices, dropped from the partition.",
		}),
		EmptyYears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "township_etl",
			Name:      "empty_interpolation_years_total",
			Help:      "Interpolation years with zero reporting stations.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "township_etl",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage per layer.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		LayerObservations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "township_etl",
			Name:      "layer_observations",
			Help:      "Number of observations per consumed layer.",
			Buckets:   []float64{10, 100, 1000, 10000, 50000, 100000, 500000},
		}),
	}

	prometheus.MustRegister(
		m.LayersConsumed,
		m.RecordsProduced,
		m.TransformErrors,
		m.PipelineRunning,
		m.FragmentsEmitted,
		m.SnapRetries,
		m.SkippedUnits,
		m.DegenerateRegions,
		m.EmptyYears,
		m.StageDuration,
		m.LayerObservations,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		LayersConsumed:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "township_etl", Name: "layers_consumed_total"}),
		RecordsProduced:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "township_etl", Name: "records_produced_total"}),
		TransformErrors:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "township_etl", Name: "transform_errors_total"}),
		PipelineRunning:   prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "township_etl", Name: "pipeline_running"}),
		FragmentsEmitted:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "township_etl", Name: "fragments_emitted_total"}),
		SnapRetries:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "township_etl", Name: "snap_retries_total"}),
		SkippedUnits:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "township_etl", Name: "skipped_units_total"}, []string{"stage"}),
		DegenerateRegions: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "township_etl", Name: "degenerate_regions_total"}),
		EmptyYears:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "township_etl", Name: "empty_interpolation_years_total"}),
		StageDuration:     prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "township_etl", Name: "stage_duration_seconds"}, []string{"stage"}),
		LayerObservations: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "township_etl", Name: "layer_observations"}),
	}
}
