// Package pipeline orchestrates the extract-transform-load loop over raw
// geospatial layers.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/township-etl/internal/domain"
	"github.com/couchcryptid/township-etl/internal/observability"
)

// LayerExtractor blocks until the next raw layer is available from the source.
type LayerExtractor interface {
	Extract(ctx context.Context) (domain.RawLayer, error)
}

// Transformer converts one raw layer into region-year output rows.
type Transformer interface {
	Transform(ctx context.Context, layer domain.RawLayer) ([]domain.RegionYearRecord, error)
}

// BatchLoader writes output rows to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, records []domain.RegionYearRecord) error
}

// Pipeline orchestrates the extract-transform-load loop.
type Pipeline struct {
	extractor   LayerExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
}

// New creates a Pipeline with the given stages and observability.
func New(e LayerExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
	}
}

// CheckReadiness returns nil if the pipeline has processed at least one
// layer, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any layers yet")
	}
	return nil
}

// Run executes the ETL loop until the context is cancelled or a
// configuration-level error (CRS mismatch, invalid aggregation mode) is
// encountered. Per-unit failures inside a layer never reach here; they are
// isolated and reported by the transformer.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started")
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	// Keeps retry storms short while avoiding tight loops during broker outages.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		cont, err := p.processLayer(ctx, &backoff, maxBackoff)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
}

// processLayer runs one extract-transform-load cycle. Returns false if the
// pipeline should stop, and a non-nil error only for fatal configuration
// errors.
func (p *Pipeline) processLayer(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) (bool, error) {
	start := time.Now()

	layer, err := p.extractor.Extract(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		p.logger.Error("extract layer failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff), nil
	}

	p.metrics.LayersConsumed.Inc()
	p.metrics.LayerObservations.Observe(float64(len(layer.Observations)))
	*backoff = 200 * time.Millisecond

	records, err := p.transformer.Transform(ctx, layer)
	if err != nil {
		// A transform interrupted by shutdown is not a poison layer: leave
		// the offset uncommitted so the layer is redelivered on restart.
		if ctx.Err() != nil {
			return false, nil
		}
		if IsFatal(err) {
			p.logger.Error("fatal configuration error", "dataset", layer.Dataset, "error", err)
			return false, err
		}
		p.logger.Warn("transform failed, skipping layer",
			"error", err,
			"dataset", layer.Dataset,
			"topic", layer.Topic,
			"partition", layer.Partition,
			"offset", layer.Offset,
		)
		p.metrics.TransformErrors.Inc()
		p.commitOffset(ctx, layer)
		return true, nil
	}

	if err := p.loader.LoadBatch(ctx, records); err != nil {
		p.logger.Error("load batch failed", "error", err, "dataset", layer.Dataset, "records", len(records))
		return p.backoffOrStop(ctx, backoff, maxBackoff), nil
	}

	p.metrics.RecordsProduced.Add(float64(len(records)))
	p.commitOffset(ctx, layer)

	p.logger.Info("layer processed",
		"dataset", layer.Dataset,
		"observations", len(layer.Observations),
		"records", len(records),
		"duration", time.Since(start),
	)
	p.ready.Store(true)
	return true, nil
}

// backoffOrStop checks for context cancellation, sleeps with the current
// backoff, and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the layer's offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, layer domain.RawLayer) {
	if layer.Commit == nil {
		return
	}
	if err := layer.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", layer.Topic, "partition", layer.Partition, "offset", layer.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
