package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/township-etl/internal/adapter/boundary"
	httpadapter "github.com/couchcryptid/township-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/township-etl/internal/adapter/kafka"
	"github.com/couchcryptid/township-etl/internal/config"
	"github.com/couchcryptid/township-etl/internal/geometry"
	"github.com/couchcryptid/township-etl/internal/observability"
	"github.com/couchcryptid/township-etl/internal/partition"
	"github.com/couchcryptid/township-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	ops := geometry.NewOps()

	// Build the Township-Range partition before touching Kafka. A service
	// without a usable partition has nothing to aggregate onto.
	crs, raw, err := boundary.Load(ops, cfg.BoundaryPath)
	if err != nil {
		logger.Error("failed to load boundary file", "path", cfg.BoundaryPath, "error", err)
		os.Exit(1)
	}
	if crs != cfg.PartitionCRS {
		logger.Error("boundary file CRS does not match PARTITION_CRS",
			"file_crs", crs, "configured_crs", cfg.PartitionCRS)
		os.Exit(1)
	}

	result := partition.NewBuilder(ops, logger).Build(crs, raw)
	metrics.DegenerateRegions.Add(float64(len(result.Degenerate)))
	if result.Partition.Len() == 0 {
		logger.Error("no usable regions in boundary file",
			"degenerate", len(result.Degenerate), "failed", len(result.Failed))
		os.Exit(1)
	}
	engine, err := pipeline.NewEngine(ops, result.Partition, pipeline.EngineConfig{
		Years:            cfg.Years(),
		DropRate:         cfg.DropRate,
		SnapTolerance:    cfg.SnapTolerance,
		EnvelopeSelector: cfg.EnvelopeSelector,
		Workers:          cfg.Workers,
		UnwantedFeatures: cfg.UnwantedFeatures,
	}, logger, metrics)
	if err != nil {
		logger.Error("failed to build transform engine", "error", err)
		os.Exit(1)
	}

	reader := kafkaadapter.NewReader(cfg, ops, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)

	p := pipeline.New(reader, engine, writer, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, result.Partition, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ETL pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}
