package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
// Configuration errors are fatal at load time, before any computation starts;
// everything else in the pipeline degrades per unit instead.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	// LayerMaxBytes caps the size of one layer message from the source topic.
	LayerMaxBytes int

	// BoundaryPath locates the Township-Range boundary file read at startup.
	BoundaryPath string

	// PartitionCRS is the working planar coordinate reference system. Source
	// layers must declare the same CRS; reprojection happens upstream.
	PartitionCRS string

	// DropRate removes feature columns whose global maximum across all
	// region-year rows falls below it. 0 disables pruning.
	DropRate float64

	// SnapTolerance, when positive, quantizes vertices to this grid before
	// every overlay intersection. When 0, snapping only happens as a retry
	// after a topology failure.
	SnapTolerance float64

	// EnvelopeSelector picks the interpolation envelope: "partition-union"
	// (tight union of the squared regions) or "partition-hull" (convex hull,
	// a wider state-like boundary).
	EnvelopeSelector string

	// YearStart and YearEnd bound the years the output table covers,
	// inclusive.
	YearStart int
	YearEnd   int

	// Workers bounds the per-year worker pool inside the transform stage.
	Workers int

	// UnwantedFeatures are column names removed unconditionally at staging.
	UnwantedFeatures []string
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	layerMaxBytes, err := parseInt("LAYER_MAX_BYTES", 64<<20)
	if err != nil {
		return nil, err
	}
	dropRate, err := parseFloat("DROP_RATE", 0)
	if err != nil {
		return nil, err
	}
	snapTolerance, err := parseFloat("SNAP_TOLERANCE", 0)
	if err != nil {
		return nil, err
	}
	yearStart, err := parseInt("YEAR_START", 2014)
	if err != nil {
		return nil, err
	}
	yearEnd, err := parseInt("YEAR_END", 2021)
	if err != nil {
		return nil, err
	}
	workers, err := parseInt("WORKERS", 4)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:     splitList(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic: envOrDefault("KAFKA_SOURCE_TOPIC", "raw-geo-layers"),
		KafkaSinkTopic:   envOrDefault("KAFKA_SINK_TOPIC", "township-features"),
		KafkaGroupID:     envOrDefault("KAFKA_GROUP_ID", "township-etl"),
		HTTPAddr:         envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,
		LayerMaxBytes:    layerMaxBytes,
		BoundaryPath:     envOrDefault("BOUNDARY_PATH", "data/boundaries.json"),
		PartitionCRS:     envOrDefault("PARTITION_CRS", "EPSG:3347"),
		DropRate:         dropRate,
		SnapTolerance:    snapTolerance,
		EnvelopeSelector: envOrDefault("ENVELOPE_SELECTOR", "partition-union"),
		YearStart:        yearStart,
		YearEnd:          yearEnd,
		Workers:          workers,
		UnwantedFeatures: splitList(os.Getenv("UNWANTED_FEATURES")),
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if cfg.DropRate < 0 || cfg.DropRate > 1 {
		return nil, fmt.Errorf("DROP_RATE must be in [0, 1], got %g", cfg.DropRate)
	}
	if cfg.SnapTolerance < 0 {
		return nil, fmt.Errorf("SNAP_TOLERANCE must be >= 0, got %g", cfg.SnapTolerance)
	}
	if cfg.EnvelopeSelector != "partition-union" && cfg.EnvelopeSelector != "partition-hull" {
		return nil, fmt.Errorf("ENVELOPE_SELECTOR must be partition-union or partition-hull, got %q", cfg.EnvelopeSelector)
	}
	if cfg.YearEnd < cfg.YearStart {
		return nil, fmt.Errorf("YEAR_END %d is before YEAR_START %d", cfg.YearEnd, cfg.YearStart)
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("WORKERS must be >= 1, got %d", cfg.Workers)
	}

	return cfg, nil
}

// Years expands the configured inclusive year range.
func (c *Config) Years() []int {
	years := make([]int, 0, c.YearEnd-c.YearStart+1)
	for y := c.YearStart; y <= c.YearEnd; y++ {
		years = append(years, y)
	}
	return years
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return f, nil
}
