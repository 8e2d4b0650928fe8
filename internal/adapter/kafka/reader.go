// Package kafka adapts the pipeline's extract and load boundaries to Kafka
// topics: raw layer envelopes in, flat region-year rows out.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/township-etl/internal/config"
	"github.com/couchcryptid/township-etl/internal/domain"
	"github.com/couchcryptid/township-etl/internal/geometry"
)

// layerEnvelope is the wire format the collector services publish: one
// message per dataset layer, geometries as embedded GeoJSON.
type layerEnvelope struct {
	Dataset        string            `json:"dataset"`
	Kind           string            `json:"kind"`
	CRS            string            `json:"crs"`
	ValueAttr      string            `json:"value_attribute,omitempty"`
	CategoryAttr   string            `json:"category_attribute,omitempty"`
	Prefix         string            `json:"prefix,omitempty"`
	Aggregation    string            `json:"aggregation"`
	ReplicateYears []int             `json:"replicate_years,omitempty"`
	Features       []featureEnvelope `json:"features"`
}

type featureEnvelope struct {
	Geometry   json.RawMessage    `json:"geometry"`
	Year       int                `json:"year"`
	Values     map[string]float64 `json:"values,omitempty"`
	Categories map[string]string  `json:"categories,omitempty"`
}

// Reader consumes layer envelopes from the source topic.
// It implements pipeline.LayerExtractor.
type Reader struct {
	reader *kafkago.Reader
	ops    *geometry.Ops
	logger *slog.Logger
}

// NewReader creates a Kafka consumer for the configured source topic. Layer
// messages are large (a full dataset per message), so MaxBytes comes from
// config rather than the kafka-go default.
func NewReader(cfg *config.Config, ops *geometry.Ops, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaSourceTopic,
		GroupID:  cfg.KafkaGroupID,
		MaxBytes: cfg.LayerMaxBytes,
	})
	return &Reader{reader: r, ops: ops, logger: logger}
}

// Extract blocks until the next decodable layer arrives. Messages that fail
// to decode are committed and skipped so one poison message cannot wedge the
// stream.
func (r *Reader) Extract(ctx context.Context) (domain.RawLayer, error) {
	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			return domain.RawLayer{}, err
		}

		layer, err := r.mapMessageToLayer(msg)
		if err != nil {
			r.logger.Warn("undecodable layer skipped",
				"error", err, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
			if err := r.reader.CommitMessages(ctx, msg); err != nil {
				r.logger.Warn("commit of skipped message failed", "error", err)
			}
			continue
		}
		return layer, nil
	}
}

// mapMessageToLayer decodes one envelope, including every feature geometry.
// A feature with an undecodable geometry invalidates the whole message; the
// collector publishes layers atomically, so a half-decoded layer would
// silently bias area fractions.
func (r *Reader) mapMessageToLayer(msg kafkago.Message) (domain.RawLayer, error) {
	var env layerEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return domain.RawLayer{}, fmt.Errorf("parse layer envelope: %w", err)
	}
	if env.Dataset == "" {
		return domain.RawLayer{}, fmt.Errorf("layer envelope missing dataset")
	}

	obs := make([]domain.Observation, 0, len(env.Features))
	for i, f := range env.Features {
		g, err := r.ops.GeomFromGeoJSON(string(f.Geometry))
		if err != nil {
			return domain.RawLayer{}, fmt.Errorf("feature %d of %s: %w", i, env.Dataset, err)
		}
		obs = append(obs, domain.Observation{
			Geometry:   g,
			Year:       f.Year,
			Values:     f.Values,
			Categories: f.Categories,
		})
	}

	return domain.RawLayer{
		Dataset:        env.Dataset,
		Kind:           domain.LayerKind(env.Kind),
		CRS:            env.CRS,
		ValueAttr:      env.ValueAttr,
		CategoryAttr:   env.CategoryAttr,
		Prefix:         env.Prefix,
		Aggregation:    env.Aggregation,
		ReplicateYears: env.ReplicateYears,
		Observations:   obs,
		Topic:          msg.Topic,
		Partition:      msg.Partition,
		Offset:         msg.Offset,
		Commit: func(ctx context.Context) error {
			return r.reader.CommitMessages(ctx, msg)
		},
	}, nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}
