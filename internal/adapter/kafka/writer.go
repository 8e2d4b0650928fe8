package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/township-etl/internal/config"
	"github.com/couchcryptid/township-etl/internal/domain"
)

// Writer produces region-year rows to a Kafka topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch serializes and publishes the rows of one processed layer to the
// sink topic in a single WriteMessages call for efficiency.
func (w *Writer) LoadBatch(ctx context.Context, records []domain.RegionYearRecord) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(records))
	for i := range records {
		msg, err := serializeToMessage(records[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a RegionYearRecord into a Kafka message. The
// key is region|year so compacted downstream topics keep the latest row per
// cell of the grid.
func serializeToMessage(record domain.RegionYearRecord) (kafkago.Message, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize region-year record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(fmt.Sprintf("%s|%d", record.RegionID, record.Year)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "year", Value: []byte(fmt.Sprintf("%d", record.Year))},
			{Key: "processed_at", Value: []byte(record.ProcessedAt.Format(time.RFC3339))},
		},
	}, nil
}
